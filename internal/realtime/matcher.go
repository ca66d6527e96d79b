package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/pscheid92/jobpulse/internal/domain"
)

const (
	matchThreshold        = 0.5
	profileLookupTimeout  = 2 * time.Second
	breakerOpenDuration   = 30 * time.Second
	breakerMinRequests    = 5
	breakerFailureRatio   = 0.6
	breakerHalfOpenCalls  = 1
)

// JobMatcher decides per recipient whether a new job is relevant to their skills.
type JobMatcher struct {
	profiles domain.ProfileStore
	cb       *gobreaker.CircuitBreaker
}

func NewJobMatcher(profiles domain.ProfileStore) *JobMatcher {
	settings := gobreaker.Settings{
		Name:        "profile-store",
		MaxRequests: breakerHalfOpenCalls,
		Interval:    10 * time.Second,
		Timeout:     breakerOpenDuration,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < breakerMinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= breakerFailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Circuit breaker state changed", "component", name, "from", from.String(), "to", to.String())
		},
	}
	return &JobMatcher{profiles: profiles, cb: gobreaker.NewCircuitBreaker(settings)}
}

// Matches reports whether userID holds at least half of the job's required skills.
// Lookup failures yield false; they never block delivery.
func (m *JobMatcher) Matches(ctx context.Context, userID domain.UserID, job domain.JobSummary) bool {
	skills, err := m.skills(ctx, userID)
	if err != nil {
		slog.DebugContext(ctx, "Skill lookup failed, treating as no match", "user_id", userID, "job_id", job.ID, "error", err)
		return false
	}
	return SkillsMatch(job.RequiredSkills, skills)
}

// Augment returns the per-recipient builder used for new_job broadcasts:
// it adds a "matches" flag to the payload.
func (m *JobMatcher) Augment(job domain.JobSummary) domain.AugmentFunc {
	return func(ctx context.Context, recipient domain.UserID, env domain.Envelope) (domain.Envelope, error) {
		return env.WithPayloadField("matches", m.Matches(ctx, recipient, job))
	}
}

func (m *JobMatcher) skills(ctx context.Context, userID domain.UserID) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, profileLookupTimeout)
	defer cancel()

	result, err := m.cb.Execute(func() (any, error) {
		skills, err := m.profiles.GetSkills(ctx, userID)
		if errors.Is(err, domain.ErrProfileNotFound) {
			return []string(nil), nil
		}
		return skills, err
	})
	if err != nil {
		return nil, fmt.Errorf("get skills for %s: %w", userID, err)
	}
	skills, _ := result.([]string)
	return skills, nil
}

// SkillsMatch reports whether have covers at least half of required.
// Comparison trims whitespace and ignores case and duplicates. A recipient without
// skills never matches; otherwise an empty requirement is trivially covered.
func SkillsMatch(required, have []string) bool {
	owned := normalizeSkills(have)
	if len(owned) == 0 {
		return false
	}

	req := normalizeSkills(required)
	overlap := 0
	for skill := range req {
		if _, ok := owned[skill]; ok {
			overlap++
		}
	}
	return float64(overlap) >= matchThreshold*float64(len(req))
}

func normalizeSkills(skills []string) map[string]struct{} {
	set := make(map[string]struct{}, len(skills))
	for _, s := range skills {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			set[s] = struct{}{}
		}
	}
	return set
}
