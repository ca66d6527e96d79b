package domain

import "context"

// JobSummary is the part of a job record the match filter needs.
type JobSummary struct {
	ID             string   `json:"id"`
	Title          string   `json:"title,omitempty"`
	RequiredSkills []string `json:"required_skills"`
}

// ProfileStore answers the one question the delivery service asks the profile database.
// Returns ErrProfileNotFound when the user has no profile.
type ProfileStore interface {
	GetSkills(ctx context.Context, userID UserID) ([]string, error)
}

// JobMatchAugmenter builds the per-recipient envelope for a new job broadcast.
type JobMatchAugmenter interface {
	Augment(job JobSummary) AugmentFunc
}

// ProfileInvalidator drops any cached copy of a user's skills.
type ProfileInvalidator interface {
	InvalidateProfile(ctx context.Context, userID UserID) error
}
