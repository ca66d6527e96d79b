package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pscheid92/jobpulse/internal/domain"
)

type ProfileRepo struct {
	pool *pgxpool.Pool
}

var _ domain.ProfileStore = (*ProfileRepo)(nil)

func NewProfileRepo(pool *pgxpool.Pool) *ProfileRepo {
	return &ProfileRepo{pool: pool}
}

func (r *ProfileRepo) GetSkills(ctx context.Context, userID domain.UserID) ([]string, error) {
	var skills []string
	err := r.pool.QueryRow(ctx,
		`SELECT skills FROM profiles WHERE user_id = $1`,
		userID.String(),
	).Scan(&skills)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile skills: %w", err)
	}
	return skills, nil
}
