package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-review-api/internal/models"
)

// UserRepository reads the identity data the review policy depends on.
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new instance of UserRepository.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// FindByID returns a user by identifier.
func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	const query = `SELECT id, email, full_name, role, home_class_id, active, created_at, updated_at FROM users WHERE id = $1 LIMIT 1`
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find user by id: %w", err)
	}
	return &user, nil
}

// IsHeadTeacherHomeClass reports whether any active head teacher leads classID.
func (r *UserRepository) IsHeadTeacherHomeClass(ctx context.Context, classID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM users WHERE role = $1 AND home_class_id = $2 AND active)`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, string(models.RoleHeadTeacher), classID); err != nil {
		return false, fmt.Errorf("check head teacher home class: %w", err)
	}
	return exists, nil
}

// ListByRoles returns active users holding any of roles, ordered by name.
func (r *UserRepository) ListByRoles(ctx context.Context, roles []models.UserRole) ([]models.User, error) {
	if len(roles) == 0 {
		return []models.User{}, nil
	}
	args := make([]interface{}, len(roles))
	for i, role := range roles {
		args[i] = string(role)
	}
	query, args, err := sqlx.In(`SELECT id, email, full_name, role, home_class_id, active, created_at, updated_at
	FROM users WHERE active AND role IN (?) ORDER BY full_name`, args)
	if err != nil {
		return nil, fmt.Errorf("build role query: %w", err)
	}
	var users []models.User
	if err := r.db.SelectContext(ctx, &users, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list users by role: %w", err)
	}
	return users, nil
}
