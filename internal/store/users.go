package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aristath/tradebot/internal/database"
	"github.com/aristath/tradebot/internal/domain"
)

// UserRepository persists domain.User rows, indexed by chat_id (§4.5).
type UserRepository struct {
	db    *database.DB
	cache *readCache
}

func (r *UserRepository) cacheKey(userID string) string { return "user:" + userID }

// Create inserts a new user. chat_id must be unique (spec invariant).
func (r *UserRepository) Create(ctx context.Context, u domain.User) error {
	var managerID any
	if u.AssignedManagerID != nil {
		managerID = *u.AssignedManagerID
	}

	var quietStart, quietEnd any
	if u.QuietHoursStartUTC != nil {
		quietStart = *u.QuietHoursStartUTC
	}
	if u.QuietHoursEndUTC != nil {
		quietEnd = *u.QuietHoursEndUTC
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (user_id, chat_id, display_name, role, assigned_manager_id, status, quiet_hours_start, quiet_hours_end, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.UserID, u.ChatID, u.DisplayName, string(u.Role), managerID, string(u.Status),
		quietStart, quietEnd, timeToCol(u.CreatedAt), timeToCol(u.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// Get fetches a user by id, through the read-through cache.
func (r *UserRepository) Get(ctx context.Context, userID string) (*domain.User, error) {
	if cached, ok := r.cache.get(r.cacheKey(userID)); ok {
		u := cached.(domain.User)
		return &u, nil
	}

	row := r.db.QueryRowContext(ctx, `
		SELECT user_id, chat_id, display_name, role, assigned_manager_id, status, quiet_hours_start, quiet_hours_end, created_at, updated_at
		FROM users WHERE user_id = ?`, userID)

	u, err := scanUser(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, &domain.NotFoundError{Kind: "user", ID: userID}
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	r.cache.set(r.cacheKey(userID), *u)
	return u, nil
}

// GetByChatID looks up a user by their external chat id.
func (r *UserRepository) GetByChatID(ctx context.Context, chatID string) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT user_id, chat_id, display_name, role, assigned_manager_id, status, quiet_hours_start, quiet_hours_end, created_at, updated_at
		FROM users WHERE chat_id = ?`, chatID)

	u, err := scanUser(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, &domain.NotFoundError{Kind: "user", ID: chatID}
		}
		return nil, fmt.Errorf("get user by chat id: %w", err)
	}
	return u, nil
}

// UpdateRole changes a user's role; role transitions are audit-logged by
// the caller (the repository itself only persists the new state).
func (r *UserRepository) UpdateRole(ctx context.Context, userID string, role domain.Role) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET role = ?, updated_at = ? WHERE user_id = ?`,
		string(role), timeToCol(time.Now()), userID,
	)
	if err != nil {
		return fmt.Errorf("update user role: %w", err)
	}
	r.cache.invalidate(r.cacheKey(userID))
	return nil
}

// SetQuietHours updates a user's notification suppression window. Passing
// nil for both clears it.
func (r *UserRepository) SetQuietHours(ctx context.Context, userID string, startUTC, endUTC *int) error {
	var start, end any
	if startUTC != nil {
		start = *startUTC
	}
	if endUTC != nil {
		end = *endUTC
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET quiet_hours_start = ?, quiet_hours_end = ?, updated_at = ? WHERE user_id = ?`,
		start, end, timeToCol(time.Now()), userID,
	)
	if err != nil {
		return fmt.Errorf("set quiet hours: %w", err)
	}
	r.cache.invalidate(r.cacheKey(userID))
	return nil
}

func scanUser(row *sql.Row) (*domain.User, error) {
	var u domain.User
	var roleStr, statusStr, createdAt, updatedAt string
	var managerID sql.NullString
	var quietStart, quietEnd sql.NullInt64

	if err := row.Scan(&u.UserID, &u.ChatID, &u.DisplayName, &roleStr, &managerID, &statusStr, &quietStart, &quietEnd, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	u.Role = domain.Role(roleStr)
	u.Status = domain.UserStatus(statusStr)
	if managerID.Valid {
		u.AssignedManagerID = &managerID.String
	}
	if quietStart.Valid {
		v := int(quietStart.Int64)
		u.QuietHoursStartUTC = &v
	}
	if quietEnd.Valid {
		v := int(quietEnd.Int64)
		u.QuietHoursEndUTC = &v
	}

	var err error
	if u.CreatedAt, err = colToTime(createdAt); err != nil {
		return nil, err
	}
	if u.UpdatedAt, err = colToTime(updatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}
