package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, display_name, password_hash, role, created_at, updated_at
		FROM users
		WHERE email = LOWER($1) AND deactivated_at IS NULL
	`, email).Scan(&user.ID, &user.Email, &user.DisplayName, &user.PasswordHash, &user.Role, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, display_name, password_hash, role, created_at, updated_at
		FROM users
		WHERE id = $1 AND deactivated_at IS NULL
	`, userID).Scan(&user.ID, &user.Email, &user.DisplayName, &user.PasswordHash, &user.Role, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, display_name, password_hash, role)
		VALUES ($1, LOWER($2), $3, $4, $5)
	`, user.ID, user.Email, user.DisplayName, user.PasswordHash, user.Role)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users SET password_hash=$2, updated_at=NOW() WHERE id=$1
	`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) CountUsers(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE deactivated_at IS NULL`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (token, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token) DO NOTHING
	`, token, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("create password reset: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM password_resets
		WHERE token=$1 AND used_at IS NULL AND expires_at > NOW()
	`, token).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *PostgresStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE password_resets SET used_at=NOW() WHERE token=$1`, token)
	if err != nil {
		return fmt.Errorf("mark password reset used: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertContactMessage(ctx context.Context, message ContactMessage) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO contact_messages (id, name, email, phone, message, status)
		VALUES ($1, $2, $3, $4, $5, 'new')
	`, message.ID, message.Name, message.Email, message.Phone, message.Message)
	if err != nil {
		return fmt.Errorf("insert contact message: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListContactMessages(ctx context.Context, status string) ([]ContactMessage, error) {
	query := `
		SELECT id, name, email, phone, message, status, created_at
		FROM contact_messages
	`
	args := []any{}
	if status != "" {
		query += ` WHERE status=$1`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list contact messages: %w", err)
	}
	defer rows.Close()

	items := make([]ContactMessage, 0)
	for rows.Next() {
		var item ContactMessage
		if err := rows.Scan(&item.ID, &item.Name, &item.Email, &item.Phone, &item.Message, &item.Status, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan contact message: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contact messages: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateContactMessageStatus(ctx context.Context, messageID, status string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE contact_messages SET status=$2 WHERE id=$1
	`, messageID, status)
	if err != nil {
		return fmt.Errorf("update contact message: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) InsertContentBackup(ctx context.Context, backup ContentBackup) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO content_backups (version, snapshot, note, created_by)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, backup.Version, backup.Snapshot, backup.Note, backup.CreatedBy).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert content backup: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) ListContentBackups(ctx context.Context, limit int) ([]ContentBackup, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, version, note, created_by, created_at
		FROM content_backups
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list content backups: %w", err)
	}
	defer rows.Close()

	items := make([]ContentBackup, 0)
	for rows.Next() {
		var item ContentBackup
		if err := rows.Scan(&item.ID, &item.Version, &item.Note, &item.CreatedBy, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan content backup: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate content backups: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetContentBackup(ctx context.Context, id int64) (ContentBackup, error) {
	var item ContentBackup
	err := s.db.QueryRowContext(ctx, `
		SELECT id, version, snapshot, note, created_by, created_at
		FROM content_backups
		WHERE id=$1
	`, id).Scan(&item.ID, &item.Version, &item.Snapshot, &item.Note, &item.CreatedBy, &item.CreatedAt)
	if err != nil {
		return ContentBackup{}, err
	}
	return item, nil
}
