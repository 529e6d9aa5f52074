package db

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"animefinder/internal/models"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate entry")
)

const idRandomBytes = 16

// UserRepository persists accounts. Username and email uniqueness is enforced
// by the store's unique indexes, not by application-level checks, so
// concurrent inserts of the same username cannot both succeed.
type UserRepository struct {
	db *DB
}

func NewUserRepository(db *DB) *UserRepository {
	return &UserRepository{db: db}
}

type CreateUserParams struct {
	Username           string
	Email              string
	PasswordHash       string
	SecurityQuestion   *string
	SecurityAnswerHash *string
}

func (r *UserRepository) Create(ctx context.Context, params CreateUserParams) (*models.User, error) {
	id, err := generateID("usr")
	if err != nil {
		return nil, fmt.Errorf("generating user ID: %w", err)
	}
	now := time.Now().UTC()

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO users (id, username, email, password_hash, security_question, security_answer_hash, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, params.Username, params.Email, params.PasswordHash,
		params.SecurityQuestion, params.SecurityAnswerHash, now,
	)
	if err != nil {
		if IsUniqueConstraintError(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("creating user: %w", err)
	}

	return &models.User{
		ID:                 id,
		Username:           params.Username,
		Email:              params.Email,
		PasswordHash:       params.PasswordHash,
		SecurityQuestion:   params.SecurityQuestion,
		SecurityAnswerHash: params.SecurityAnswerHash,
		CreatedAt:          now,
	}, nil
}

func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	return r.findOne(ctx, `SELECT id, username, email, password_hash, security_question, security_answer_hash, avatar_url, created_at, updated_at FROM users WHERE id = ?`, id)
}

func (r *UserRepository) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	return r.findOne(ctx, `SELECT id, username, email, password_hash, security_question, security_answer_hash, avatar_url, created_at, updated_at FROM users WHERE username = ?`, username)
}

func (r *UserRepository) UpdateAvatar(ctx context.Context, id, avatarURL string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET avatar_url = ?, updated_at = ? WHERE id = ?`,
		avatarURL, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("updating avatar: %w", err)
	}
	return checkRowsAffected(result)
}

func (r *UserRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`,
		passwordHash, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("updating password: %w", err)
	}
	return checkRowsAffected(result)
}

func (r *UserRepository) findOne(ctx context.Context, query string, args ...any) (*models.User, error) {
	var u models.User
	var question, answerHash, avatar sql.NullString
	var updatedAt sql.NullTime

	err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&u.ID,
		&u.Username,
		&u.Email,
		&u.PasswordHash,
		&question,
		&answerHash,
		&avatar,
		&u.CreatedAt,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}

	u.SecurityQuestion = nullStringToPtr(question)
	u.SecurityAnswerHash = nullStringToPtr(answerHash)
	u.Avatar = nullStringToPtr(avatar)
	u.UpdatedAt = nullTimeToPtr(updatedAt)

	return &u, nil
}

func generateID(prefix string) (string, error) {
	b := make([]byte, idRandomBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return prefix + "_" + hex.EncodeToString(b), nil
}
