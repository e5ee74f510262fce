package storage

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/apptdesk/libs/db"
)

const (
	RoleCustomer = "customer"
	RoleOwner    = "owner"
)

var ErrNotFound = errors.New("not found")

//go:embed schema.sql
var schema string

type User struct {
	ID         string
	BusinessID string
	Email      string
	Role       string
	CreatedAt  time.Time
}

type UserRepository struct {
	db db.TxBeginner
}

func NewUserRepository(conn db.TxBeginner) *UserRepository {
	return &UserRepository{db: conn}
}

func (r *UserRepository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.db.Begin(ctx)
}

// Migrate applies the idempotent schema for users, refresh tokens and the outbox.
func (r *UserRepository) Migrate(ctx context.Context) error {
	_, err := r.db.Exec(ctx, schema)
	return err
}

// GetOrCreate returns the user for (businessID, email), inserting it with role
// when absent. created reports whether this call inserted the row.
func (r *UserRepository) GetOrCreate(ctx context.Context, tx db.DBTX, businessID, email, role string) (User, bool, error) {
	user := User{ID: uuid.NewString(), BusinessID: businessID, Email: email, Role: role}
	err := tx.QueryRow(ctx, `
		INSERT INTO users (id, business_id, email, role)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (business_id, email) DO NOTHING
		RETURNING created_at
	`, user.ID, user.BusinessID, user.Email, user.Role).Scan(&user.CreatedAt)
	if err == nil {
		return user, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return User{}, false, fmt.Errorf("insert user: %w", err)
	}

	existing, err := r.getByEmail(ctx, tx, businessID, email)
	if err != nil {
		return User{}, false, err
	}
	return existing, false, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (User, error) {
	var user User
	err := r.db.QueryRow(ctx, `
		SELECT id, business_id, email, role, created_at
		FROM users
		WHERE id = $1
	`, id).Scan(&user.ID, &user.BusinessID, &user.Email, &user.Role, &user.CreatedAt)
	if err != nil {
		return User{}, notFound(err)
	}
	return user, nil
}

func (r *UserRepository) getByEmail(ctx context.Context, q db.DBTX, businessID, email string) (User, error) {
	var user User
	err := q.QueryRow(ctx, `
		SELECT id, business_id, email, role, created_at
		FROM users
		WHERE business_id = $1 AND email = $2
	`, businessID, email).Scan(&user.ID, &user.BusinessID, &user.Email, &user.Role, &user.CreatedAt)
	if err != nil {
		return User{}, notFound(err)
	}
	return user, nil
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
