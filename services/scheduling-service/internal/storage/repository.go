package storage

import (
	"context"
	_ "embed"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/apptdesk/libs/db"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrSlotTaken = errors.New("slot already booked")
	ErrNotBooked = errors.New("slot is not booked")
)

//go:embed schema.sql
var schema string

// Repository stores recurring windows and manual blocks per business.
// Methods that take a tx argument must run inside a caller-owned transaction.
type Repository struct {
	db db.TxBeginner
}

func NewRepository(conn db.TxBeginner) *Repository {
	return &Repository{db: conn}
}

func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.db.Begin(ctx)
}

// Migrate applies the idempotent schema.
func (r *Repository) Migrate(ctx context.Context) error {
	_, err := r.db.Exec(ctx, schema)
	return err
}

// LockBusiness serialises booking writes for one business until tx ends.
func (r *Repository) LockBusiness(ctx context.Context, tx db.DBTX, businessID string) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, businessID)
	return err
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
