package db

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestConstraintClassifiers(t *testing.T) {
	unique := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})
	exclusion := &pgconn.PgError{Code: "23P01"}

	if !IsUniqueViolation(unique) {
		t.Fatal("expected wrapped 23505 to be a unique violation")
	}
	if IsUniqueViolation(exclusion) {
		t.Fatal("23P01 is not a unique violation")
	}
	if !IsExclusionViolation(exclusion) {
		t.Fatal("expected 23P01 to be an exclusion violation")
	}
	if IsExclusionViolation(errors.New("boom")) {
		t.Fatal("plain errors are not constraint violations")
	}
}

func TestReadyCheckWithoutPool(t *testing.T) {
	if err := ReadyCheck(nil)(context.Background()); err == nil {
		t.Fatal("expected error for nil pool")
	}
}
