package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

func TestIsDuplicateKeyErr(t *testing.T) {
	cases := map[string]struct {
		err  error
		want bool
	}{
		"nil":      {nil, false},
		"gorm":     {fmt.Errorf("insert: %w", gorm.ErrDuplicatedKey), true},
		"postgres": {errors.New(`ERROR: duplicate key value violates unique constraint "ux_module_subscriptions_active"`), true},
		"pgconn":   {fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"}), true},
		"pg other": {&pgconn.PgError{Code: "40001"}, false},
		"sqlite":   {errors.New("UNIQUE constraint failed: module_subscriptions.store_id"), true},
		"other":    {errors.New("connection refused"), false},
	}
	for name, tc := range cases {
		if got := IsDuplicateKeyErr(tc.err); got != tc.want {
			t.Fatalf("%s: expected %v, got %v", name, tc.want, got)
		}
	}
}

func TestConstraintName(t *testing.T) {
	err := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505", ConstraintName: "ux_module_subscriptions_active"})
	if got := ConstraintName(err); got != "ux_module_subscriptions_active" {
		t.Fatalf("expected constraint name, got %q", got)
	}
	if got := ConstraintName(errors.New("boom")); got != "" {
		t.Fatalf("expected empty constraint name, got %q", got)
	}
}
