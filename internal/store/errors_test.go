package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rollcall/internal/store"
	"rollcall/internal/store/storetest"
)

func TestIsUniqueViolationPostgres(t *testing.T) {
	err := &pgconn.PgError{Code: "23505", ConstraintName: "uq_attendance_student_session"}
	assert.True(t, store.IsUniqueViolation(err))
	assert.True(t, store.IsUniqueViolation(errors.Join(errors.New("insert"), err)))
	assert.False(t, store.IsUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.False(t, store.IsUniqueViolation(nil))
	assert.False(t, store.IsUniqueViolation(errors.New("boom")))
}

func TestIsUniqueViolationSQLite(t *testing.T) {
	db := storetest.NewDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := db.ExecContext(ctx, `INSERT INTO courses (id, code, title, created_at) VALUES ($1, $2, $3, $4)`,
		"c1", "CS101", "Intro", now)
	require.NoError(t, err)

	_, err = db.ExecContext(ctx, `INSERT INTO courses (id, code, title, created_at) VALUES ($1, $2, $3, $4)`,
		"c2", "CS101", "Duplicate code", now)
	require.Error(t, err)
	assert.True(t, store.IsUniqueViolation(err))
}
