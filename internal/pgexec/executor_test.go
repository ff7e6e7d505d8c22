package pgexec

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestOpen_RequiresURL(t *testing.T) {
	_, err := Open(context.Background(), Config{}, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database URL is required")
}

func TestInvoke_RejectsInvalidActionName(t *testing.T) {
	x := New(nil, nil)
	for _, name := range []string{"", "Qualify", "drop table x", "a;b", "app.x"} {
		_, err := x.Invoke(context.Background(), name, Caller{}, nil)
		require.Error(t, err, name)
		assert.Contains(t, err.Error(), "invalid action name")
	}
}

func TestNewID_Monotonic(t *testing.T) {
	x := New(nil, nil)
	prev := x.newID()
	for range 100 {
		next := x.newID()
		assert.Greater(t, next, prev)
		prev = next
	}
}

func TestNullableUUID(t *testing.T) {
	assert.Nil(t, nullableUUID(uuid.Nil))
	id := uuid.MustParse("9b2c1f9e-0000-4000-8000-000000000001")
	assert.Equal(t, "9b2c1f9e-0000-4000-8000-000000000001", nullableUUID(id))
}

func TestAsSQLError(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505", Message: "duplicate key value", Detail: "Key (email)=(a@b) already exists."}
	err := asSQLError(fmt.Errorf("wrapped: %w", pgErr))

	var sqlErr *SQLError
	require.True(t, errors.As(err, &sqlErr))
	assert.Equal(t, "23505", sqlErr.Code)
	assert.Equal(t, "duplicate key value (SQLSTATE 23505): Key (email)=(a@b) already exists.", sqlErr.Error())

	plain := errors.New("connection reset")
	assert.Same(t, plain, asSQLError(plain))

	bare := &SQLError{Code: "42P01", Message: `relation "nope" does not exist`}
	assert.Equal(t, `relation "nope" does not exist (SQLSTATE 42P01)`, bare.Error())
}
