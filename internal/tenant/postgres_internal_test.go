package tenant

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestErrorWrapsKeepContextVerbatim(t *testing.T) {
	boom := errors.New("boom")

	err := execExpectOne(pgconn.NewCommandTag("DELETE 0"), nil, "delete workspace %s", "100%")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.EqualError(t, err, "delete workspace 100%: "+ErrNotFound.Error())

	err = execExpectOne(pgconn.CommandTag{}, boom, "delete member %s", "50%off")
	assert.ErrorIs(t, err, boom)
	assert.EqualError(t, err, "delete member 50%off: boom")

	assert.NoError(t, execExpectOne(pgconn.NewCommandTag("DELETE 1"), nil, "delete member %s", "x"))

	err = conflictWrap(&pgconn.PgError{Code: uniqueViolation}, "create workspace %q", "a%d")
	assert.ErrorIs(t, err, ErrConflict)
	assert.EqualError(t, err, `create workspace "a%d": `+ErrConflict.Error())

	err = notFoundWrap(pgx.ErrNoRows, "find workspace by slug %q", "x")
	assert.ErrorIs(t, err, ErrNotFound)
}
