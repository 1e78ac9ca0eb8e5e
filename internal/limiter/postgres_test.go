package limiter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	now    = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	ipHash = HashIP("10.0.0.1")
	policy = Policy{Window: 5 * time.Minute, MaxFails: 3, BlockFor: 10 * time.Minute}
)

func newLimiter(t *testing.T) (*PG, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	l := NewPG(mock, policy)
	l.now = func() time.Time { return now }
	return l, mock
}

func TestAllow(t *testing.T) {
	ctx := context.Background()
	l, mock := newLimiter(t)
	const q = `SELECT blocked_until FROM auth_limiter WHERE email=\$1 AND ip_hash=\$2`

	mock.ExpectQuery(q).WithArgs("ann@example.com", ipHash).WillReturnError(pgx.ErrNoRows)
	ok, wait, err := l.Allow(ctx, " Ann@Example.com ", ipHash)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Zero(t, wait)

	mock.ExpectQuery(q).WithArgs("ann@example.com", ipHash).
		WillReturnRows(pgxmock.NewRows([]string{"blocked_until"}).AddRow(now.Add(4 * time.Minute)))
	ok, wait, err = l.Allow(ctx, "ann@example.com", ipHash)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 4*time.Minute, wait)

	mock.ExpectQuery(q).WithArgs("ann@example.com", ipHash).
		WillReturnRows(pgxmock.NewRows([]string{"blocked_until"}).AddRow(now.Add(-time.Second)))
	ok, _, err = l.Allow(ctx, "ann@example.com", ipHash)
	require.NoError(t, err)
	assert.True(t, ok)

	mock.ExpectQuery(q).WithArgs("ann@example.com", ipHash).WillReturnError(errors.New("db down"))
	ok, _, err = l.Allow(ctx, "ann@example.com", ipHash)
	require.Error(t, err)
	assert.False(t, ok)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSuccess(t *testing.T) {
	l, mock := newLimiter(t)
	mock.ExpectExec(`INSERT INTO auth_limiter`).WithArgs("ann@example.com", ipHash).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, l.Success(context.Background(), "ann@example.com", ipHash))

	mock.ExpectExec(`INSERT INTO auth_limiter`).WithArgs("ann@example.com", ipHash).
		WillReturnError(errors.New("exec fail"))
	require.Error(t, l.Success(context.Background(), "ann@example.com", ipHash))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFailure(t *testing.T) {
	ctx := context.Background()
	l, mock := newLimiter(t)

	mock.ExpectQuery(`RETURNING fail_count`).WithArgs("ann@example.com", ipHash, policy.Window).
		WillReturnRows(pgxmock.NewRows([]string{"fail_count"}).AddRow(2))
	blocked, wait, err := l.Failure(ctx, "ann@example.com", ipHash)
	require.NoError(t, err)
	assert.False(t, blocked)
	assert.Zero(t, wait)

	mock.ExpectQuery(`RETURNING fail_count`).WithArgs("ann@example.com", ipHash, policy.Window).
		WillReturnRows(pgxmock.NewRows([]string{"fail_count"}).AddRow(3))
	mock.ExpectExec(`UPDATE auth_limiter SET blocked_until=\$3 WHERE email=\$1 AND ip_hash=\$2`).
		WithArgs("ann@example.com", ipHash, now.Add(policy.BlockFor)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	blocked, wait, err = l.Failure(ctx, "ann@example.com", ipHash)
	require.NoError(t, err)
	assert.True(t, blocked)
	assert.Equal(t, policy.BlockFor, wait)

	mock.ExpectQuery(`RETURNING fail_count`).WithArgs("ann@example.com", ipHash, policy.Window).
		WillReturnError(errors.New("query error"))
	_, _, err = l.Failure(ctx, "ann@example.com", ipHash)
	require.Error(t, err)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHashIP(t *testing.T) {
	a := HashIP("1.2.3.4")
	assert.Len(t, a, 32)
	assert.Equal(t, a, HashIP("1.2.3.4"))
	assert.NotEqual(t, a, HashIP("5.6.7.8"))
}
