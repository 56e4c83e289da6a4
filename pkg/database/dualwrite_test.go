package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingInserter struct {
	rows    []Row
	failCol string
	failErr error
	baseErr error
}

func (r *recordingInserter) InsertRow(_ context.Context, _ string, row Row) (uuid.UUID, time.Time, error) {
	r.rows = append(r.rows, row)
	if r.failCol != "" && row.Has(r.failCol) {
		return uuid.Nil, time.Time{}, r.failErr
	}
	if r.baseErr != nil {
		return uuid.Nil, time.Time{}, r.baseErr
	}
	return uuid.New(), time.Now(), nil
}

func rows() (Row, Row) {
	var base Row
	base.Set("call_type", "client_round_1").Set("status", "created")
	full := base.Clone()
	full.Set("title", "Client Round 1: Jane")
	return full, base
}

func TestInsertWithFallbackUndefinedColumnDegrades(t *testing.T) {
	ins := &recordingInserter{failCol: "title", failErr: &pgconn.PgError{Code: "42703"}}
	capab := NewCapability("video_call_rooms", true)
	full, base := rows()

	id, _, err := InsertWithFallback(context.Background(), ins, capab, full, base, nil)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, id)
	assert.False(t, capab.Full())
	require.Len(t, ins.rows, 2)
	assert.Equal(t, "client_round_1", ins.rows[1].Value("call_type"))

	_, _, err = InsertWithFallback(context.Background(), ins, capab, full, base, nil)
	require.NoError(t, err)
	assert.Len(t, ins.rows, 3, "degraded capability skips the full attempt")
}

func TestInsertWithFallbackOtherErrorKeepsCapability(t *testing.T) {
	ins := &recordingInserter{failCol: "title", failErr: errors.New("connection reset")}
	capab := NewCapability("video_call_rooms", true)
	full, base := rows()

	_, _, err := InsertWithFallback(context.Background(), ins, capab, full, base, nil)
	require.NoError(t, err)
	assert.True(t, capab.Full())
}

func TestInsertWithFallbackBothFail(t *testing.T) {
	ins := &recordingInserter{failCol: "title", failErr: errors.New("first"), baseErr: errors.New("second")}
	full, base := rows()

	_, _, err := InsertWithFallback(context.Background(), ins, NewCapability("t", true), full, base, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "first")
	assert.Contains(t, err.Error(), "second")
}

func TestInsertSQLNumbersPlaceholders(t *testing.T) {
	var r Row
	r.Set("a", 1).Set("b", 2).Set("a", 3)
	q, args := InsertSQL("t", r)
	assert.Equal(t, "INSERT INTO t (a, b) VALUES ($1, $2) RETURNING id, created_at", q)
	assert.Equal(t, []any{3, 2}, args)
}
