package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPGCounter_Hit(t *testing.T) {
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		prefix    string
		wantKey   string
		mockCount int
		mockEnd   time.Time
		mockErr   error
		wantErr   bool
	}{
		{
			name:      "first request opens a window",
			prefix:    "presenca",
			wantKey:   "presenca:10.0.0.1",
			mockCount: 1,
			mockEnd:   now.Add(time.Minute),
		},
		{
			name:      "counter inside open window",
			wantKey:   "10.0.0.1",
			mockCount: 31,
			mockEnd:   now.Add(20 * time.Second),
		},
		{
			name:    "database error",
			wantKey: "10.0.0.1",
			mockErr: errors.New("connection refused"),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			require.NoError(t, err)
			defer mock.Close()

			counter := NewPGCounter(mock, time.Minute, tt.prefix)

			expect := mock.ExpectQuery("INSERT INTO rate_limit_counters").
				WithArgs(tt.wantKey, now.Add(time.Minute), now)
			if tt.mockErr != nil {
				expect.WillReturnError(tt.mockErr)
			} else {
				expect.WillReturnRows(pgxmock.NewRows([]string{"count", "window_end"}).AddRow(tt.mockCount, tt.mockEnd))
			}

			count, windowEnd, err := counter.Hit(context.Background(), "10.0.0.1", now)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "hit rate limit counter")
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.mockCount, count)
				assert.Equal(t, tt.mockEnd, windowEnd)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPGCounter_CleanupExpired(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	counter := NewPGCounter(mock, time.Minute, "")

	mock.ExpectExec("DELETE FROM rate_limit_counters WHERE window_end").
		WillReturnResult(pgxmock.NewResult("DELETE", 5))

	deleted, err := counter.CleanupExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5), deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGCounter_Reset(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	counter := NewPGCounter(mock, time.Minute, "presenca")

	mock.ExpectExec("DELETE FROM rate_limit_counters WHERE key").
		WithArgs("presenca:10.0.0.9").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	require.NoError(t, counter.Reset(context.Background(), "10.0.0.9"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
