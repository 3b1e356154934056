package journal

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/leapstack-labs/datalens/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T, path string) *Store {
	t.Helper()
	s, err := Open(context.Background(), path, testutil.NewTestLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen_Migrates(t *testing.T) {
	s := openStore(t, MemoryPath)

	version, err := Version(s.db)
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)
}

func TestStore_RecordAndHistory(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, filepath.Join(t.TempDir(), "journal.db"))

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	first := &Entry{SessionID: "a", Question: "total?", Answer: "450", Success: true,
		Code: "result = 450", RowCount: 1, ExecutionMS: 12.5, CreatedAt: base}
	second := &Entry{SessionID: "a", Question: "chart?", Answer: "see chart", Success: true,
		ChartType: "bar", CreatedAt: base.Add(time.Minute)}
	other := &Entry{SessionID: "b", Question: "x", Answer: "AI service error: down", Success: false}

	for _, e := range []*Entry{first, second, other} {
		require.NoError(t, s.Record(ctx, e))
		assert.NotEmpty(t, e.ID)
	}
	assert.False(t, other.CreatedAt.IsZero())

	history, err := s.History(ctx, "a", 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, second.ID, history[0].ID)
	assert.Equal(t, "bar", history[0].ChartType)
	assert.Empty(t, history[0].Code)

	got := history[1]
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, "total?", got.Question)
	assert.Equal(t, "result = 450", got.Code)
	assert.True(t, got.Success)
	assert.Equal(t, 1, got.RowCount)
	assert.InDelta(t, 12.5, got.ExecutionMS, 1e-9)
	assert.Equal(t, base, got.CreatedAt)

	limited, err := s.History(ctx, "a", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	none, err := s.History(ctx, "missing", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
	assert.NotNil(t, none)
}

func TestStore_DeleteSession(t *testing.T) {
	ctx := context.Background()
	s := openStore(t, MemoryPath)

	require.NoError(t, s.Record(ctx, &Entry{SessionID: "a", Question: "q1", Answer: "a1"}))
	require.NoError(t, s.Record(ctx, &Entry{SessionID: "a", Question: "q2", Answer: "a2"}))
	require.NoError(t, s.Record(ctx, &Entry{SessionID: "b", Question: "q3", Answer: "a3"}))

	n, err := s.DeleteSession(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	history, err := s.History(ctx, "a", 10)
	require.NoError(t, err)
	assert.Empty(t, history)

	history, err = s.History(ctx, "b", 10)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestStore_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "journal.db")

	s, err := Open(ctx, path, nil)
	require.NoError(t, err)
	require.NoError(t, s.Record(ctx, &Entry{SessionID: "a", Question: "q", Answer: "a"}))
	require.NoError(t, s.Close())

	s = openStore(t, path)
	history, err := s.History(ctx, "a", 10)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestStore_DatabaseFailures(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("disk I/O error")

	tests := []struct {
		name      string
		setupMock func(mock sqlmock.Sqlmock)
		run       func(s *Store) error
		errMsg    string
	}{
		{
			name: "record",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("INSERT INTO entries").WillReturnError(boom)
			},
			run: func(s *Store) error {
				return s.Record(ctx, &Entry{SessionID: "a", Question: "q", Answer: "a"})
			},
			errMsg: "failed to record journal entry",
		},
		{
			name: "history query",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("SELECT (.+) FROM entries").WillReturnError(boom)
			},
			run: func(s *Store) error {
				_, err := s.History(ctx, "a", 5)
				return err
			},
			errMsg: "failed to query journal",
		},
		{
			name: "history scan",
			setupMock: func(mock sqlmock.Sqlmock) {
				rows := sqlmock.NewRows([]string{"id"}).AddRow("x")
				mock.ExpectQuery("SELECT (.+) FROM entries").WillReturnRows(rows)
			},
			run: func(s *Store) error {
				_, err := s.History(ctx, "a", 5)
				return err
			},
			errMsg: "failed to scan journal entry",
		},
		{
			name: "delete",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("DELETE FROM entries").WithArgs("a").WillReturnError(boom)
			},
			run: func(s *Store) error {
				_, err := s.DeleteSession(ctx, "a")
				return err
			},
			errMsg: "failed to delete journal entries",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer func() { _ = db.Close() }()
			tt.setupMock(mock)

			err = tt.run(New(db, testutil.NewTestLogger(t)))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestStore_NotOpened(t *testing.T) {
	s := &Store{}
	assert.ErrorIs(t, s.Record(context.Background(), &Entry{}), errNotOpened)
	_, err := s.History(context.Background(), "a", 1)
	assert.ErrorIs(t, err, errNotOpened)
	assert.NoError(t, s.Close())
}
