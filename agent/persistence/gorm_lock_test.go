package persistence

import (
	"context"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/muchaco/council/types"
)

// sqlRecorder 记录驱动实际收到的 SQL
type sqlRecorder struct {
	mu      sync.Mutex
	queries []string
}

func (r *sqlRecorder) match(_, actual string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queries = append(r.queries, actual)
	return nil
}

func (r *sqlRecorder) last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.queries) == 0 {
		return ""
	}
	return r.queries[len(r.queries)-1]
}

func newPostgresMockStore(t *testing.T) (*GormStore, sqlmock.Sqlmock, *sqlRecorder) {
	t.Helper()
	rec := &sqlRecorder{}
	mockDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherFunc(rec.match)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: mockDB}), &gorm.Config{
		Logger:               logger.Default.LogMode(logger.Silent),
		DisableAutomaticPing: true,
	})
	require.NoError(t, err)
	return NewGormStore(db, zap.NewNop()), mock, rec
}

func TestGormStore_GetSessionRowLock(t *testing.T) {
	tests := []struct {
		name     string
		inTx     bool
		wantLock bool
	}{
		{name: "inside transaction", inTx: true, wantLock: true},
		{name: "outside transaction", inTx: false, wantLock: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock, rec := newPostgresMockStore(t)
			ctx := context.Background()
			empty := sqlmock.NewRows([]string{"id"})

			var err error
			if tt.inTx {
				mock.ExpectBegin()
				mock.ExpectQuery("sessions").WillReturnRows(empty)
				mock.ExpectRollback()
				err = s.WithTx(ctx, func(tx Store) error {
					_, err := tx.GetSession(ctx, "s1")
					return err
				})
			} else {
				mock.ExpectQuery("sessions").WillReturnRows(empty)
				_, err = s.GetSession(ctx, "s1")
			}

			// 空结果集映射为 NOT_FOUND，事务随之回滚
			assert.True(t, types.IsErrorCode(err, types.ErrNotFound), "got %v", err)
			if tt.wantLock {
				assert.Contains(t, rec.last(), "FOR UPDATE")
			} else {
				assert.NotContains(t, rec.last(), "FOR UPDATE")
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestGormStore_LockRowsSkipsSQLite(t *testing.T) {
	s := newSQLiteStore(t)
	assert.False(t, s.lockRows())

	// sqlite 事务内也不加行锁
	err := s.WithTx(context.Background(), func(tx Store) error {
		assert.False(t, tx.(*GormStore).lockRows())
		return nil
	})
	require.NoError(t, err)
}
