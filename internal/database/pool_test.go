package database

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// =============================================================================
// 🧪 PoolManager 测试
// =============================================================================

func setupMockDB(t *testing.T) (sqlmock.Sqlmock, *gorm.DB) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: mockDB}), &gorm.Config{
		DisableAutomaticPing: true,
	})
	require.NoError(t, err)
	return mock, gormDB
}

func testPoolConfig() PoolConfig {
	return PoolConfig{MaxOpenConns: 10, MaxIdleConns: 5}
}

func TestNewPoolManager(t *testing.T) {
	_, gormDB := setupMockDB(t)

	manager, err := NewPoolManager(gormDB, testPoolConfig(), zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, gormDB, manager.DB())
	assert.Equal(t, "postgres", manager.Dialect())
	assert.Equal(t, 10, manager.GetStats().MaxOpenConnections)

	_, err = NewPoolManager(nil, testPoolConfig(), nil)
	assert.Error(t, err)
}

func TestPoolManager_Ping(t *testing.T) {
	mock, gormDB := setupMockDB(t)
	manager, err := NewPoolManager(gormDB, testPoolConfig(), nil)
	require.NoError(t, err)
	ctx := context.Background()

	mock.ExpectPing()
	assert.NoError(t, manager.Ping(ctx))

	mock.ExpectPing().WillReturnError(sql.ErrConnDone)
	assert.Error(t, manager.Ping(ctx))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPoolManager_WithTransaction(t *testing.T) {
	mock, gormDB := setupMockDB(t)
	manager, err := NewPoolManager(gormDB, testPoolConfig(), nil)
	require.NoError(t, err)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectCommit()
	require.NoError(t, manager.WithTransaction(ctx, func(*gorm.DB) error { return nil }))

	mock.ExpectBegin()
	mock.ExpectRollback()
	assert.ErrorIs(t, manager.WithTransaction(ctx, func(*gorm.DB) error { return assert.AnError }), assert.AnError)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPoolManager_WithTransactionRetry(t *testing.T) {
	mock, gormDB := setupMockDB(t)
	manager, err := NewPoolManager(gormDB, testPoolConfig(), nil)
	require.NoError(t, err)

	var attempts int32
	mock.ExpectBegin()
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectCommit()
	err = manager.WithTransactionRetry(context.Background(), 3, func(*gorm.DB) error {
		if atomic.AddInt32(&attempts, 1) == 1 {
			return errors.New("ERROR: deadlock detected")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int32(2), attempts)

	mock.ExpectBegin()
	mock.ExpectRollback()
	err = manager.WithTransactionRetry(context.Background(), 3, func(*gorm.DB) error {
		return errors.New("unique constraint violated")
	})
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPoolManager_Close(t *testing.T) {
	mock, gormDB := setupMockDB(t)
	manager, err := NewPoolManager(gormDB, testPoolConfig(), nil)
	require.NoError(t, err)

	mock.ExpectClose()
	require.NoError(t, manager.Close())
	require.NoError(t, manager.Close())
	assert.ErrorIs(t, manager.Ping(context.Background()), ErrPoolClosed)
	assert.ErrorIs(t, manager.WithTransaction(context.Background(), func(*gorm.DB) error { return nil }), ErrPoolClosed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPoolManager_HealthCheckReportsStats(t *testing.T) {
	cfg := Config{Driver: DriverSQLite, Name: filepath.Join(t.TempDir(), "health.db"), Pool: testPoolConfig()}
	cfg.Pool.HealthCheckInterval = 10 * time.Millisecond

	var reports int32
	manager, err := Open(cfg, zap.NewNop(), WithStatsObserver(func(PoolStats) {
		atomic.AddInt32(&reports, 1)
	}))
	require.NoError(t, err)
	defer manager.Close()

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&reports) > 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestPoolConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  PoolConfig
		wantErr bool
	}{
		{name: "valid", config: DefaultPoolConfig()},
		{name: "unlimited", config: PoolConfig{}},
		{name: "negative open", config: PoolConfig{MaxOpenConns: -1}, wantErr: true},
		{name: "idle above open", config: PoolConfig{MaxOpenConns: 5, MaxIdleConns: 10}, wantErr: true},
		{name: "negative lifetime", config: PoolConfig{ConnMaxLifetime: -time.Second}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestIsRetryableError(t *testing.T) {
	assert.False(t, IsRetryableError(nil))
	assert.True(t, IsRetryableError(sql.ErrConnDone))
	assert.True(t, IsRetryableError(errors.New("database is locked (5) (SQLITE_BUSY)")))
	assert.True(t, IsRetryableError(errors.New("pq: could not serialize access (SQLSTATE 40001)")))
	assert.False(t, IsRetryableError(errors.New("syntax error")))
}

// =============================================================================
// 🔌 Open 测试
// =============================================================================

func TestConfig_DataSourceName(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		want    string
		wantErr bool
	}{
		{
			name:   "explicit dsn wins",
			config: Config{Driver: DriverPostgres, DSN: "postgres://x", Host: "ignored"},
			want:   "postgres://x",
		},
		{
			name:   "postgres",
			config: Config{Driver: DriverPostgres, Host: "db", Port: 5432, User: "rw", Password: "p@ss", Name: "history"},
			want:   "postgres://rw:p%40ss@db:5432/history?sslmode=disable",
		},
		{
			name:   "mysql",
			config: Config{Driver: DriverMySQL, Host: "db", Port: 3306, User: "rw", Password: "pw", Name: "history"},
			want:   "rw:pw@tcp(db:3306)/history?charset=utf8mb4&parseTime=True&loc=UTC",
		},
		{name: "sqlite", config: Config{Driver: DriverSQLite, Name: "h.db"}, want: "h.db"},
		{name: "sqlite without file", config: Config{Driver: DriverSQLite3}, wantErr: true},
		{name: "unknown", config: Config{Driver: "oracle"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.config.DataSourceName()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDialector(t *testing.T) {
	for driver, name := range map[string]string{
		DriverPostgres: "postgres",
		DriverMySQL:    "mysql",
		DriverSQLite:   "sqlite",
		DriverSQLite3:  "sqlite",
	} {
		d, err := Dialector(Config{Driver: driver, DSN: "x"})
		require.NoError(t, err, driver)
		assert.Equal(t, name, d.Name(), driver)
	}
	_, err := Dialector(Config{Driver: "oracle", DSN: "x"})
	assert.Error(t, err)
}

func TestOpen_SQLite(t *testing.T) {
	cfg := Config{Driver: DriverSQLite, Name: filepath.Join(t.TempDir(), "open.db"), Pool: testPoolConfig()}
	manager, err := Open(cfg, zap.NewNop())
	require.NoError(t, err)
	defer manager.Close()

	require.NoError(t, manager.Ping(context.Background()))
	assert.Equal(t, "sqlite", manager.Dialect())
}
