package logger

import (
	"context"
	"errors"
	"testing"
	"time"

	obscontext "github.com/smallbiznis/promptmart/internal/observability/context"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	gormlogger "gorm.io/gorm/logger"
)

func TestWithContextAddsCorrelationFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	base := zap.New(core)

	ctx := obscontext.WithRequestID(context.Background(), "req-1")
	ctx = obscontext.WithOwnerID(ctx, "42")

	WithContext(ctx, base).Info("hello")

	entries := logs.All()
	if assert.Len(t, entries, 1) {
		fields := entries[0].ContextMap()
		assert.Equal(t, "req-1", fields["request_id"])
		assert.Equal(t, "42", fields["owner_id"])
		_, hasTrace := fields["trace_id"]
		assert.False(t, hasTrace)
	}
}

func TestOperationAndTableFromSQL(t *testing.T) {
	assert.Equal(t, "UPDATE", operationFromSQL("UPDATE ledger_accounts SET balance = 1"))
	assert.Equal(t, "ledger_accounts", tableFromSQL("UPDATE ledger_accounts SET balance = 1"))
	assert.Equal(t, "orders", tableFromSQL(`SELECT * FROM "orders" WHERE id = 1`))
	assert.Equal(t, "UNKNOWN", operationFromSQL(""))
}

func TestGormLoggerSlowThresholdPerTable(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	cfg := DefaultGormLoggerConfig()
	cfg.Base = zap.New(core)
	gl := NewGormLogger(cfg)

	begin := time.Now().Add(-80 * time.Millisecond)
	gl.Trace(context.Background(), begin, func() (string, int64) {
		return "UPDATE ledger_accounts SET balance = ? WHERE id = ?", 1
	}, nil)
	gl.Trace(context.Background(), begin, func() (string, int64) {
		return "SELECT * FROM listings WHERE id = ?", 1
	}, nil)

	entries := logs.All()
	if assert.Len(t, entries, 1) {
		assert.Equal(t, zap.WarnLevel, entries[0].Level)
		assert.Equal(t, "ledger_accounts", entries[0].ContextMap()["table"])
		assert.Equal(t, true, entries[0].ContextMap()["slow"])
	}
}

func TestGormLoggerIgnoresRecordNotFound(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	cfg := DefaultGormLoggerConfig()
	cfg.Base = zap.New(core)
	gl := NewGormLogger(cfg)

	query := func() (string, int64) { return "SELECT * FROM orders WHERE id = ?", 0 }
	gl.Trace(context.Background(), time.Now(), query, gormlogger.ErrRecordNotFound)
	assert.Empty(t, logs.All())

	gl.Trace(context.Background(), time.Now(), query, errors.New("boom"))
	if assert.Len(t, logs.All(), 1) {
		assert.Equal(t, zap.ErrorLevel, logs.All()[0].Level)
	}

	gl.LogMode(gormlogger.Silent).Trace(context.Background(), time.Now(), query, errors.New("boom"))
	assert.Len(t, logs.All(), 1)
}
