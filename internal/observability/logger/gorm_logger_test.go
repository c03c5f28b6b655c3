package logger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	gormlogger "gorm.io/gorm/logger"
)

func TestDescribeSQL(t *testing.T) {
	cases := map[string]statement{
		"SELECT * FROM karma_scores WHERE principal = ?":            {"SELECT", "karma_scores"},
		"  insert into ratings (id) values (1)":                     {"INSERT", "ratings"},
		`UPDATE "karma_balances" SET spent_total = spent_total + ?`: {"UPDATE", "karma_balances"},
		"WITH recent AS (SELECT 1) UPDATE karma_scores SET x = 1":   {"SELECT", "karma_scores"},
		"":                     {"UNKNOWN", "unknown"},
		"PRAGMA foreign_keys":  {"UNKNOWN", "unknown"},
	}
	for sql, want := range cases {
		assert.Equal(t, want, describeSQL(sql), sql)
	}
}

func TestGormLoggerTraceLevels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	prev := zap.L()
	zap.ReplaceGlobals(zap.New(core))
	defer zap.ReplaceGlobals(prev)

	l := NewGormLogger(DefaultGormLoggerConfig())
	ctx := context.Background()
	query := func() (string, int64) { return "SELECT * FROM ratings", 3 }

	l.Trace(ctx, time.Now(), query, nil)
	assert.Equal(t, 0, logs.Len(), "fast queries are not logged at warn level")

	l.Trace(ctx, time.Now(), query, gormlogger.ErrRecordNotFound)
	assert.Equal(t, 0, logs.Len(), "record not found is ignored")

	l.Trace(ctx, time.Now(), query, errors.New("boom"))
	l.Trace(ctx, time.Now().Add(-time.Second), query, nil)

	entries := logs.All()
	if assert.Len(t, entries, 2) {
		assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
		assert.Equal(t, "ratings", entries[0].ContextMap()["table"])
		assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
		assert.Equal(t, int64(3), entries[1].ContextMap()["rows_affected"])
	}
}
