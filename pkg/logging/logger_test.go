package logging

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{"debug", zap.DebugLevel, false},
		{"INFO", zap.InfoLevel, false},
		{"Warn", zap.WarnLevel, false},
		{"ERROR", zap.ErrorLevel, false},
		{"FATAL", zap.FatalLevel, false},
		{"verbose", zap.InfoLevel, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantErr, err != nil)
		})
	}
}

func TestZapLogger_FieldsAndChildren(t *testing.T) {
	obsCore, logs := observer.New(zap.DebugLevel)
	logger := NewFromZap(zap.New(obsCore))

	child := logger.WithField("component", "engine")
	child.Info("Position opened",
		"price", decimal.RequireFromString("0.0812"),
		"error", errors.New("boom"),
		"qty", 1250,
		"dangling")

	entries := logs.All()
	require.Len(t, entries, 1)
	ctx := entries[0].ContextMap()
	assert.Equal(t, "engine", ctx["component"])
	assert.Equal(t, "0.0812", ctx["price"])
	assert.Equal(t, "boom", ctx["error"])
	assert.EqualValues(t, 1250, ctx["qty"])
	_, hasDangling := ctx["dangling"]
	assert.False(t, hasDangling)

	logger.WithFields(map[string]interface{}{"symbol": "DOGEUSDT"}).Warn("hold")
	require.Equal(t, 2, logs.Len())
	assert.Equal(t, "DOGEUSDT", logs.All()[1].ContextMap()["symbol"])
	assert.Equal(t, zap.WarnLevel, logs.All()[1].Level)
}

func TestNewZapLogger_WritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trading_bot.log")
	logger, err := NewZapLogger("INFO", Options{File: path})
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("Trading agent started", "symbol", "DOGEUSDT")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "Trading agent started"))
	assert.False(t, strings.Contains(string(data), "hidden"))
}
