package store

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kalshi-edge/internal/config"
)

func TestOpenWithoutDatabaseUsesMemory(t *testing.T) {
	t.Parallel()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	st, err := Open(context.Background(), config.Config{}, logger)
	require.NoError(t, err)
	defer st.Close()

	_, ok := st.(*MemoryStore)
	assert.True(t, ok, "expected in-memory store, got %T", st)
}

func TestOpenRejectsBadDatabaseURL(t *testing.T) {
	t.Parallel()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := config.Config{Database: config.DatabaseConfig{URL: "://not a dsn", MaxConns: 2}}
	_, err := Open(context.Background(), cfg, logger)
	assert.Error(t, err)
}
