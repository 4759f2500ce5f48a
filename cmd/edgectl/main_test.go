package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points the CLI at the in-memory store and simulate mode whatever
// the host environment holds.
func isolate(t *testing.T) {
	t.Helper()
	for _, key := range []string{"DATABASE_URL", "REDIS_URL", "EXECUTION_MODE", "KALSHI_EDGE_CONFIG", "KALSHI_API_KEY_ID", "KALSHI_API_KEY_SECRET"} {
		t.Setenv(key, "")
	}
	t.Chdir(t.TempDir())
}

func TestRunUsageErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"no command", nil},
		{"unknown command", []string{"frobnicate"}},
		{"bad flag", []string{"execute", "-limit", "many"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out, errOut bytes.Buffer
			err := run(context.Background(), tt.args, &out, &errOut)
			assert.ErrorIs(t, err, errUsage)
		})
	}
}

func TestRunSeed(t *testing.T) {
	isolate(t)
	var out, errOut bytes.Buffer

	require.NoError(t, run(context.Background(), []string{"seed"}, &out, &errOut))
	assert.Contains(t, out.String(), "seeded 5 markets")
}

func TestRunBacktestRejectsDirection(t *testing.T) {
	isolate(t)
	var out, errOut bytes.Buffer

	err := run(context.Background(), []string{"backtest", "-direction", "sideways"}, &out, &errOut)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "direction")
}

func TestRunMigrateNeedsDatabase(t *testing.T) {
	isolate(t)
	var out, errOut bytes.Buffer

	err := run(context.Background(), []string{"migrate"}, &out, &errOut)
	assert.Error(t, err)
}

func TestRunCancelOnEmptyStore(t *testing.T) {
	isolate(t)
	var out, errOut bytes.Buffer

	require.NoError(t, run(context.Background(), []string{"cancel"}, &out, &errOut))
	assert.Equal(t, "cancelled 0 signals\n", out.String())
}
