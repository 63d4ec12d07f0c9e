package runner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunCapturesOutput(t *testing.T) {
	s := NewShell()
	res, err := s.Run(context.Background(), "echo hello; echo oops >&2", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, res.ReturnCode)
	assert.Equal(t, "hello\n", res.Stdout)
	assert.Equal(t, "oops\n", res.Stderr)
}

func TestRunPassesEnv(t *testing.T) {
	s := NewShell()
	res, err := s.Run(context.Background(), `echo "$STAGE_TARGET"`, map[string]string{
		"STAGE_TARGET": "orders",
	})
	require.NoError(t, err)
	assert.Equal(t, "orders\n", res.Stdout)
}

func TestRunNonZeroExitIsNotAnError(t *testing.T) {
	s := NewShell()
	res, err := s.Run(context.Background(), "echo partial; exit 3", nil)
	require.NoError(t, err)
	assert.Equal(t, 3, res.ReturnCode)
	assert.Equal(t, "partial\n", res.Stdout)
}

func TestRunMultilineScript(t *testing.T) {
	s := NewShell()
	res, err := s.Run(context.Background(), "set -e\nx=2\necho $((x * 21))\n", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, res.ReturnCode)
	assert.Equal(t, "42\n", res.Stdout)
}

func TestRunCancellationTerminatesProcess(t *testing.T) {
	s := &Shell{Grace: 500 * time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := s.Run(ctx, "sleep 30", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 5*time.Second, "cancellation does not wait out the sleep")
}
