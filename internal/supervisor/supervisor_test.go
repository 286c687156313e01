package supervisor

import (
	"testing"
	"time"

	"github.com/batchismo/core/internal/ipc"
	"github.com/stretchr/testify/require"
)

func TestNewAppliesDefaults(t *testing.T) {
	s, err := New(Config{AgentBinaryPath: "/absolute/path/agent"})
	require.NoError(t, err)
	require.Equal(t, DefaultGracePeriod, s.cfg.GracePeriod)
	require.Equal(t, DefaultTurnDeadline, s.cfg.TurnDeadline)
	require.Equal(t, ipc.DefaultMaxFrameSize, s.cfg.MaxFrameSize)
	require.NotNil(t, s.cfg.Logger)
}

func TestNewKeepsExplicitOverrides(t *testing.T) {
	s, err := New(Config{
		AgentBinaryPath: "/absolute/path/agent",
		GracePeriod:     5 * time.Second,
		TurnDeadline:    time.Minute,
		MaxFrameSize:    1024,
	})
	require.NoError(t, err)
	require.Equal(t, 5*time.Second, s.cfg.GracePeriod)
	require.Equal(t, time.Minute, s.cfg.TurnDeadline)
	require.Equal(t, uint32(1024), s.cfg.MaxFrameSize)
}

func TestNewResolvesRelativeAgentBinaryAgainstHostExecutable(t *testing.T) {
	s, err := New(Config{AgentBinaryPath: "batchismo-agent"})
	require.NoError(t, err)
	require.True(t, len(s.cfg.AgentBinaryPath) > len("batchismo-agent"), "a relative name must be resolved to an absolute path next to the host executable")
}

func TestHandleReturnsFalseWhenSessionUnknown(t *testing.T) {
	s, err := New(Config{AgentBinaryPath: "/absolute/path/agent"})
	require.NoError(t, err)

	_, ok := s.Handle("no-such-session")
	require.False(t, ok)
}

func TestCancelReturnsErrorForUnknownSession(t *testing.T) {
	s, err := New(Config{AgentBinaryPath: "/absolute/path/agent"})
	require.NoError(t, err)

	err = s.Cancel("no-such-session", "test")
	require.Error(t, err)
}
