package bridge

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/batchismo/core/internal/corerr"
	"github.com/batchismo/core/internal/ipc"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	sent chan *ipc.Envelope
}

func newFakeSender() *fakeSender {
	return &fakeSender{sent: make(chan *ipc.Envelope, 8)}
}

func (f *fakeSender) Send(env *ipc.Envelope) error {
	f.sent <- env
	return nil
}

func TestCallMatchesResponseByCorrelationID(t *testing.T) {
	sender := newFakeSender()
	b := New(sender)

	done := make(chan struct{})
	var result json.RawMessage
	var callErr error
	go func() {
		result, callErr = b.Call(context.Background(), "spawn_worker", map[string]string{"task": "x"}, time.Second)
		close(done)
	}()

	req := <-sender.sent
	require.Equal(t, ipc.KindBridgeRequest, req.Kind)
	require.Equal(t, "spawn_worker", req.BridgeOp)

	require.True(t, b.Dispatch(&ipc.Envelope{
		Kind:          ipc.KindBridgeResponse,
		CorrelationID: req.CorrelationID,
		BridgePayload: json.RawMessage(`"worker-session-1"`),
	}))

	<-done
	require.NoError(t, callErr)
	require.Equal(t, `"worker-session-1"`, string(result))
}

func TestCallTimesOutWithoutResponse(t *testing.T) {
	sender := newFakeSender()
	b := New(sender)

	_, err := b.Call(context.Background(), "ask_orchestrator", map[string]string{}, 10*time.Millisecond)
	require.Error(t, err)
	require.Equal(t, corerr.Timeout, corerr.KindOf(err))
}

func TestCancelAllFailsPendingCalls(t *testing.T) {
	sender := newFakeSender()
	b := New(sender)

	done := make(chan error, 1)
	go func() {
		_, err := b.Call(context.Background(), "ask_orchestrator", map[string]string{}, 0)
		done <- err
	}()
	<-sender.sent
	time.Sleep(5 * time.Millisecond)
	b.CancelAll("turn cancelled")

	err := <-done
	require.Error(t, err)
}
