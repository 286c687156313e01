// Package bridge implements the GatewayBridge (spec.md §4.9): a correlated
// request/response channel that lets synchronous tool code inside the
// agent process call back into the async gateway (spawn_worker,
// answer_worker, ask_orchestrator). It is grounded directly on the
// teacher's VsockConnection pending-request-map pattern
// (internal/tools/sandbox/firecracker/vsock.go's Send/readResponses),
// generalized from a single execute/health RPC schema to an arbitrary
// named bridge operation riding over the same ipc.Conn as the rest of the
// turn's envelopes.
package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/batchismo/core/internal/corerr"
	"github.com/batchismo/core/internal/ipc"
	"github.com/google/uuid"
)

// DefaultTimeout is the per-request timeout unless the caller asks for an
// unbounded wait (used for blocking ask_orchestrator questions).
const DefaultTimeout = 30 * time.Second

// Sender delivers an envelope over the shared IPC link. Both sides of the
// bridge (agent issuing requests, gateway issuing responses) implement it
// with the same *ipc.Conn.Send.
type Sender interface {
	Send(env *ipc.Envelope) error
}

// pendingCall is a single in-flight bridge request awaiting its response.
type pendingCall struct {
	resp chan *ipc.Envelope
}

// Bridge correlates BridgeRequest/BridgeResponse envelopes by
// correlation_id. One Bridge instance is shared by a turn's Conn demux
// loop (which calls Dispatch) and the tool executors (which call Call).
type Bridge struct {
	sender Sender

	mu      sync.Mutex
	pending map[string]*pendingCall
}

// New builds a Bridge that sends requests through sender.
func New(sender Sender) *Bridge {
	return &Bridge{sender: sender, pending: map[string]*pendingCall{}}
}

// Call sends a bridge request for op with payload and blocks until the
// matching BridgeResponse arrives, ctx is cancelled, or timeout elapses
// (timeout<=0 waits until ctx is cancelled, used for blocking questions).
func (b *Bridge) Call(ctx context.Context, op string, payload any, timeout time.Duration) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, corerr.Wrap(corerr.Internal, err, "marshal bridge payload")
	}
	corrID := uuid.NewString()
	call := &pendingCall{resp: make(chan *ipc.Envelope, 1)}

	b.mu.Lock()
	b.pending[corrID] = call
	b.mu.Unlock()
	defer b.cleanup(corrID)

	if err := b.sender.Send(&ipc.Envelope{
		Kind:          ipc.KindBridgeRequest,
		CorrelationID: corrID,
		BridgeOp:      op,
		BridgePayload: body,
	}); err != nil {
		return nil, corerr.Wrap(corerr.ProtocolError, err, "send bridge request")
	}

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case env := <-call.resp:
		if env.Kind == ipc.KindCancel {
			return nil, corerr.New(corerr.Cancelled, "bridge call %q cancelled: %s", op, env.Reason)
		}
		if env.BridgeError != "" {
			return nil, corerr.New(corerr.Internal, "%s", env.BridgeError)
		}
		return env.BridgePayload, nil
	case <-timeoutCh:
		return nil, corerr.New(corerr.Timeout, "bridge call %q timed out after %s", op, timeout)
	case <-ctx.Done():
		return nil, corerr.Wrap(corerr.Cancelled, ctx.Err(), "bridge call %q cancelled", op)
	}
}

func (b *Bridge) cleanup(corrID string) {
	b.mu.Lock()
	delete(b.pending, corrID)
	b.mu.Unlock()
}

// Dispatch routes an inbound BridgeResponse envelope to its waiting
// caller. Returns false if env is not a BridgeResponse the bridge has a
// pending call for (the caller's demux loop should then route it
// elsewhere, e.g. to the agent loop's lifecycle handling).
func (b *Bridge) Dispatch(env *ipc.Envelope) bool {
	if env.Kind != ipc.KindBridgeResponse {
		return false
	}
	b.mu.Lock()
	call, ok := b.pending[env.CorrelationID]
	b.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case call.resp <- env:
	default:
	}
	return true
}

// CancelAll fails every pending call with a Cancelled error so blocked tool
// executors can return promptly (spec.md §4.9 "Cancellation").
func (b *Bridge) CancelAll(reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for corrID, call := range b.pending {
		select {
		case call.resp <- &ipc.Envelope{
			Kind:          ipc.KindCancel,
			CorrelationID: corrID,
			Reason:        reason,
		}:
		default:
		}
	}
}
