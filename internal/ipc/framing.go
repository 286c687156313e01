package ipc

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// DefaultMaxFrameSize is the default oversize-frame cutoff (spec.md §4.3:
// "bounded by a configured max frame size (default 8 MiB)").
const DefaultMaxFrameSize = 8 << 20

// ErrFrameTooLarge is returned by ReadFrame when a frame's declared length
// exceeds maxFrameSize; callers must treat this as ProtocolError and
// terminate the session.
type ErrFrameTooLarge struct {
	Declared uint32
	Max      uint32
}

func (e *ErrFrameTooLarge) Error() string {
	return fmt.Sprintf("ipc: frame size %d exceeds max %d", e.Declared, e.Max)
}

// WriteFrame writes a 4-byte big-endian length prefix followed by the
// JSON-encoded envelope, mirroring the teacher's vsock length-prefixed
// framing but using JSON envelopes instead of a single execute/health RPC
// schema.
func WriteFrame(w *bufio.Writer, env *Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("ipc: marshal envelope: %w", err)
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("ipc: write frame length: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("ipc: write frame body: %w", err)
	}
	return w.Flush()
}

// ReadFrame reads one length-delimited JSON envelope. A declared length
// over maxFrameSize (0 uses DefaultMaxFrameSize) is reported via
// ErrFrameTooLarge without reading the oversize body.
func ReadFrame(r *bufio.Reader, maxFrameSize uint32) (*Envelope, error) {
	if maxFrameSize == 0 {
		maxFrameSize = DefaultMaxFrameSize
	}
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	declared := binary.BigEndian.Uint32(lenBuf[:])
	if declared > maxFrameSize {
		return nil, &ErrFrameTooLarge{Declared: declared, Max: maxFrameSize}
	}
	body := make([]byte, declared)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("ipc: read frame body: %w", err)
	}
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("ipc: unmarshal envelope: %w", err)
	}
	return &env, nil
}
