package corerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewFormatsMessageWithoutCause(t *testing.T) {
	err := New(InvalidInput, "bad path %q", "/etc/passwd")
	require.Equal(t, `[InvalidInput] bad path "/etc/passwd"`, err.Error())
	require.Nil(t, err.Unwrap())
}

func TestWrapPreservesCauseForUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(StoreError, cause, "persist message")
	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "disk full")
}

func TestKindOfExtractsWrappedKind(t *testing.T) {
	err := New(Timeout, "deadline exceeded")
	require.Equal(t, Timeout, KindOf(err))
}

func TestKindOfDefaultsToInternalForPlainErrors(t *testing.T) {
	require.Equal(t, Internal, KindOf(errors.New("unexpected")))
}

func TestIsMatchesOnlyTheGivenKind(t *testing.T) {
	err := New(PermissionDenied, "path outside policy")
	require.True(t, Is(err, PermissionDenied))
	require.False(t, Is(err, InvalidInput))
}

func TestFatalClassifiesKindsCorrectly(t *testing.T) {
	require.True(t, ProtocolError.Fatal())
	require.True(t, Timeout.Fatal())
	require.True(t, Cancelled.Fatal())
	require.True(t, StoreError.Fatal())
	require.True(t, Internal.Fatal())
	require.False(t, InvalidInput.Fatal())
	require.False(t, PermissionDenied.Fatal())
	require.False(t, UpstreamError.Fatal())
}

func TestKindOfUnwrapsThroughErrorsJoin(t *testing.T) {
	base := New(UpstreamError, "model rejected request")
	wrapped := errors.Join(errors.New("context"), base)
	require.Equal(t, UpstreamError, KindOf(wrapped))
}
