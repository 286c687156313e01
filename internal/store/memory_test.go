package store

import (
	"context"
	"testing"

	"github.com/batchismo/core/internal/model"
	"github.com/stretchr/testify/require"
)

func TestCreateSessionConflict(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_, err := s.CreateSession(ctx, "main", "claude-sonnet-4")
	require.NoError(t, err)
	_, err = s.CreateSession(ctx, "main", "claude-sonnet-4")
	require.ErrorIs(t, err, ErrConflictingKey)
}

func TestFinalizeTurnAdvancesCountersAtomically(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	sess, err := s.CreateSession(ctx, "main", "claude-sonnet-4")
	require.NoError(t, err)

	_, err = s.AppendUserMessage(ctx, sess.ID, "hi")
	require.NoError(t, err)

	err = s.FinalizeTurn(ctx, sess.ID, &model.Message{Content: "hello"}, 10, 20)
	require.NoError(t, err)

	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	require.EqualValues(t, 10, got.TokenInput)
	require.EqualValues(t, 20, got.TokenOutput)

	msgs, err := s.ListMessages(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, model.RoleAssistant, msgs[1].Role)
}

func TestPutPolicyIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	rule := model.PolicyRule{Path: "/work", Access: model.AccessReadOnly, Recursive: true}
	require.NoError(t, s.PutPolicy(ctx, rule))
	require.NoError(t, s.PutPolicy(ctx, rule))

	policies, err := s.ListPolicies(ctx)
	require.NoError(t, err)
	require.Len(t, policies, 1)
}

func TestDeleteSessionProtectsMain(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	sess, err := s.CreateSession(ctx, "main", "claude-sonnet-4")
	require.NoError(t, err)
	err = s.DeleteSession(ctx, sess.ID)
	require.ErrorIs(t, err, ErrBusy)
}
