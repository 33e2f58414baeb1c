package model

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProviderErrorAccessorsAndUnwrap(t *testing.T) {
	cause := context.DeadlineExceeded
	pe := NewProviderError("bedrock", "converse_stream", 429, ProviderErrorKindRateLimited, "rate_limited", "slow down", true, cause)

	require.Equal(t, "bedrock", pe.Provider())
	require.Equal(t, "converse_stream", pe.Operation())
	require.Equal(t, 429, pe.HTTPStatus())
	require.Equal(t, ProviderErrorKindRateLimited, pe.Kind())
	require.Equal(t, "rate_limited", pe.Code())
	require.True(t, pe.Retryable())
	require.ErrorIs(t, pe, context.DeadlineExceeded)
	require.Contains(t, pe.Error(), "bedrock")
	require.Contains(t, pe.Error(), "429")
}

func TestIsRateLimited(t *testing.T) {
	require.True(t, IsRateLimited(fmt.Errorf("wrapped: %w", ErrRateLimited)))
	require.True(t, IsRateLimited(NewProviderError("anthropic", "messages.new", 429, ProviderErrorKindRateLimited, "", "", true, nil)))
	require.False(t, IsRateLimited(NewProviderError("anthropic", "messages.new", 500, ProviderErrorKindUnavailable, "", "", true, nil)))
	require.False(t, IsRateLimited(errors.New("boom")))
	require.False(t, IsRateLimited(nil))
}

func TestTextOfConcatenatesTextParts(t *testing.T) {
	msg := Message{Role: RoleAssistant, Parts: []Part{
		TextPart{Text: "hello "},
		ThinkingPart{Text: "ignored"},
		TextPart{Text: "world"},
	}}
	require.Equal(t, "hello world", TextOf(msg))
}
