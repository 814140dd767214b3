// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusError_Mapping(t *testing.T) {
	tests := []struct {
		status int
		want   ErrorKind
	}{
		{http.StatusUnauthorized, ErrorAuth},
		{http.StatusForbidden, ErrorAuth},
		{http.StatusNotFound, ErrorModelUnavailable},
		{http.StatusTooManyRequests, ErrorRateLimited},
		{http.StatusBadGateway, ErrorNetwork},
		{http.StatusServiceUnavailable, ErrorNetwork},
		{http.StatusBadRequest, ErrorProtocol},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			err := StatusError("openai", tt.status, "")
			assert.Equal(t, tt.want, err.Kind)
			assert.Equal(t, tt.want, KindOf(fmt.Errorf("wrapped: %w", err)))
		})
	}
}

func TestError_IsMatchesSentinelOfSameKind(t *testing.T) {
	err := fmt.Errorf("turn: %w", StatusError("anthropic", 401, "invalid x-api-key"))

	assert.True(t, errors.Is(err, ErrAuth))
	assert.True(t, IsAuth(err))
	assert.False(t, errors.Is(err, ErrNetwork))
	assert.False(t, IsModelUnavailable(err))
	assert.Contains(t, err.Error(), "anthropic: invalid x-api-key (status 401)")
}

func TestTransport_Classification(t *testing.T) {
	assert.Equal(t, ErrorCancelled, KindOf(Transport("ollama", context.Canceled)))
	assert.Equal(t, ErrorNetwork, KindOf(Transport("ollama", context.DeadlineExceeded)))
	assert.Equal(t, ErrorNetwork, KindOf(Transport("ollama", io.ErrUnexpectedEOF)))
	assert.Equal(t, ErrorNetwork, KindOf(Transport("ollama", errors.New("dial tcp: refused"))))

	orig := StatusError("ollama", 404, "model 'x' not found")
	assert.Same(t, orig, Transport("ollama", orig).(*Error))
	assert.Nil(t, Transport("ollama", nil))
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(StatusError("p", 503, "")))
	assert.True(t, Retryable(StatusError("p", 429, "")))
	assert.False(t, Retryable(StatusError("p", 401, "")))
	assert.False(t, Retryable(StatusError("p", 404, "")))
	assert.False(t, Retryable(StatusError("p", 400, "")))
	assert.False(t, Retryable(context.Canceled))
	assert.False(t, Retryable(errors.New("plain")))
}

func TestUserMessage(t *testing.T) {
	require.Equal(t, "", UserMessage(nil))
	assert.Contains(t, UserMessage(StatusError("anthropic", 401, "")), "authentication failed for anthropic")
	assert.Contains(t, UserMessage(Transport("ollama", io.ErrUnexpectedEOF)), "could not reach ollama")
	assert.Equal(t, "Error: boom", UserMessage(errors.New("boom")))
}

func TestKind_RoundTrip(t *testing.T) {
	for _, k := range Kinds() {
		b, err := k.MarshalText()
		require.NoError(t, err)
		var back Kind
		require.NoError(t, back.UnmarshalText(b))
		assert.Equal(t, k, back)
	}
	_, err := ParseKind("bard")
	assert.Error(t, err)

	k, err := ParseKind("openai-compatible")
	require.NoError(t, err)
	assert.Equal(t, KindOpenAICompatible, k)
}
