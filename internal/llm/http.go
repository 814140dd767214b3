// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package llm

import (
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// =============================================================================
// SHARED HTTP PLUMBING
// =============================================================================

const (
	// MaxResponseSize caps non-streaming response bodies.
	MaxResponseSize = 10 * 1024 * 1024

	// DefaultHeaderTimeout bounds connect plus time-to-first-byte for
	// streaming requests. The stream body itself has no deadline.
	DefaultHeaderTimeout = 60 * time.Second

	// UserAgent is sent on every raw HTTP request.
	UserAgent = "termchat/0.3"
)

// PERFORMANCE: Pooled transport; every backend reuses connections.
func newTransport(headerTimeout time.Duration) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: headerTimeout,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}
}

// NewHTTPClient returns a client for request/response calls, bounded by
// timeout end to end.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: newTransport(0),
		Timeout:   timeout,
	}
}

// NewStreamingHTTPClient returns a client for streaming calls. headerTimeout
// bounds the wait for response headers; the body may stream indefinitely
// and is stopped through the request context.
func NewStreamingHTTPClient(headerTimeout time.Duration) *http.Client {
	if headerTimeout <= 0 {
		headerTimeout = DefaultHeaderTimeout
	}
	return &http.Client{Transport: newTransport(headerTimeout)}
}

// ReadBody reads a response body up to MaxResponseSize.
func ReadBody(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if len(body) > MaxResponseSize {
		return nil, fmt.Errorf("response exceeded maximum size of %d bytes", MaxResponseSize)
	}
	return body, nil
}
