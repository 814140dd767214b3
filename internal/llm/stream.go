// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package llm

import "sync"

// =============================================================================
// PULL STREAM
// =============================================================================

// PullFunc reads the next event of a wire stream. It returns the text
// fragment carried by the event (possibly empty), done when the server
// signalled the end, or an error.
type PullFunc func() (fragment string, done bool, err error)

// pullStream adapts a PullFunc into a Stream.
type pullStream struct {
	pull    PullFunc
	release func() error

	cur  string
	err  error
	over bool

	closeOnce sync.Once
	closeErr  error
}

// NewStream returns a Stream that reads fragments with pull and calls
// release exactly once, on exhaustion, failure or Close, whichever happens
// first. Empty fragments are skipped.
func NewStream(pull PullFunc, release func() error) Stream {
	return &pullStream{pull: pull, release: release}
}

func (s *pullStream) Next() bool {
	if s.over {
		return false
	}
	for {
		frag, done, err := s.pull()
		if err != nil {
			s.err = err
			s.finish()
			return false
		}
		if frag != "" {
			s.cur = frag
			// A final event may carry text; hand it out, end on the next call.
			if done {
				s.pull = func() (string, bool, error) { return "", true, nil }
			}
			return true
		}
		if done {
			s.finish()
			return false
		}
	}
}

func (s *pullStream) finish() {
	s.over = true
	s.cur = ""
	s.Close()
}

func (s *pullStream) Current() string { return s.cur }

func (s *pullStream) Err() error { return s.err }

func (s *pullStream) Close() error {
	s.closeOnce.Do(func() {
		if s.release != nil {
			s.closeErr = s.release()
		}
	})
	return s.closeErr
}

// Primed reads the first fragment of s so that request-level failures are
// returned to the caller of Stream instead of on the first Next. On error s
// is closed. The returned stream replays the fragment it read.
func Primed(s Stream) (Stream, error) {
	if s.Next() {
		return &primedStream{Stream: s, first: s.Current(), pending: true}, nil
	}
	if err := s.Err(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

type primedStream struct {
	Stream
	first   string
	pending bool
}

func (p *primedStream) Next() bool {
	if p.pending {
		p.pending = false
		return true
	}
	p.first = ""
	return p.Stream.Next()
}

func (p *primedStream) Current() string {
	if p.first != "" {
		return p.first
	}
	return p.Stream.Current()
}
