// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
)

// =============================================================================
// STREAM READER
// =============================================================================

// maxLineSize bounds one NDJSON line. Generate chunks are tiny; the final
// chunk with the context array is the largest.
const maxLineSize = 4 * 1024 * 1024

// StreamReader reads newline-delimited GenerateResponse objects.
type StreamReader struct {
	reader  *bufio.Reader
	skipped int
}

// NewStreamReader creates a new stream reader from an io.Reader.
func NewStreamReader(r io.Reader) *StreamReader {
	return &StreamReader{reader: bufio.NewReaderSize(r, 64*1024)}
}

// Next returns the next chunk. Blank and malformed lines are skipped. It
// returns io.EOF when the body ends cleanly between lines.
func (s *StreamReader) Next() (*GenerateResponse, error) {
	for {
		line, err := s.readLine()
		if len(line) > 0 {
			var chunk GenerateResponse
			if jsonErr := json.Unmarshal(line, &chunk); jsonErr == nil {
				return &chunk, nil
			}
			s.skipped++
		}
		if err != nil {
			return nil, err
		}
	}
}

// Skipped returns how many lines could not be decoded.
func (s *StreamReader) Skipped() int {
	return s.skipped
}

func (s *StreamReader) readLine() ([]byte, error) {
	var line []byte
	for {
		part, isPrefix, err := s.reader.ReadLine()
		line = append(line, part...)
		if len(line) > maxLineSize {
			return nil, bufio.ErrTooLong
		}
		if err != nil {
			return bytes.TrimSpace(line), err
		}
		if !isPrefix {
			return bytes.TrimSpace(line), nil
		}
	}
}
