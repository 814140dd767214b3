// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package anthropic

import (
	"bufio"
	"bytes"
	"io"
)

// =============================================================================
// SSE READER
// =============================================================================

// maxEventSize bounds a single SSE event. Text deltas are a few bytes.
const maxEventSize = 1024 * 1024

// Event is one Server-Sent Event.
type Event struct {
	Type string
	Data []byte
}

// EventReader parses Server-Sent Events from a response body.
type EventReader struct {
	reader *bufio.Reader
}

// NewEventReader creates a new SSE reader from an io.Reader.
func NewEventReader(r io.Reader) *EventReader {
	return &EventReader{reader: bufio.NewReader(r)}
}

// Next reads the next event. Comment lines and id/retry fields are
// ignored. It returns io.EOF when the stream ends with no pending event.
func (s *EventReader) Next() (Event, error) {
	var ev Event
	var data [][]byte
	size := 0

	for {
		line, err := s.reader.ReadBytes('\n')
		if err != nil && (err != io.EOF || len(line) == 0) {
			if err == io.EOF && len(data) > 0 {
				ev.Data = bytes.Join(data, []byte("\n"))
				return ev, nil
			}
			return Event{}, err
		}
		size += len(line)
		if size > maxEventSize {
			return Event{}, bufio.ErrTooLong
		}

		line = bytes.TrimRight(line, "\r\n")
		if len(line) == 0 {
			if len(data) > 0 || ev.Type != "" {
				ev.Data = bytes.Join(data, []byte("\n"))
				return ev, nil
			}
			continue
		}

		switch {
		case bytes.HasPrefix(line, []byte(":")):
		case bytes.HasPrefix(line, []byte("event:")):
			ev.Type = string(bytes.TrimSpace(line[len("event:"):]))
		case bytes.HasPrefix(line, []byte("data:")):
			v := line[len("data:"):]
			if len(v) > 0 && v[0] == ' ' {
				v = v[1:]
			}
			data = append(data, append([]byte(nil), v...))
		}
	}
}
