// Package sse reads server-sent event streams from provider responses.
package sse

import (
	"bufio"
	"bytes"
	"io"
)

// maxLineSize bounds a single SSE line; provider chunks are far smaller.
const maxLineSize = 4 << 20

// Event is one dispatched server-sent event.
type Event struct {
	Name string
	Data []byte
}

// Reader splits an event stream into events. It is not safe for concurrent use.
type Reader struct {
	scanner *bufio.Scanner
}

// NewReader returns a Reader over r.
func NewReader(r io.Reader) *Reader {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &Reader{scanner: s}
}

// Next returns the next event with a non-empty data field. It returns
// io.EOF once the stream ends; a trailing event without a blank line is
// still dispatched.
func (r *Reader) Next() (*Event, error) {
	var (
		name string
		data bytes.Buffer
		seen bool
	)
	for r.scanner.Scan() {
		line := r.scanner.Bytes()
		if len(line) == 0 {
			if seen {
				return &Event{Name: name, Data: data.Bytes()}, nil
			}
			name = ""
			continue
		}
		if line[0] == ':' {
			continue
		}
		field, value, _ := bytes.Cut(line, []byte(":"))
		value = bytes.TrimPrefix(value, []byte(" "))
		switch string(field) {
		case "event":
			name = string(value)
		case "data":
			if seen {
				data.WriteByte('\n')
			}
			data.Write(value)
			seen = true
		}
	}
	if err := r.scanner.Err(); err != nil {
		return nil, err
	}
	if seen {
		return &Event{Name: name, Data: data.Bytes()}, nil
	}
	return nil, io.EOF
}

// IsDone reports whether data is the OpenAI-style end-of-stream sentinel.
func IsDone(data []byte) bool {
	return bytes.Equal(bytes.TrimSpace(data), []byte("[DONE]"))
}
