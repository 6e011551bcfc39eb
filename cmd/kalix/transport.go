package main

import (
	"bufio"
	"encoding/json"
	"io"
	"sync"

	"kalix/internal/session"
)

// stdioTransport frames session messages as line-delimited JSON over a
// reader/writer pair (normally stdin/stdout). This is the concrete
// binding of the session's Transport interface for interactive use.
type stdioTransport struct {
	scanner *bufio.Scanner
	writer  io.Writer
	mu      sync.Mutex
}

func newStdioTransport(r io.Reader, w io.Writer) *stdioTransport {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	return &stdioTransport{scanner: scanner, writer: w}
}

func (t *stdioTransport) Receive() (session.Message, error) {
	for t.scanner.Scan() {
		line := t.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg session.Message
		if err := json.Unmarshal(line, &msg); err != nil {
			return session.Message{}, err
		}
		return msg, nil
	}
	if err := t.scanner.Err(); err != nil {
		return session.Message{}, err
	}
	return session.Message{}, io.EOF
}

func (t *stdioTransport) Send(msg session.Message) error {
	out, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := t.writer.Write(out); err != nil {
		return err
	}
	_, err = t.writer.Write([]byte{'\n'})
	return err
}
