package syncengine

import (
	"bufio"
	"bytes"
	"net/http"
	"strings"
)

// EventStream reads discrete server-sent events from an open response body.
// The server emits one data: line per snapshot with no id:/retry: framing.
// Snapshots carry the whole list, so event size is unbounded and lines are
// read without a fixed cap.
type EventStream struct {
	resp   *http.Response
	reader *bufio.Reader
}

func newEventStream(resp *http.Response) *EventStream {
	return &EventStream{resp: resp, reader: bufio.NewReader(resp.Body)}
}

// Next blocks until the next event and returns its data payload. An error
// means the subscription is broken and the stream must be reopened.
func (s *EventStream) Next() ([]byte, error) {
	var data bytes.Buffer
	seen := false
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if seen {
				return data.Bytes(), nil
			}
			continue
		}
		if strings.HasPrefix(line, "data:") {
			if seen {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
			seen = true
		}
	}
}

func (s *EventStream) Close() error {
	return s.resp.Body.Close()
}
