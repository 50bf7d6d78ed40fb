package transport

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
)

const maxEventLineBytes = 8 << 20

// eventChunk is one blank-line-delimited block of an event stream.
type eventChunk struct {
	Event string
	Data  []string
}

// LastData returns the last data line of the chunk.
func (e eventChunk) LastData() string {
	if len(e.Data) == 0 {
		return ""
	}
	return e.Data[len(e.Data)-1]
}

// readEventStream calls fn for every chunk until the reader is exhausted or
// fn returns false.
func readEventStream(r io.Reader, fn func(eventChunk) bool) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventLineBytes)

	var current eventChunk
	flush := func() bool {
		if current.Event == "" && len(current.Data) == 0 {
			return true
		}
		chunk := current
		current = eventChunk{}
		return fn(chunk)
	}

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			if !flush() {
				return nil
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "data":
			current.Data = append(current.Data, value)
		case "event":
			current.Event = value
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	flush()
	return nil
}

// looksLikeEventStream reports whether a body is an event stream rather
// than a bare JSON document.
func looksLikeEventStream(contentType string, body []byte) bool {
	if strings.Contains(strings.ToLower(contentType), "text/event-stream") {
		return true
	}
	trimmed := bytes.TrimSpace(body)
	return bytes.HasPrefix(trimmed, []byte("data:")) || bytes.HasPrefix(trimmed, []byte("event:"))
}

// decodeEnvelope decodes a JSON-RPC response envelope. Requests and
// notifications are reported as not being responses.
func decodeEnvelope(payload string) (*jsonrpc.Response, bool) {
	trimmed := strings.TrimSpace(payload)
	if trimmed == "" || !json.Valid([]byte(trimmed)) {
		return nil, false
	}
	msg, err := jsonrpc.DecodeMessage([]byte(trimmed))
	if err != nil {
		return nil, false
	}
	resp, ok := msg.(*jsonrpc.Response)
	return resp, ok
}

// responseFromEventBody picks the envelope for want from an inline event
// stream body, falling back to the last decodable envelope.
func responseFromEventBody(body []byte, want jsonrpc.ID) (*jsonrpc.Response, bool) {
	wantKey, _ := idKey(want)
	var last *jsonrpc.Response
	var matched *jsonrpc.Response
	_ = readEventStream(bytes.NewReader(body), func(chunk eventChunk) bool {
		for _, data := range chunk.Data {
			resp, ok := decodeEnvelope(data)
			if !ok {
				continue
			}
			last = resp
			if key, err := idKey(resp.ID); err == nil && wantKey != "" && key == wantKey {
				matched = resp
				return false
			}
		}
		return true
	})
	if matched != nil {
		return matched, true
	}
	return last, last != nil
}
