package transport

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// fakeMCP is a scripted tool server. It answers the four methods the
// connector uses and records what it saw.
type fakeMCP struct {
	mu        sync.Mutex
	accept    func(version string) bool
	rejectRPC bool
	expired   map[string]bool
	tools     []*mcp.Tool
	onTool    func(params mcp.CallToolParams) (any, *jsonrpc.Error)
	methods   map[string]int
	paths     map[string]int
	headers   []http.Header
	versions  []string
	sessions  int
}

func newFakeMCP() *fakeMCP {
	return &fakeMCP{
		accept:  func(string) bool { return true },
		expired: make(map[string]bool),
		methods: make(map[string]int),
		paths:   make(map[string]int),
		tools: []*mcp.Tool{
			{Name: "browser_navigate", InputSchema: map[string]any{"type": "object"}},
			{Name: "browser_snapshot", InputSchema: map[string]any{"type": "object"}},
		},
		onTool: func(params mcp.CallToolParams) (any, *jsonrpc.Error) {
			return map[string]any{
				"content": []map[string]any{{"type": "text", "text": "called " + params.Name}},
			}, nil
		},
	}
}

func (f *fakeMCP) count(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.methods[method]
}

func (f *fakeMCP) hits(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.paths[path]
}

func (f *fakeMCP) seenVersions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.versions...)
}

func (f *fakeMCP) lastHeader() http.Header {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.headers) == 0 {
		return nil
	}
	return f.headers[len(f.headers)-1]
}

func (f *fakeMCP) expire(sessionID string) {
	f.mu.Lock()
	f.expired[sessionID] = true
	f.mu.Unlock()
}

type fakeReply struct {
	status    int
	body      []byte
	sessionID string
}

// respond computes the reply for one POSTed envelope.
func (f *fakeMCP) respond(r *http.Request) (*jsonrpc.Request, fakeReply) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fakeReply{status: http.StatusBadRequest, body: []byte(err.Error())}
	}
	msg, err := jsonrpc.DecodeMessage(raw)
	if err != nil {
		return nil, fakeReply{status: http.StatusBadRequest, body: []byte(err.Error())}
	}
	req, ok := msg.(*jsonrpc.Request)
	if !ok {
		return nil, fakeReply{status: http.StatusBadRequest, body: []byte("not a request")}
	}

	f.mu.Lock()
	f.methods[req.Method]++
	f.headers = append(f.headers, r.Header.Clone())
	expired := f.expired[r.Header.Get(headerSessionID)]
	f.mu.Unlock()

	if expired {
		return req, fakeReply{status: http.StatusNotFound, body: []byte("session not found")}
	}

	switch req.Method {
	case methodInitialize:
		var params mcp.InitializeParams
		_ = json.Unmarshal(req.Params, &params)
		f.mu.Lock()
		f.versions = append(f.versions, params.ProtocolVersion)
		accepted := f.accept(params.ProtocolVersion)
		rejectRPC := f.rejectRPC
		f.mu.Unlock()
		if !accepted {
			if rejectRPC {
				return req, errorReply(req.ID, &jsonrpc.Error{Code: -32602, Message: "Unsupported protocol version: " + params.ProtocolVersion})
			}
			return req, fakeReply{status: http.StatusBadRequest, body: []byte("Bad Request: Unsupported protocol version")}
		}
		f.mu.Lock()
		f.sessions++
		sessionID := fmt.Sprintf("s%d", f.sessions)
		f.mu.Unlock()
		reply := resultReply(req.ID, &mcp.InitializeResult{
			ProtocolVersion: params.ProtocolVersion,
			ServerInfo:      &mcp.Implementation{Name: "fake", Version: "1.0.0"},
			Capabilities:    &mcp.ServerCapabilities{},
		})
		reply.sessionID = sessionID
		return req, reply
	case methodInitialized:
		return req, fakeReply{status: http.StatusAccepted}
	case methodToolsList:
		return req, resultReply(req.ID, &mcp.ListToolsResult{Tools: f.tools})
	case methodToolsCall:
		var params mcp.CallToolParams
		_ = json.Unmarshal(req.Params, &params)
		result, rpcErr := f.onTool(params)
		if rpcErr != nil {
			return req, errorReply(req.ID, rpcErr)
		}
		return req, resultReply(req.ID, result)
	default:
		return req, errorReply(req.ID, &jsonrpc.Error{Code: jsonrpc.CodeMethodNotFound, Message: "method not found"})
	}
}

// streamable serves the header-negotiated flavor on /mcp.
func (f *fakeMCP) streamable(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.paths[r.URL.Path]++
	f.mu.Unlock()
	if r.Method != http.MethodPost || r.URL.Path != "/mcp" {
		http.NotFound(w, r)
		return
	}
	_, reply := f.respond(r)
	if reply.sessionID != "" {
		w.Header().Set(headerSessionID, reply.sessionID)
	}
	if len(reply.body) > 0 && reply.status == http.StatusOK {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(reply.status)
	_, _ = w.Write(reply.body)
}

func resultReply(id jsonrpc.ID, result any) fakeReply {
	raw, err := json.Marshal(result)
	if err != nil {
		return fakeReply{status: http.StatusInternalServerError, body: []byte(err.Error())}
	}
	wire, err := jsonrpc.EncodeMessage(&jsonrpc.Response{ID: id, Result: raw})
	if err != nil {
		return fakeReply{status: http.StatusInternalServerError, body: []byte(err.Error())}
	}
	return fakeReply{status: http.StatusOK, body: wire}
}

func errorReply(id jsonrpc.ID, rpcErr *jsonrpc.Error) fakeReply {
	wire, err := jsonrpc.EncodeMessage(&jsonrpc.Response{ID: id, Error: rpcErr})
	if err != nil {
		return fakeReply{status: http.StatusInternalServerError, body: []byte(err.Error())}
	}
	return fakeReply{status: http.StatusOK, body: wire}
}

// legacyServer serves the push-channel flavor: GET /sse streams a greeting
// and every reply; POST /sse?sessionId= answers 202.
type legacyServer struct {
	*fakeMCP
	sessionID string
	events    chan []byte
	stop      chan struct{}

	holdMu sync.Mutex
	hold   bool
	held   [][]byte
}

func newLegacyServer(t *testing.T, fake *fakeMCP) (*legacyServer, *httptest.Server) {
	t.Helper()
	ls := &legacyServer{
		fakeMCP:   fake,
		sessionID: "legacy-123",
		events:    make(chan []byte, 16),
		stop:      make(chan struct{}),
	}
	server := httptest.NewServer(http.HandlerFunc(ls.serveHTTP))
	t.Cleanup(func() {
		close(ls.stop)
		server.Close()
	})
	return ls, server
}

func (ls *legacyServer) setHold(hold bool) {
	ls.holdMu.Lock()
	ls.hold = hold
	ls.holdMu.Unlock()
}

// release pushes every held reply.
func (ls *legacyServer) release() {
	ls.holdMu.Lock()
	held := ls.held
	ls.held = nil
	ls.holdMu.Unlock()
	for _, body := range held {
		ls.events <- body
	}
}

func (ls *legacyServer) serveHTTP(w http.ResponseWriter, r *http.Request) {
	ls.mu.Lock()
	ls.paths[r.URL.Path]++
	ls.mu.Unlock()

	if r.URL.Path != "/sse" {
		http.NotFound(w, r)
		return
	}
	switch r.Method {
	case http.MethodGet:
		ls.stream(w, r)
	case http.MethodPost:
		if r.URL.Query().Get("sessionId") != ls.sessionID {
			http.Error(w, "missing session", http.StatusBadRequest)
			return
		}
		req, reply := ls.respond(r)
		if req != nil && req.ID.IsValid() && len(reply.body) > 0 {
			ls.holdMu.Lock()
			hold := ls.hold && req.Method == methodToolsCall
			if hold {
				ls.held = append(ls.held, reply.body)
			}
			ls.holdMu.Unlock()
			if !hold {
				ls.events <- reply.body
			}
		}
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("Accepted"))
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (ls *legacyServer) stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "no flusher", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "event: endpoint\ndata: /sse?sessionId=%s\n\n", ls.sessionID)
	fmt.Fprintf(w, "event: endpoint\ndata: /sse?sessionId=ignored-later\n\n")
	flusher.Flush()
	for {
		select {
		case body := <-ls.events:
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", body)
			flusher.Flush()
		case <-r.Context().Done():
			return
		case <-ls.stop:
			return
		}
	}
}
