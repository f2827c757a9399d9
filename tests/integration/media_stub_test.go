package integration

import (
	"context"
	"io"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"
)

// mediaStub 模拟远端媒体源，按路径返回固定负载并统计命中次数，供集成测试复用。
type mediaStub struct {
	server   *http.Server
	listener net.Listener
	URL      string

	mu       sync.Mutex
	hits     map[string]int
	payloads map[string][]byte
	failPath string
}

func newMediaStub(t *testing.T, payloads map[string][]byte) *mediaStub {
	t.Helper()

	stub := &mediaStub{
		hits:     make(map[string]int),
		payloads: payloads,
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("unable to start media stub listener: %v", err)
	}

	server := &http.Server{Handler: http.HandlerFunc(stub.handle)}
	stub.server = server
	stub.listener = listener
	stub.URL = "http://" + listener.Addr().String()

	go func() {
		_ = server.Serve(listener)
	}()

	return stub
}

func (s *mediaStub) Close() {
	if s == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if s.server != nil {
		_ = s.server.Shutdown(ctx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}
}

func (s *mediaStub) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.hits[r.URL.Path]++
	body, ok := s.payloads[r.URL.Path]
	fail := s.failPath != "" && s.failPath == r.URL.Path
	s.mu.Unlock()

	if fail {
		http.Error(w, "stub failure", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "video/mp4")
	_, _ = w.Write(body)
}

// FailPath 让指定路径返回 500，用于模拟上游故障。
func (s *mediaStub) FailPath(path string) {
	s.mu.Lock()
	s.failPath = path
	s.mu.Unlock()
}

func (s *mediaStub) Hits(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

func TestMediaStubServesPayloadAndCounts(t *testing.T) {
	stub := newMediaStub(t, map[string][]byte{
		"/clips/a.mp4": []byte("clip-a-bytes"),
	})
	defer stub.Close()

	resp, err := http.Get(stub.URL + "/clips/a.mp4")
	if err != nil {
		t.Fatalf("stub request failed: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if string(body) != "clip-a-bytes" {
		t.Fatalf("unexpected stub payload: %s", string(body))
	}
	if stub.Hits("/clips/a.mp4") != 1 {
		t.Fatalf("expected 1 hit, got %d", stub.Hits("/clips/a.mp4"))
	}

	missing, err := http.Get(stub.URL + "/clips/unknown.mp4")
	if err != nil {
		t.Fatalf("stub request failed: %v", err)
	}
	missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown path, got %d", missing.StatusCode)
	}
}
