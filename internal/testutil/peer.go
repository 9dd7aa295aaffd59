package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
)

// PeerResponse describes one scripted response from a mock peer.
type PeerResponse struct {
	Status int
	Header map[string]string
	Body   any // marshaled to JSON when non-nil
}

// PeerLog records the requests a scripted peer has received.
type PeerLog struct {
	mu      sync.Mutex
	bodies  [][]byte
	header  []http.Header
	methods []string
}

// Count returns how many requests the peer has received.
func (l *PeerLog) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.bodies)
}

// Body returns the raw body of request i.
func (l *PeerLog) Body(i int) []byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.bodies[i]
}

// Header returns the headers of request i.
func (l *PeerLog) Header(i int) http.Header {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.header[i]
}

// Method returns the HTTP method of request i.
func (l *PeerLog) Method(i int) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.methods[i]
}

// NewScriptedPeer starts an httptest server replaying the given responses in
// order, repeating the last response once the script is exhausted. The
// returned PeerLog captures every request body and header set.
func NewScriptedPeer(t interface{ Cleanup(func()) }, responses ...PeerResponse) (*httptest.Server, *PeerLog) {
	log := &PeerLog{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)

		log.mu.Lock()
		idx := len(log.bodies)
		log.bodies = append(log.bodies, body)
		log.header = append(log.header, r.Header.Clone())
		log.methods = append(log.methods, r.Method)
		log.mu.Unlock()

		if idx >= len(responses) {
			idx = len(responses) - 1
		}
		resp := responses[idx]
		for k, v := range resp.Header {
			w.Header().Set(k, v)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(resp.Status)
		if resp.Body != nil {
			_ = json.NewEncoder(w).Encode(resp.Body)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, log
}
