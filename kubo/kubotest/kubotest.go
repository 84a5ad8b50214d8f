// Package kubotest provides an in-process fake of the Kubo RPC API for tests.
//
// Identifiers are CIDv1 raw + sha2-256 of the stored bytes, so identical
// payloads always map to the same identifier like on a real daemon.
package kubotest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"xdao.co/gamex/cidutil"
	"xdao.co/gamex/kubo"
)

// Routing event types emitted by routing/findprovs.
const (
	EventPeerResponse = 1
	EventProvider     = 4
)

const fakePeerID = "12D3KooWFakePeerFakePeerFakePeerFakePeerFakePeer"

type Daemon struct {
	srv  *httptest.Server
	quit chan struct{}

	mu         sync.Mutex
	blobs      map[string][]byte
	providers  map[string]bool
	pins       map[string]bool
	failPin    map[string]bool
	failUnpin  map[string]bool
	calls      map[string]int
	peerRecs   int
	hangProvs  bool
	omitLength bool
	catStall   bool
	catChunk   int
}

// New starts a fake daemon that is shut down when the test ends.
func New(t testing.TB) *Daemon {
	t.Helper()
	d := &Daemon{
		quit:      make(chan struct{}),
		blobs:     map[string][]byte{},
		providers: map[string]bool{},
		pins:      map[string]bool{},
		failPin:   map[string]bool{},
		failUnpin: map[string]bool{},
		calls:     map[string]int{},
		peerRecs:  3,
		catChunk:  4096,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v0/add", d.handleAdd)
	mux.HandleFunc("/api/v0/cat", d.handleCat)
	mux.HandleFunc("/api/v0/pin/add", d.handlePin(true))
	mux.HandleFunc("/api/v0/pin/rm", d.handlePin(false))
	mux.HandleFunc("/api/v0/routing/findprovs", d.handleFindProvs)
	mux.HandleFunc("/api/v0/version", d.handleVersion)
	d.srv = httptest.NewServer(d.count(mux))
	t.Cleanup(d.Close)
	return d
}

func (d *Daemon) URL() string { return d.srv.URL }

// Client returns a kubo.Client pointed at the fake daemon.
func (d *Daemon) Client(t testing.TB) *kubo.Client {
	t.Helper()
	c, err := kubo.New(kubo.Options{APIURL: d.URL(), GatewayURL: d.URL()})
	if err != nil {
		t.Fatalf("kubo.New: %v", err)
	}
	return c
}

func (d *Daemon) Close() {
	d.mu.Lock()
	select {
	case <-d.quit:
	default:
		close(d.quit)
	}
	d.mu.Unlock()
	d.srv.Close()
}

// Put stores data and advertises it as provided. It returns the identifier.
func (d *Daemon) Put(data []byte) string {
	id := cidutil.CIDv1RawSHA256(data)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.blobs[id] = append([]byte(nil), data...)
	d.providers[id] = true
	return id
}

// SetProvider overrides whether findprovs reports a provider for id.
func (d *Daemon) SetProvider(id string, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.providers[id] = ok
}

// SetPeerRecords sets how many Type 1 records precede the findprovs verdict.
func (d *Daemon) SetPeerRecords(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.peerRecs = n
}

// SetHangFindProvs makes findprovs stream peer records and never terminate.
func (d *Daemon) SetHangFindProvs(v bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hangProvs = v
}

// SetOmitLength makes cat stream without any length header.
func (d *Daemon) SetOmitLength(v bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.omitLength = v
}

// SetCatStall makes cat send its first chunk and then stall.
func (d *Daemon) SetCatStall(v bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.catStall = v
}

func (d *Daemon) FailPin(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failPin[id] = true
}

func (d *Daemon) FailUnpin(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failUnpin[id] = true
}

func (d *Daemon) Pinned(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pins[id]
}

// Pin marks id as pinned without going through the API.
func (d *Daemon) Pin(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pins[id] = true
}

// Calls returns how many requests hit cmd (e.g. "cat", "pin/rm").
func (d *Daemon) Calls(cmd string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[cmd]
}

func (d *Daemon) count(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "405 - Method Not Allowed")
			return
		}
		cmd := strings.TrimPrefix(r.URL.Path, "/api/v0/")
		d.mu.Lock()
		d.calls[cmd]++
		d.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (d *Daemon) handleAdd(w http.ResponseWriter, r *http.Request) {
	f, hdr, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file argument 'path' is required")
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	id := d.Put(data)
	d.Pin(id)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"Name": hdr.Filename,
		"Hash": id,
		"Size": strconv.Itoa(len(data)),
	})
}

func (d *Daemon) handleCat(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("arg")
	d.mu.Lock()
	data, ok := d.blobs[id]
	omit, stall, chunk := d.omitLength, d.catStall, d.catChunk
	d.mu.Unlock()
	if !ok {
		writeError(w, http.StatusInternalServerError, "block was not found locally (offline): ipld: could not find "+id)
		return
	}

	flusher, _ := w.(http.Flusher)
	if !omit {
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.Header().Set("X-Content-Length", strconv.Itoa(len(data)))
	}
	w.WriteHeader(http.StatusOK)
	for off := 0; off < len(data); off += chunk {
		end := min(off+chunk, len(data))
		if _, err := w.Write(data[off:end]); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
		if stall {
			d.block(r)
			return
		}
	}
}

func (d *Daemon) handlePin(add bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("arg")
		d.mu.Lock()
		failed := (add && d.failPin[id]) || (!add && d.failUnpin[id])
		pinned := d.pins[id]
		if !failed {
			switch {
			case add:
				d.pins[id] = true
			case pinned:
				delete(d.pins, id)
			}
		}
		d.mu.Unlock()

		switch {
		case failed:
			writeError(w, http.StatusInternalServerError, "pin operation failed for "+id)
		case !add && !pinned:
			writeError(w, http.StatusInternalServerError, "not pinned or pinned indirectly")
		default:
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string][]string{"Pins": {id}})
		}
	}
}

func (d *Daemon) handleFindProvs(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("arg")
	d.mu.Lock()
	n, hang, found := d.peerRecs, d.hangProvs, d.providers[id]
	d.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)
	for i := 0; i < n; i++ {
		_ = enc.Encode(peerRecord(i))
		if flusher != nil {
			flusher.Flush()
		}
	}
	if hang {
		for i := n; ; i++ {
			select {
			case <-r.Context().Done():
				return
			case <-d.quit:
				return
			case <-time.After(20 * time.Millisecond):
			}
			if err := enc.Encode(peerRecord(i)); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
	if found {
		_ = enc.Encode(map[string]any{
			"Extra": "",
			"ID":    "",
			"Type":  EventProvider,
			"Responses": []map[string]any{
				{"ID": fakePeerID, "Addrs": []string{"/ip4/127.0.0.1/tcp/4001"}},
			},
		})
	}
}

func (d *Daemon) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"Version": "0.0.0-kubotest"})
}

func (d *Daemon) block(r *http.Request) {
	select {
	case <-r.Context().Done():
	case <-d.quit:
	}
}

func peerRecord(i int) map[string]any {
	return map[string]any{
		"Extra": "",
		"ID":    fmt.Sprintf("12D3KooWRoutingPeer%04d", i),
		"Type":  EventPeerResponse,
		"Responses": []map[string]any{
			{"ID": fmt.Sprintf("12D3KooWCandidate%04d", i), "Addrs": []string{}},
		},
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"Message": msg, "Code": 0, "Type": "error"})
}
