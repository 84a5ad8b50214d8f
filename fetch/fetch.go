// Package fetch streams content from the daemon to a caller-supplied sink.
//
// Bytes are delivered in fixed-size chunks and the next chunk is not read
// until the callback returns, so memory stays bounded by the chunk size
// regardless of payload size. The callback's chunk slice is reused and is
// only valid for the duration of the call.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"xdao.co/gamex/kubo"
	"xdao.co/gamex/probe"
)

// DefaultChunkSize is the size of every delivered chunk except the last.
const DefaultChunkSize = 256 << 10

// ChunkFunc receives each chunk with the cumulative byte count and the
// advertised total. total is 0 when the daemon sent no length; it must not
// be used as a completion signal in that case.
type ChunkFunc func(chunk []byte, loaded, total uint64) error

type Progress struct {
	Loaded uint64 `json:"loaded"`
	Total  uint64 `json:"total"`
}

// Fraction returns Loaded/Total, or -1 when the total is unknown.
func (p Progress) Fraction() float64 {
	if p.Total == 0 {
		return -1
	}
	return float64(p.Loaded) / float64(p.Total)
}

type Options struct {
	// ChunkSize overrides DefaultChunkSize when positive.
	ChunkSize int
	// Prober is used by StreamChecked. If nil, one is built from the client.
	Prober *probe.Prober
}

type Engine struct {
	client    *kubo.Client
	prober    *probe.Prober
	chunkSize int
	log       logrus.FieldLogger
}

func New(client *kubo.Client, opts Options) *Engine {
	e := &Engine{
		client:    client,
		prober:    opts.Prober,
		chunkSize: opts.ChunkSize,
		log:       client.Logger(),
	}
	if e.chunkSize <= 0 {
		e.chunkSize = DefaultChunkSize
	}
	if e.prober == nil {
		e.prober = probe.New(client)
	}
	return e
}

var errBudget = errors.New("fetch: transfer budget exceeded")

// Stream retrieves id through the daemon's cat command.
//
// No availability probing happens here. A zero budget leaves the transfer
// unbounded; a positive budget aborts the whole transfer, not just the
// connection, once exceeded, and the error matches kubo.ErrDownloadTimeout.
// Errors returned by onChunk end the transfer and are returned unchanged.
func (e *Engine) Stream(ctx context.Context, id string, onChunk ChunkFunc, budget time.Duration) error {
	if id == "" {
		return errors.New("fetch: empty identifier")
	}
	ctx, cancel := withBudget(ctx, budget)
	defer cancel()

	log := e.log.WithFields(logrus.Fields{"cid": id, "transfer": uuid.NewString()})
	log.Debug("cat started")

	resp, err := e.client.Post(ctx, "cat", kubo.Arg(id), nil, "")
	if err != nil {
		return classify(ctx, id, budget, err)
	}
	defer resp.Body.Close()

	loaded, err := e.pump(ctx, id, budget, resp, onChunk)
	if err != nil {
		log.WithError(err).WithField("bytes", loaded).Debug("cat aborted")
		return err
	}
	log.WithField("bytes", loaded).Debug("cat finished")
	return nil
}

// StreamChecked probes availability first and fails with kubo.ErrNotAvailable
// without issuing the transfer when no provider answers within probeBudget.
func (e *Engine) StreamChecked(ctx context.Context, id string, onChunk ChunkFunc, probeBudget, budget time.Duration) error {
	if !e.prober.Check(ctx, id, probeBudget) {
		return fmt.Errorf("fetch: %s: %w", id, kubo.ErrNotAvailable)
	}
	return e.Stream(ctx, id, onChunk, budget)
}

// StreamURL downloads a URL that carries no content identifier, with the
// same chunking and timeout semantics as Stream.
func (e *Engine) StreamURL(ctx context.Context, rawURL string, onChunk ChunkFunc, budget time.Duration) error {
	ctx, cancel := withBudget(ctx, budget)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return &kubo.TransportError{Op: "get", Err: err}
	}
	resp, err := e.client.HTTPClient().Do(req)
	if err != nil {
		return classify(ctx, rawURL, budget, &kubo.TransportError{Op: "get", Err: err})
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &kubo.TransportError{Op: "get", StatusCode: resp.StatusCode, Message: rawURL}
	}
	_, err = e.pump(ctx, rawURL, budget, resp, onChunk)
	return err
}

func (e *Engine) pump(ctx context.Context, what string, budget time.Duration, resp *http.Response, onChunk ChunkFunc) (uint64, error) {
	total := contentLength(resp)
	buf := make([]byte, e.chunkSize)
	var loaded uint64
	for {
		n, rerr := io.ReadFull(resp.Body, buf)
		if n > 0 {
			loaded += uint64(n)
			if err := onChunk(buf[:n], loaded, total); err != nil {
				return loaded, err
			}
		}
		switch {
		case rerr == nil:
			continue
		case errors.Is(rerr, io.EOF), errors.Is(rerr, io.ErrUnexpectedEOF) && ctx.Err() == nil:
			if total > 0 && loaded != total {
				return loaded, &kubo.TransportError{
					Op:      "read",
					Message: fmt.Sprintf("%s: expected %d bytes, got %d", what, total, loaded),
				}
			}
			return loaded, nil
		default:
			return loaded, classify(ctx, what, budget, &kubo.TransportError{Op: "read", Err: rerr})
		}
	}
}

// ToWriter adapts w into a ChunkFunc. onProgress may be nil.
func ToWriter(w io.Writer, onProgress func(Progress)) ChunkFunc {
	return func(chunk []byte, loaded, total uint64) error {
		if _, err := w.Write(chunk); err != nil {
			return err
		}
		if onProgress != nil {
			onProgress(Progress{Loaded: loaded, Total: total})
		}
		return nil
	}
}

func withBudget(ctx context.Context, budget time.Duration) (context.Context, context.CancelFunc) {
	if budget <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeoutCause(ctx, budget, errBudget)
}

// classify turns a failed request into a timeout, a cancellation or a
// transport error.
func classify(ctx context.Context, what string, budget time.Duration, err error) error {
	if ctx.Err() == nil {
		return err
	}
	if errors.Is(context.Cause(ctx), errBudget) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("fetch: %s after %s: %w", what, budget, kubo.ErrDownloadTimeout)
	}
	return fmt.Errorf("fetch: %s: %w", what, ctx.Err())
}

// contentLength reads the advertised size once, preferring Content-Length and
// falling back to Kubo's X-Content-Length.
func contentLength(resp *http.Response) uint64 {
	if resp.ContentLength > 0 {
		return uint64(resp.ContentLength)
	}
	if v := resp.Header.Get("X-Content-Length"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			return n
		}
	}
	return 0
}
