package fetch_test

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"xdao.co/gamex/fetch"
	"xdao.co/gamex/kubo"
	"xdao.co/gamex/kubo/kubotest"
	"xdao.co/gamex/upload"
)

const chunkSize = 1000

func payload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i * 31)
	}
	return b
}

type recorder struct {
	buf    bytes.Buffer
	chunks []int
	loaded []uint64
	totals []uint64
}

func (r *recorder) onChunk(chunk []byte, loaded, total uint64) error {
	r.buf.Write(chunk)
	r.chunks = append(r.chunks, len(chunk))
	r.loaded = append(r.loaded, loaded)
	r.totals = append(r.totals, total)
	return nil
}

func TestStream_RoundTripThroughUpload(t *testing.T) {
	d := kubotest.New(t)
	c := d.Client(t)
	up := upload.New(c, nil)
	eng := fetch.New(c, fetch.Options{ChunkSize: chunkSize})

	for _, n := range []int{0, 1, chunkSize - 1, chunkSize, 3*chunkSize + 17} {
		want := payload(n)
		res, err := up.Small(context.Background(), want, "asset.bin")
		require.NoError(t, err)
		require.Equal(t, uint64(n), res.Size)

		var rec recorder
		require.NoError(t, eng.Stream(context.Background(), res.Identifier, rec.onChunk, 0))
		require.True(t, bytes.Equal(want, rec.buf.Bytes()), "payload of %d bytes", n)
	}
}

func TestStream_FixedChunksAndMonotonicProgress(t *testing.T) {
	d := kubotest.New(t)
	want := payload(5*chunkSize + 123)
	id := d.Put(want)

	var rec recorder
	eng := fetch.New(d.Client(t), fetch.Options{ChunkSize: chunkSize})
	require.NoError(t, eng.Stream(context.Background(), id, rec.onChunk, time.Second))

	require.Len(t, rec.chunks, 6)
	for _, n := range rec.chunks[:5] {
		require.Equal(t, chunkSize, n)
	}
	require.Equal(t, 123, rec.chunks[5])

	for i := 1; i < len(rec.loaded); i++ {
		require.GreaterOrEqual(t, rec.loaded[i], rec.loaded[i-1])
	}
	require.Equal(t, uint64(len(want)), rec.loaded[len(rec.loaded)-1])
	for _, total := range rec.totals {
		require.Equal(t, uint64(len(want)), total)
	}
}

func TestStream_UnknownLengthReportsZeroTotal(t *testing.T) {
	d := kubotest.New(t)
	d.SetOmitLength(true)
	want := payload(2*chunkSize + 5)
	id := d.Put(want)

	var rec recorder
	eng := fetch.New(d.Client(t), fetch.Options{ChunkSize: chunkSize})
	require.NoError(t, eng.Stream(context.Background(), id, rec.onChunk, 0))
	require.Equal(t, want, rec.buf.Bytes())
	for _, total := range rec.totals {
		require.Zero(t, total)
	}
	require.Equal(t, uint64(len(want)), rec.loaded[len(rec.loaded)-1])
}

func TestStream_BudgetAbortsStalledTransfer(t *testing.T) {
	d := kubotest.New(t)
	d.SetCatStall(true)
	id := d.Put(payload(64 << 10))

	var rec recorder
	eng := fetch.New(d.Client(t), fetch.Options{ChunkSize: 512})
	start := time.Now()
	err := eng.Stream(context.Background(), id, rec.onChunk, 150*time.Millisecond)
	require.Error(t, err)
	require.True(t, kubo.IsTimeout(err), "got %v", err)
	require.False(t, kubo.IsTransport(err))
	require.Less(t, time.Since(start), 2*time.Second)
	require.NotEmpty(t, rec.chunks)
}

func TestStream_CallerCancellationIsNotTimeout(t *testing.T) {
	d := kubotest.New(t)
	d.SetCatStall(true)
	id := d.Put(payload(64 << 10))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	eng := fetch.New(d.Client(t), fetch.Options{ChunkSize: 512})
	err := eng.Stream(ctx, id, func(chunk []byte, loaded, total uint64) error {
		cancel()
		return nil
	}, time.Minute)
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, kubo.IsTimeout(err))
	require.True(t, kubo.IsCanceled(err))
}

func TestStream_SinkErrorPropagates(t *testing.T) {
	d := kubotest.New(t)
	id := d.Put(payload(4 * chunkSize))
	errDisk := errors.New("disk full")

	calls := 0
	eng := fetch.New(d.Client(t), fetch.Options{ChunkSize: chunkSize})
	err := eng.Stream(context.Background(), id, func([]byte, uint64, uint64) error {
		calls++
		if calls == 2 {
			return errDisk
		}
		return nil
	}, 0)
	require.ErrorIs(t, err, errDisk)
	require.Equal(t, 2, calls)
}

func TestStream_MissingContentIsTransportError(t *testing.T) {
	d := kubotest.New(t)
	eng := fetch.New(d.Client(t), fetch.Options{})
	err := eng.Stream(context.Background(), "bafyMissing", func([]byte, uint64, uint64) error { return nil }, time.Second)
	require.True(t, kubo.IsTransport(err))
	require.False(t, kubo.IsTimeout(err))
}

func TestStreamChecked_UnavailableSkipsCat(t *testing.T) {
	d := kubotest.New(t)
	eng := fetch.New(d.Client(t), fetch.Options{})

	err := eng.StreamChecked(context.Background(), "bafyMissing", func([]byte, uint64, uint64) error {
		t.Fatalf("onChunk must not be called")
		return nil
	}, time.Second, 0)
	require.ErrorIs(t, err, kubo.ErrNotAvailable)
	require.True(t, kubo.IsNotAvailable(err))
	require.Equal(t, 1, d.Calls("routing/findprovs"))
	require.Zero(t, d.Calls("cat"))
}

func TestStreamChecked_Available(t *testing.T) {
	d := kubotest.New(t)
	want := payload(3000)
	id := d.Put(want)

	var buf bytes.Buffer
	var last fetch.Progress
	eng := fetch.New(d.Client(t), fetch.Options{})
	err := eng.StreamChecked(context.Background(), id, fetch.ToWriter(&buf, func(p fetch.Progress) { last = p }), time.Second, time.Second)
	require.NoError(t, err)
	require.Equal(t, want, buf.Bytes())
	require.Equal(t, fetch.Progress{Loaded: 3000, Total: 3000}, last)
	require.Equal(t, 1.0, last.Fraction())
}

func TestStreamURL(t *testing.T) {
	want := payload(2500)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/game.exe" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(want)
	}))
	defer srv.Close()

	d := kubotest.New(t)
	eng := fetch.New(d.Client(t), fetch.Options{ChunkSize: chunkSize})

	var rec recorder
	require.NoError(t, eng.StreamURL(context.Background(), srv.URL+"/game.exe", rec.onChunk, time.Second))
	require.Equal(t, want, rec.buf.Bytes())

	err := eng.StreamURL(context.Background(), srv.URL+"/missing", rec.onChunk, time.Second)
	require.True(t, kubo.IsTransport(err))
}

func TestProgressFraction(t *testing.T) {
	require.Equal(t, -1.0, fetch.Progress{Loaded: 10}.Fraction())
	require.Equal(t, 0.5, fetch.Progress{Loaded: 5, Total: 10}.Fraction())
}
