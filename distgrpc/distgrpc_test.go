package distgrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"xdao.co/gamex/cidutil"
	"xdao.co/gamex/fetch"
	"xdao.co/gamex/kubo"
	"xdao.co/gamex/kubo/kubotest"
	"xdao.co/gamex/pin"
	"xdao.co/gamex/probe"
	"xdao.co/gamex/upload"
)

func startDist(t *testing.T, d *kubotest.Daemon, downloadBudget time.Duration) *Client {
	t.Helper()
	return startDistChunked(t, d, downloadBudget, 1000)
}

func startDistChunked(t *testing.T, d *kubotest.Daemon, downloadBudget time.Duration, chunkSize int) *Client {
	t.Helper()
	c := d.Client(t)
	prober := probe.New(c)
	srv := NewGRPCServer(&Server{
		Prober:         prober,
		Fetch:          fetch.New(c, fetch.Options{ChunkSize: chunkSize, Prober: prober}),
		Upload:         upload.New(c, nil),
		Pins:           pin.New(c),
		ProbeBudget:    time.Second,
		DownloadBudget: downloadBudget,
	})

	lis := bufconn.Listen(1024 * 1024)
	go func() {
		_ = srv.Serve(lis)
	}()
	t.Cleanup(srv.Stop)

	dialer := func(ctx context.Context, s string) (net.Conn, error) { return lis.Dial() }
	client, err := Dial("bufnet", DialOptions{Extra: []grpc.DialOption{grpc.WithContextDialer(dialer)}})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	client.Timeout = 5 * time.Second
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestDist_AddCatRoundTrip(t *testing.T) {
	d := kubotest.New(t)
	client := startDist(t, d, 0)
	ctx := context.Background()

	payload := bytes.Repeat([]byte("0123456789"), 301)
	id, err := client.Add(ctx, payload)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if want := cidutil.CIDv1RawSHA256(payload); id != want {
		t.Fatalf("id=%s want %s", id, want)
	}
	if !d.Pinned(id) {
		t.Fatalf("expected add to pin")
	}

	ok, err := client.Available(ctx, id)
	if err != nil || !ok {
		t.Fatalf("Available=%v, %v", ok, err)
	}

	var got bytes.Buffer
	var lastLoaded, lastTotal uint64
	err = client.Cat(ctx, id, func(chunk []byte, loaded, total uint64) error {
		if loaded < lastLoaded {
			t.Errorf("loaded went backwards: %d < %d", loaded, lastLoaded)
		}
		lastLoaded, lastTotal = loaded, total
		got.Write(chunk)
		return nil
	})
	if err != nil {
		t.Fatalf("Cat: %v", err)
	}
	if !bytes.Equal(got.Bytes(), payload) {
		t.Fatalf("payload mismatch: %d bytes", got.Len())
	}
	if lastLoaded != uint64(len(payload)) || lastTotal != uint64(len(payload)) {
		t.Fatalf("progress %d/%d", lastLoaded, lastTotal)
	}
}

func TestDist_CatChunkLargerThanMessageLimit(t *testing.T) {
	d := kubotest.New(t)
	payload := bytes.Repeat([]byte("abcdefgh"), (6<<20)/8)
	id := d.Put(payload)
	client := startDistChunked(t, d, 0, 5<<20)

	var got bytes.Buffer
	frames := 0
	err := client.Cat(context.Background(), id, func(chunk []byte, loaded, total uint64) error {
		if len(chunk) > MaxFrameBytes {
			t.Errorf("frame of %d bytes", len(chunk))
		}
		frames++
		got.Write(chunk)
		return nil
	})
	if err != nil {
		t.Fatalf("Cat: %v", err)
	}
	if !bytes.Equal(got.Bytes(), payload) {
		t.Fatalf("payload mismatch: %d bytes", got.Len())
	}
	if frames < 6 {
		t.Fatalf("expected the stream to be split, got %d frames", frames)
	}
}

func TestDist_AddJSON(t *testing.T) {
	d := kubotest.New(t)
	client := startDist(t, d, 0)
	ctx := context.Background()

	id, err := client.AddJSON(ctx, map[string]any{"name": "Space Miner", "players": 4})
	if err != nil {
		t.Fatalf("AddJSON: %v", err)
	}
	var buf bytes.Buffer
	if err := client.Cat(ctx, id, fetch.ToWriter(&buf, nil)); err != nil {
		t.Fatalf("Cat: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if doc["name"] != "Space Miner" || doc["players"] != float64(4) {
		t.Fatalf("unexpected doc %v", doc)
	}
}

func TestDist_Unavailable(t *testing.T) {
	d := kubotest.New(t)
	id := d.Put([]byte("unseeded"))
	d.SetProvider(id, false)
	client := startDist(t, d, 0)
	ctx := context.Background()

	ok, err := client.Available(ctx, id)
	if err != nil || ok {
		t.Fatalf("Available=%v, %v", ok, err)
	}
	err = client.Cat(ctx, id, func([]byte, uint64, uint64) error { return nil })
	if !kubo.IsNotAvailable(err) {
		t.Fatalf("expected ErrNotAvailable, got %v", err)
	}
	if n := d.Calls("cat"); n != 0 {
		t.Fatalf("cat issued %d times", n)
	}
}

func TestDist_CatTimeout(t *testing.T) {
	d := kubotest.New(t)
	id := d.Put(bytes.Repeat([]byte{1}, 64*1024))
	d.SetCatStall(true)
	client := startDist(t, d, 200*time.Millisecond)

	start := time.Now()
	err := client.Cat(context.Background(), id, func([]byte, uint64, uint64) error { return nil })
	if !kubo.IsTimeout(err) {
		t.Fatalf("expected ErrDownloadTimeout, got %v", err)
	}
	if time.Since(start) > 3*time.Second {
		t.Fatalf("timeout not enforced")
	}
}

func TestDist_PinUnpin(t *testing.T) {
	d := kubotest.New(t)
	client := startDist(t, d, 0)
	ctx := context.Background()

	if err := client.Pin(ctx, "bafyGood"); err != nil {
		t.Fatalf("Pin: %v", err)
	}
	if !d.Pinned("bafyGood") {
		t.Fatalf("expected pinned")
	}

	d.FailPin("bafyBad")
	if err := client.Pin(ctx, "bafyBad"); !kubo.IsTransport(err) {
		t.Fatalf("expected transport error, got %v", err)
	}

	d.FailUnpin("bafyGood")
	if err := client.Unpin(ctx, "bafyGood"); err != nil {
		t.Fatalf("Unpin must not fail: %v", err)
	}
	if err := client.Unpin(ctx, "bafyNeverPinned"); err != nil {
		t.Fatalf("Unpin must not fail: %v", err)
	}
}

func TestDist_EmptyIdentifier(t *testing.T) {
	d := kubotest.New(t)
	client := startDist(t, d, 0)

	err := client.Pin(context.Background(), "")
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
}

func TestErrorMappingRoundTrip(t *testing.T) {
	cases := []struct {
		in    error
		code  codes.Code
		check func(error) bool
	}{
		{kubo.ErrNotAvailable, codes.NotFound, kubo.IsNotAvailable},
		{kubo.ErrDownloadTimeout, codes.DeadlineExceeded, kubo.IsTimeout},
		{&kubo.TransportError{Op: "cat", StatusCode: 500}, codes.Unavailable, kubo.IsTransport},
		{kubo.ErrCannotParseIdentifier, codes.Internal, func(err error) bool {
			return errors.Is(err, kubo.ErrCannotParseIdentifier)
		}},
		{context.Canceled, codes.Canceled, func(err error) bool { return errors.Is(err, context.Canceled) }},
	}
	for _, tc := range cases {
		st := mapErr(tc.in)
		if status.Code(st) != tc.code {
			t.Fatalf("mapErr(%v) code=%v want %v", tc.in, status.Code(st), tc.code)
		}
		if back := mapRPC(st); !tc.check(back) {
			t.Fatalf("mapRPC(%v) = %v", st, back)
		}
	}
	if mapErr(nil) != nil || mapRPC(nil) != nil {
		t.Fatalf("nil must map to nil")
	}
}
