package main

import (
	"bytes"
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"xdao.co/gamex/distgrpc"
	"xdao.co/gamex/kubo/kubotest"
)

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func TestRun_ServesUntilCanceled(t *testing.T) {
	d := kubotest.New(t)
	id := d.Put([]byte("seeded asset"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addrs := make(chan net.Addr, 1)
	codes := make(chan int, 1)
	var logs syncBuffer
	go func() {
		codes <- run(ctx, []string{"--api-url", d.URL(), "--grpc-listen", "127.0.0.1:0"}, &logs, func(a net.Addr) { addrs <- a })
	}()

	var addr net.Addr
	select {
	case addr = <-addrs:
	case code := <-codes:
		t.Fatalf("run exited early with %d: %s", code, logs.String())
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start")
	}

	client, err := distgrpc.Dial(addr.String(), distgrpc.DialOptions{Timeout: 2 * time.Second})
	require.NoError(t, err)
	defer client.Close()
	client.Timeout = 5 * time.Second

	ok, err := client.Available(context.Background(), id)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, client.Pin(context.Background(), id))
	require.True(t, d.Pinned(id))

	cancel()
	select {
	case code := <-codes:
		require.Equal(t, 0, code)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
	require.Contains(t, logs.String(), "gamex-distd listening")
}

func TestRun_StalledTransferDoesNotBlockShutdown(t *testing.T) {
	d := kubotest.New(t)
	id := d.Put(make([]byte, 64*1024))
	d.SetCatStall(true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addrs := make(chan net.Addr, 1)
	codes := make(chan int, 1)
	var logs syncBuffer
	go func() {
		codes <- run(ctx, []string{
			"--api-url", d.URL(),
			"--grpc-listen", "127.0.0.1:0",
			"--shutdown-grace", "200ms",
		}, &logs, func(a net.Addr) { addrs <- a })
	}()

	var addr net.Addr
	select {
	case addr = <-addrs:
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start")
	}

	client, err := distgrpc.Dial(addr.String(), distgrpc.DialOptions{Timeout: 2 * time.Second})
	require.NoError(t, err)
	defer client.Close()

	catDone := make(chan error, 1)
	go func() {
		catDone <- client.Cat(context.Background(), id, func([]byte, uint64, uint64) error { return nil })
	}()
	require.Eventually(t, func() bool { return d.Calls("cat") == 1 }, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case code := <-codes:
		require.Equal(t, 0, code)
	case <-time.After(3 * time.Second):
		t.Fatal("shutdown blocked by an in-flight transfer")
	}
	select {
	case err := <-catDone:
		require.Error(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("in-flight transfer was not terminated")
	}
	require.Contains(t, logs.String(), "stopping server")
}

func TestRun_InvalidConfig(t *testing.T) {
	var logs syncBuffer
	code := run(context.Background(), []string{"--api-url", "ftp://nope"}, &logs, nil)
	require.Equal(t, 2, code)
	require.Contains(t, logs.String(), "api_url must be an http(s) URL")
}
