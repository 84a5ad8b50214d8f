package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"xdao.co/gamex/cidutil"
	"xdao.co/gamex/install"
	"xdao.co/gamex/kubo/kubotest"
)

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var out, errOut bytes.Buffer
	code := run(args, &out, &errOut)
	return code, out.String(), errOut.String()
}

func TestRun_Usage(t *testing.T) {
	code, _, stderr := runCLI(t)
	require.Equal(t, 2, code)
	require.Contains(t, stderr, "Usage:")

	code, stdout, _ := runCLI(t, "help")
	require.Equal(t, 0, code)
	require.Contains(t, stdout, "gamex get <id|url>")

	code, _, stderr = runCLI(t, "frobnicate")
	require.Equal(t, 2, code)
	require.Contains(t, stderr, "unknown command: frobnicate")
}

func TestAddThenGet(t *testing.T) {
	d := kubotest.New(t)
	dir := t.TempDir()
	src := filepath.Join(dir, "cover.png")
	payload := bytes.Repeat([]byte{0x89, 'P', 'N', 'G'}, 2048)
	require.NoError(t, os.WriteFile(src, payload, 0o600))

	code, stdout, stderr := runCLI(t, "add", "--api-url", d.URL(), src)
	require.Equal(t, 0, code, stderr)
	fields := strings.Split(strings.TrimSpace(stdout), "\t")
	require.Len(t, fields, 4)
	id := fields[0]
	require.Equal(t, cidutil.CIDv1RawSHA256(payload), id)
	require.Equal(t, "cover.png", fields[1])

	dst := filepath.Join(dir, "out.png")
	code, _, stderr = runCLI(t, "get", "--api-url", d.URL(), "--out", dst, "--progress", "ipfs://"+id)
	require.Equal(t, 0, code, stderr)
	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestGet_Unavailable(t *testing.T) {
	d := kubotest.New(t)
	id := d.Put([]byte("lonely"))
	d.SetProvider(id, false)
	dst := filepath.Join(t.TempDir(), "x")

	code, _, stderr := runCLI(t, "get", "--api-url", d.URL(), "--probe-timeout", "500ms", "--out", dst, id)
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "is not available")
	require.Zero(t, d.Calls("cat"))
	_, err := os.Stat(dst)
	require.True(t, os.IsNotExist(err))

	code, stdout, _ := runCLI(t, "probe", "--api-url", d.URL(), "--probe-timeout", "500ms", id)
	require.Equal(t, 1, code)
	require.Contains(t, stdout, "unavailable")
}

func TestAddJSON(t *testing.T) {
	d := kubotest.New(t)
	src := filepath.Join(t.TempDir(), "meta.json")
	require.NoError(t, os.WriteFile(src, []byte(`{"name":"Space Miner","price":12345678901234567890}`), 0o600))

	code, stdout, stderr := runCLI(t, "add-json", "--api-url", d.URL(), src)
	require.Equal(t, 0, code, stderr)
	require.Contains(t, stdout, "metadata.json")
	require.Contains(t, stdout, d.URL()+"/ipfs/")
}

func TestPinUnpin(t *testing.T) {
	d := kubotest.New(t)
	d.FailPin("bafyBroken")

	code, stdout, stderr := runCLI(t, "pin", "--api-url", d.URL(), "bafyOne", "bafyBroken")
	require.Equal(t, 1, code)
	require.Contains(t, stdout, "pinned bafyOne")
	require.Contains(t, stderr, "pin bafyBroken")
	require.True(t, d.Pinned("bafyOne"))

	code, stdout, stderr = runCLI(t, "unpin", "--api-url", d.URL(), "bafyOne", "bafyNeverPinned")
	require.Equal(t, 0, code)
	require.Contains(t, stdout, "unpinned bafyOne")
	require.Contains(t, stderr, "(ignored)")
}

func TestGateway(t *testing.T) {
	id := cidutil.CIDv1RawSHA256([]byte("x"))
	code, stdout, _ := runCLI(t, "gateway", "--gateway-url", "http://gw.example:8080/", "https://other.example/ipfs/"+id+"/")
	require.Equal(t, 0, code)
	require.Equal(t, "http://gw.example:8080/ipfs/"+id+"\n", stdout)

	code, _, _ = runCLI(t, "gateway", "https://cdn.example/game.zip")
	require.Equal(t, 1, code)
}

func TestIdent(t *testing.T) {
	id := cidutil.CIDv1RawSHA256([]byte("x"))
	code, stdout, _ := runCLI(t, "ident", "ipfs://"+id)
	require.Equal(t, 0, code)
	require.Contains(t, stdout, id)
	require.Contains(t, stdout, "scheme")
	require.Contains(t, stdout, "0x55")

	code, _, _ = runCLI(t, "ident", "not an identifier")
	require.Equal(t, 1, code)
}

func TestInstallListUninstall(t *testing.T) {
	d := kubotest.New(t)
	payload := []byte("\x7fELF game")
	id := d.Put(payload)

	dir := t.TempDir()
	bundleFile := filepath.Join(dir, "bundle.json")
	b, err := json.Marshal(install.Bundle{ID: "space-miner", Executables: []install.Executable{
		{Platform: "x86_64-unknown-linux-gnu", URL: "ipfs://" + id},
	}})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(bundleFile, b, 0o600))
	games := filepath.Join(dir, "games")

	common := []string{"--api-url", d.URL(), "--install-dir", games}
	code, stdout, stderr := runCLI(t, append([]string{"install", "--bundle", bundleFile, "--platform", "x86_64-unknown-linux-gnu"}, common...)...)
	require.Equal(t, 0, code, stderr)
	exe := strings.TrimSpace(stdout)
	require.Equal(t, filepath.Join(games, "space-miner", "space-miner-x86_64"), exe)
	got, err := os.ReadFile(exe)
	require.NoError(t, err)
	require.Equal(t, payload, got)
	require.True(t, d.Pinned(id))

	code, stdout, _ = runCLI(t, append([]string{"list"}, common...)...)
	require.Equal(t, 0, code)
	require.Contains(t, stdout, "space-miner")
	require.Contains(t, stdout, id)

	code, _, _ = runCLI(t, append([]string{"uninstall", "space-miner"}, common...)...)
	require.Equal(t, 0, code)
	require.False(t, d.Pinned(id))
	_, err = os.Stat(filepath.Join(games, "space-miner"))
	require.True(t, os.IsNotExist(err))

	code, _, _ = runCLI(t, append([]string{"uninstall", "space-miner"}, common...)...)
	require.Equal(t, 1, code)
}
