// Package upload adds content to the daemon.
//
// Small payloads (images, metadata documents) go through a single multipart
// RPC request. Large payloads (game binaries) go through the ipfs CLI so the
// external process streams them from disk and this process never holds them
// in memory.
package upload

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/url"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"xdao.co/gamex/kubo"
)

// Result is returned by every upload path. It carries no reference back to
// the pipeline.
type Result struct {
	Identifier string `json:"identifier"`
	Name       string `json:"name"`
	Size       uint64 `json:"size"`
}

// ProgressFunc receives (loaded, total) byte counts.
type ProgressFunc func(loaded, total uint64)

type Pipeline struct {
	client *kubo.Client
	cli    *kubo.CLI
	log    logrus.FieldLogger
}

// New returns a pipeline. cli may be nil when Large is not used.
func New(client *kubo.Client, cli *kubo.CLI) *Pipeline {
	return &Pipeline{client: client, cli: cli, log: client.Logger()}
}

type addResponse struct {
	Name string      `json:"Name"`
	Hash string      `json:"Hash"`
	Size json.Number `json:"Size"`
}

// Small uploads payload as a single multipart request.
func (p *Pipeline) Small(ctx context.Context, payload []byte, name string) (Result, error) {
	if name == "" {
		name = "blob"
	}
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return Result{}, err
	}
	if _, err := part.Write(payload); err != nil {
		return Result{}, err
	}
	if err := mw.Close(); err != nil {
		return Result{}, err
	}

	args := url.Values{"cid-version": []string{"1"}}
	resp, err := p.client.Post(ctx, "add", args, &body, mw.FormDataContentType())
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	res, err := decodeAdd(resp.Body)
	if err != nil {
		return Result{}, err
	}
	p.log.WithFields(logrus.Fields{"cid": res.Identifier, "name": res.Name, "bytes": res.Size}).Info("uploaded")
	return res, nil
}

// JSON serializes value and uploads it with Small.
func (p *Pipeline) JSON(ctx context.Context, value any, name string) (Result, error) {
	b, err := json.Marshal(value)
	if err != nil {
		return Result{}, fmt.Errorf("upload: encode json: %w", err)
	}
	if name == "" {
		name = "metadata.json"
	}
	return p.Small(ctx, b, name)
}

// Large adds the file at path through "ipfs add". size is the caller-known
// file size; onProgress, when set, is called once with (size, size) after the
// add completes. No intermediate ticks are reported.
func (p *Pipeline) Large(ctx context.Context, path, name string, size uint64, onProgress ProgressFunc) (Result, error) {
	if p.cli == nil {
		return Result{}, errors.New("upload: no ipfs CLI configured")
	}
	if name == "" {
		name = filepath.Base(path)
	}
	log := p.log.WithFields(logrus.Fields{"path": path, "bytes": size})
	log.Info("adding large file")

	out, err := p.cli.Combined(ctx, "add", "--progress", "--cid-version=1", path)
	if err != nil {
		return Result{}, fmt.Errorf("upload: %w", err)
	}
	id, _, ok := ParseAdded(out)
	if !ok {
		return Result{}, fmt.Errorf("upload: %s: %w", path, kubo.ErrCannotParseIdentifier)
	}
	if onProgress != nil {
		onProgress(size, size)
	}
	log.WithField("cid", id).Info("uploaded")
	return Result{Identifier: id, Name: name, Size: size}, nil
}

var addedRe = regexp.MustCompile(`^added\s+(\S+)\s+(.+?)\s*$`)

// ParseAdded scans "ipfs add" output and returns the identifier and name of
// the last "added <id> <name>" line. Progress bars are separated by carriage
// returns, so both \r and \n delimit lines.
func ParseAdded(out []byte) (id, name string, ok bool) {
	sc := bufio.NewScanner(bytes.NewReader(out))
	sc.Buffer(make([]byte, 0, 4096), 1<<20)
	sc.Split(scanCRLF)
	for sc.Scan() {
		m := addedRe.FindStringSubmatch(strings.TrimSpace(sc.Text()))
		if m == nil {
			continue
		}
		id, name, ok = m[1], m[2], true
	}
	return id, name, ok
}

func scanCRLF(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// decodeAdd reads the add response. With several objects in the stream (for
// example progress records) the last one carrying a hash wins.
func decodeAdd(r io.Reader) (Result, error) {
	dec := json.NewDecoder(r)
	var last addResponse
	for {
		var ar addResponse
		err := dec.Decode(&ar)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Result{}, &kubo.TransportError{Op: "add", Err: fmt.Errorf("decode response: %w", err)}
		}
		if ar.Hash != "" {
			last = ar
		}
	}
	if last.Hash == "" {
		return Result{}, &kubo.TransportError{Op: "add", Message: "response carried no hash"}
	}
	var size uint64
	if last.Size != "" {
		n, err := strconv.ParseUint(last.Size.String(), 10, 64)
		if err != nil {
			return Result{}, &kubo.TransportError{Op: "add", Err: fmt.Errorf("invalid size %q: %w", last.Size, err)}
		}
		size = n
	}
	return Result{Identifier: last.Hash, Name: last.Name, Size: size}, nil
}
