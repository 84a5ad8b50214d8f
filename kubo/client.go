// Package kubo is a client for a locally running Kubo (IPFS) daemon.
//
// One Client is constructed at startup and handed to the probe, fetch,
// upload and pin packages. It carries the API base URL, the gateway base used
// to build shareable URLs, the HTTP transport and the logger. A Client is safe
// for concurrent use and holds no per-identifier state.
package kubo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"

	"xdao.co/gamex/ident"
	"xdao.co/gamex/internal/logging"
)

const (
	// DefaultAPIURL is Kubo's default RPC listen address.
	DefaultAPIURL = "http://127.0.0.1:5001"
	// DefaultGatewayURL is the local gateway. Freshly downloaded content that
	// is not pinned elsewhere still resolves through it.
	DefaultGatewayURL = "http://127.0.0.1:8080"

	apiPrefix = "/api/v0/"

	// maxErrorBody bounds how much of a failed response is kept for diagnostics.
	maxErrorBody = 64 << 10
)

type Options struct {
	// APIURL is the daemon RPC base URL. If empty, DefaultAPIURL is used.
	APIURL string
	// GatewayURL is the gateway base. If empty, DefaultGatewayURL is used.
	GatewayURL string
	// HTTPClient is used for every request. If nil, a client without a global
	// timeout is used; transfers are bounded per call instead.
	HTTPClient *http.Client
	Logger     logrus.FieldLogger
}

type Client struct {
	api     string
	gateway string
	hc      *http.Client
	log     logrus.FieldLogger
}

func New(opts Options) (*Client, error) {
	api := strings.TrimRight(strings.TrimSpace(opts.APIURL), "/")
	if api == "" {
		api = DefaultAPIURL
	}
	u, err := url.Parse(api)
	if err != nil {
		return nil, fmt.Errorf("kubo: invalid api url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("kubo: api url must be http(s), got %q", api)
	}
	gw := strings.TrimRight(strings.TrimSpace(opts.GatewayURL), "/")
	if gw == "" {
		gw = DefaultGatewayURL
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	return &Client{
		api:     api,
		gateway: gw,
		hc:      hc,
		log:     logging.OrDiscard(opts.Logger),
	}, nil
}

func (c *Client) APIURL() string { return c.api }

func (c *Client) GatewayBase() string { return c.gateway }

func (c *Client) HTTPClient() *http.Client { return c.hc }

func (c *Client) Logger() logrus.FieldLogger { return c.log }

// GatewayURL returns {gateway}/ipfs/{id}.
func (c *Client) GatewayURL(id string) (string, error) {
	return ident.GatewayURL(id, c.gateway)
}

// Endpoint returns the full RPC URL for cmd (e.g. "pin/add").
func (c *Client) Endpoint(cmd string, args url.Values) string {
	u := c.api + apiPrefix + strings.TrimPrefix(cmd, "/")
	if len(args) > 0 {
		u += "?" + args.Encode()
	}
	return u
}

// Post issues an RPC call. All Kubo RPC commands are POST.
//
// On success the caller owns resp.Body. Any non-2xx status is returned as a
// *TransportError with the daemon's message when it sent one.
func (c *Client) Post(ctx context.Context, cmd string, args url.Values, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint(cmd, args), body)
	if err != nil {
		return nil, &TransportError{Op: cmd, Err: err}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, &TransportError{Op: cmd, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, &TransportError{
			Op:         cmd,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(resp.Body),
		}
	}
	return resp, nil
}

// Call issues an RPC call and discards the response body.
func (c *Client) Call(ctx context.Context, cmd string, args url.Values) error {
	resp, err := c.Post(ctx, cmd, args, nil, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return &TransportError{Op: cmd, Err: err}
	}
	return nil
}

// Version returns the daemon version string. It doubles as a liveness check.
func (c *Client) Version(ctx context.Context) (string, error) {
	resp, err := c.Post(ctx, "version", nil, nil, "")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	var out struct {
		Version string `json:"Version"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &TransportError{Op: "version", Err: err}
	}
	return out.Version, nil
}

// Arg builds the single "arg" query Kubo commands take.
func Arg(id string) url.Values {
	return url.Values{"arg": []string{id}}
}

// errorMessage extracts Kubo's {"Message": ...} error body, falling back to
// the raw (trimmed) text.
func errorMessage(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, maxErrorBody))
	var kerr struct {
		Message string `json:"Message"`
	}
	if err := json.Unmarshal(data, &kerr); err == nil && kerr.Message != "" {
		return kerr.Message
	}
	return strings.TrimSpace(string(data))
}

// IsContextError reports whether err was caused by ctx ending.
func IsContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
