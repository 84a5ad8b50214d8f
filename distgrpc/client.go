package distgrpc

import (
	"context"
	"errors"
	"io"
	"strconv"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"xdao.co/gamex/fetch"
)

// Client talks to a Dist service. Errors are mapped back to the kubo
// sentinels, so callers handle them exactly like local component errors.
type Client struct {
	cc     *grpc.ClientConn
	client DistClient

	// Timeout applies per unary RPC when non-zero. Cat is bounded only by
	// the caller's context and the server's download budget.
	Timeout time.Duration
}

type DialOptions struct {
	// Timeout applies to the initial dial when non-zero.
	Timeout time.Duration

	// MaxMsgBytes sets both send/recv max sizes when non-zero.
	MaxMsgBytes int

	// Extra options, e.g. a context dialer for in-memory listeners.
	Extra []grpc.DialOption
}

func Dial(target string, opts DialOptions) (*Client, error) {
	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}
	if opts.MaxMsgBytes > 0 {
		dialOpts = append(dialOpts,
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(opts.MaxMsgBytes),
				grpc.MaxCallSendMsgSize(opts.MaxMsgBytes),
			),
		)
	}
	dialOpts = append(dialOpts, opts.Extra...)

	ctx := context.Background()
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	cc, err := grpc.DialContext(ctx, target, dialOpts...)
	if err != nil {
		return nil, err
	}
	return &Client{cc: cc, client: NewDistClient(cc)}, nil
}

func (c *Client) Close() error {
	if c == nil || c.cc == nil {
		return nil
	}
	return c.cc.Close()
}

func (c *Client) Available(ctx context.Context, id string) (bool, error) {
	ctx, cancel := c.ctx(ctx)
	defer cancel()

	reply, err := c.client.Available(ctx, wrapperspb.String(id))
	if err != nil {
		return false, mapRPC(err)
	}
	return reply.GetValue(), nil
}

func (c *Client) Pin(ctx context.Context, id string) error {
	ctx, cancel := c.ctx(ctx)
	defer cancel()

	_, err := c.client.Pin(ctx, wrapperspb.String(id))
	return mapRPC(err)
}

// Unpin only fails when the service itself cannot be reached.
func (c *Client) Unpin(ctx context.Context, id string) error {
	ctx, cancel := c.ctx(ctx)
	defer cancel()

	_, err := c.client.Unpin(ctx, wrapperspb.String(id))
	return mapRPC(err)
}

func (c *Client) Add(ctx context.Context, data []byte) (string, error) {
	ctx, cancel := c.ctx(ctx)
	defer cancel()

	reply, err := c.client.Add(ctx, wrapperspb.Bytes(data))
	if err != nil {
		return "", mapRPC(err)
	}
	return reply.GetValue(), nil
}

func (c *Client) AddJSON(ctx context.Context, doc map[string]any) (string, error) {
	in, err := structpb.NewStruct(doc)
	if err != nil {
		return "", err
	}
	ctx, cancel := c.ctx(ctx)
	defer cancel()

	reply, err := c.client.AddJSON(ctx, in)
	if err != nil {
		return "", mapRPC(err)
	}
	return reply.GetValue(), nil
}

// Cat streams id through onChunk. total is 0 when the server did not
// advertise a length.
func (c *Client) Cat(ctx context.Context, id string, onChunk fetch.ChunkFunc) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := c.client.Cat(ctx, wrapperspb.String(id))
	if err != nil {
		return mapRPC(err)
	}
	var total uint64
	if md, err := stream.Header(); err == nil {
		if v := md.Get(TotalHeader); len(v) > 0 {
			total, _ = strconv.ParseUint(v[0], 10, 64)
		}
	}

	var loaded uint64
	for {
		msg, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return mapRPC(err)
		}
		b := msg.GetValue()
		loaded += uint64(len(b))
		if err := onChunk(b, loaded, total); err != nil {
			return err
		}
	}
}

func (c *Client) ctx(parent context.Context) (context.Context, context.CancelFunc) {
	if c.Timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, c.Timeout)
}
