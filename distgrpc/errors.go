package distgrpc

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"xdao.co/gamex/kubo"
)

// mapErr converts a component error into a gRPC status.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, kubo.ErrNotAvailable):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, kubo.ErrDownloadTimeout), errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, kubo.ErrCannotParseIdentifier):
		return status.Error(codes.Internal, err.Error())
	case kubo.IsTransport(err):
		return status.Error(codes.Unavailable, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// mapRPC converts a gRPC status back into the kubo error taxonomy.
func mapRPC(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}

	switch st.Code() {
	case codes.NotFound:
		return fmt.Errorf("distgrpc: %s: %w", st.Message(), kubo.ErrNotAvailable)
	case codes.DeadlineExceeded:
		return fmt.Errorf("distgrpc: %s: %w", st.Message(), kubo.ErrDownloadTimeout)
	case codes.Canceled:
		return fmt.Errorf("distgrpc: %s: %w", st.Message(), context.Canceled)
	case codes.Unavailable:
		return &kubo.TransportError{Op: "grpc", Message: st.Message(), Err: err}
	case codes.Internal:
		// The server reports unparseable CLI output as Internal; keep the sentinel.
		if strings.Contains(st.Message(), kubo.ErrCannotParseIdentifier.Error()) {
			return fmt.Errorf("distgrpc: %s: %w", st.Message(), kubo.ErrCannotParseIdentifier)
		}
		return err
	default:
		return err
	}
}
