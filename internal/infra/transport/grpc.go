package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/vietddude/anchorgate/internal/resilience/classify"
)

// GRPCSignal converts a gRPC status error into an error wrapping a
// *classify.Signal. Errors without a gRPC status are returned unchanged.
func GRPCSignal(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}

	var sig *classify.Signal
	switch st.Code() {
	case codes.OK:
		return nil
	case codes.Canceled:
		return err
	case codes.Unauthenticated:
		sig = classify.HTTPStatus(http.StatusUnauthorized)
	case codes.PermissionDenied:
		sig = classify.HTTPStatus(http.StatusForbidden)
	case codes.DeadlineExceeded:
		sig = classify.HTTPStatus(http.StatusGatewayTimeout)
	case codes.ResourceExhausted:
		sig = classify.HTTPStatus(http.StatusTooManyRequests)
	case codes.InvalidArgument:
		sig = classify.AnchorError("invalid_payload")
	case codes.FailedPrecondition:
		sig = classify.AnchorError(st.Message())
	case codes.NotFound:
		sig = classify.HTTPStatus(http.StatusNotFound)
	case codes.AlreadyExists:
		sig = classify.HTTPStatus(http.StatusConflict)
	case codes.Unimplemented:
		sig = classify.HTTPStatus(http.StatusMethodNotAllowed)
	case codes.Unavailable:
		sig = classify.HTTPStatus(http.StatusServiceUnavailable)
	default:
		sig = classify.HTTPStatus(http.StatusInternalServerError)
	}

	if info := retryInfo(st); info != nil {
		sig = sig.WithRateLimit(info)
	}
	return sig.Wrap(err)
}

func retryInfo(st *status.Status) *classify.RateLimitInfo {
	for _, d := range st.Details() {
		if ri, ok := d.(*errdetails.RetryInfo); ok && ri.GetRetryDelay() != nil {
			if delay := ri.GetRetryDelay().AsDuration(); delay > 0 {
				return &classify.RateLimitInfo{RetryAfter: delay}
			}
		}
	}
	return nil
}

// SignalInterceptor converts every failed unary call into a classifiable
// signal so generated clients can be used directly as retry operations.
func SignalInterceptor() grpc.UnaryClientInterceptor {
	return func(
		ctx context.Context,
		method string,
		req, reply any,
		cc *grpc.ClientConn,
		invoker grpc.UnaryInvoker,
		opts ...grpc.CallOption,
	) error {
		return GRPCSignal(invoker(ctx, method, req, reply, cc, opts...))
	}
}

// NewGRPCConn creates a client connection to a gRPC anchor. https:// or :443
// endpoints use TLS.
func NewGRPCConn(endpoint string, extra ...grpc.DialOption) (*grpc.ClientConn, error) {
	target := endpoint
	var opts []grpc.DialOption

	if strings.HasPrefix(endpoint, "https://") || strings.HasSuffix(endpoint, ":443") {
		creds := credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
		opts = append(opts, grpc.WithTransportCredentials(creds))
		target = strings.TrimPrefix(target, "https://")
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
		target = strings.TrimPrefix(target, "http://")
	}

	opts = append(opts, grpc.WithChainUnaryInterceptor(SignalInterceptor()))
	opts = append(opts, extra...)

	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create grpc client for %s: %w", target, err)
	}
	return conn, nil
}
