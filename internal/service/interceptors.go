package service

import (
	"context"
	"errors"
	"time"

	"connectrpc.com/connect"
	"github.com/google/uuid"

	"github.com/kkkkikiki/adledger/internal/observability"
)

// RequestIDHeader carries the request id in both directions
const RequestIDHeader = "X-Request-Id"

// NewLoggingInterceptor tags the context with a request id and logs every
// unary call with its procedure, code and latency
func NewLoggingInterceptor(logger *observability.Logger) connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			requestID := req.Header().Get(RequestIDHeader)
			if requestID == "" {
				requestID = uuid.NewString()
			}
			ctx = observability.WithFields(ctx,
				observability.Field{Key: "request_id", Value: requestID},
				observability.Field{Key: "procedure", Value: req.Spec().Procedure},
			)

			start := time.Now()
			res, err := next(ctx, req)
			latency := observability.Field{Key: "latency_ms", Value: time.Since(start).Milliseconds()}

			if err != nil {
				code := connect.CodeOf(err)
				field := observability.Field{Key: "code", Value: code.String()}
				switch code {
				case connect.CodeInternal, connect.CodeUnknown, connect.CodeDataLoss:
					logger.Error(ctx, "rpc failed", err, field, latency)
				case connect.CodeNotFound:
					logger.Debug(ctx, "rpc completed", field, latency)
				default:
					logger.WarnWithError(ctx, "rpc rejected", err, field, latency)
				}
				var cerr *connect.Error
				if errors.As(err, &cerr) {
					cerr.Meta().Set(RequestIDHeader, requestID)
				}
				return nil, err
			}

			logger.Debug(ctx, "rpc completed", latency)
			res.Header().Set(RequestIDHeader, requestID)
			return res, nil
		}
	}
}
