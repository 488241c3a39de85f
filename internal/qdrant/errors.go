package qdrant

import (
	"context"
	stderrors "errors"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/recoeval/reco-eval/internal/pkg/errors"
)

const (
	defaultBaseRetryDelay = 100 * time.Millisecond
	defaultMaxRetryDelay  = 2 * time.Second
)

// mapError converts a gRPC failure into an AppError carrying the
// matching application code.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := errors.AsAppError(err); ok {
		return err
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.Wrap(errors.CodeTimeout, "qdrant "+op+" timed out", err)
	}

	st, ok := status.FromError(err)
	if !ok {
		return errors.QdrantError("qdrant "+op+" failed", err)
	}

	msg := "qdrant " + op + ": " + st.Message()
	switch st.Code() {
	case codes.NotFound:
		return errors.Wrap(errors.CodeNotFound, msg, err)
	case codes.InvalidArgument, codes.FailedPrecondition, codes.OutOfRange:
		return errors.Wrap(errors.CodeValidation, msg, err)
	case codes.Unavailable, codes.Aborted:
		return errors.Wrap(errors.CodeUnavailable, msg, err)
	case codes.DeadlineExceeded:
		return errors.Wrap(errors.CodeTimeout, msg, err)
	case codes.ResourceExhausted:
		return errors.Wrap(errors.CodeRateLimited, msg, err)
	default:
		return errors.QdrantError(msg, err)
	}
}

// retryConfig holds the configuration for retry operations.
type retryConfig struct {
	maxRetries     int
	baseRetryDelay time.Duration
	maxRetryDelay  time.Duration
}

// isTransientError reports whether err is a gRPC failure worth retrying.
func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case codes.Unavailable, codes.ResourceExhausted, codes.Aborted:
		return true
	default:
		return false
	}
}

// retry runs op with exponential backoff while it fails transiently.
func retry[T any](ctx context.Context, cfg retryConfig, op func() (T, error)) (T, error) {
	var result T
	var lastErr error

	for attempt := 0; attempt <= cfg.maxRetries; attempt++ {
		result, lastErr = op()
		if lastErr == nil {
			return result, nil
		}
		if !isTransientError(lastErr) || attempt == cfg.maxRetries {
			break
		}
		delay := min(cfg.baseRetryDelay<<attempt, cfg.maxRetryDelay)
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-time.After(delay):
		}
	}
	return result, lastErr
}

func retryVoid(ctx context.Context, cfg retryConfig, op func() error) error {
	_, err := retry(ctx, cfg, func() (struct{}, error) {
		return struct{}{}, op()
	})
	return err
}
