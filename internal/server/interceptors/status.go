package interceptors

import (
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"access-core/internal/apperr"
)

var errUnauthenticated = status.Error(codes.Unauthenticated, "missing or invalid authorization")

// ToStatus maps an access-core error to a gRPC status error. Token rejections all map to the
// same Unauthenticated status; backend failures never leak driver details.
func ToStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, apperr.ErrInvalidToken):
		return errUnauthenticated
	case errors.Is(err, apperr.ErrInvalidCredentials):
		return status.Error(codes.Unauthenticated, apperr.ErrInvalidCredentials.Error())
	case errors.Is(err, apperr.ErrPermissionDenied):
		return status.Error(codes.PermissionDenied, apperr.ErrPermissionDenied.Error())
	case errors.Is(err, apperr.ErrRateLimitExceeded):
		return status.Error(codes.ResourceExhausted, err.Error())
	case errors.Is(err, apperr.ErrBackendUnavailable):
		return status.Error(codes.Unavailable, "service unavailable")
	default:
		return status.Error(codes.Internal, "internal error")
	}
}
