package grpcserver

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/ashita-ai/kiroku/internal/model"
)

// toStatus maps a service error onto the closest gRPC status code. The
// message keeps the API error code prefix so clients can recover it.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	e := model.AsError(err)
	var code codes.Code
	switch e.Code {
	case model.ErrCodeInvalidParameterValue, model.ErrCodeMalformedRequest:
		code = codes.InvalidArgument
	case model.ErrCodeResourceAlreadyExists:
		code = codes.AlreadyExists
	case model.ErrCodeResourceDoesNotExist:
		code = codes.NotFound
	case model.ErrCodeInvalidState:
		code = codes.FailedPrecondition
	case model.ErrCodeResourceExhausted, model.ErrCodeRequestLimitExceeded:
		code = codes.ResourceExhausted
	case model.ErrCodeTemporarilyUnavailable:
		code = codes.Unavailable
	case model.ErrCodePermissionDenied:
		code = codes.PermissionDenied
	default:
		code = codes.Internal
	}
	return status.Error(code, e.Error())
}
