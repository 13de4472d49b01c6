// Package apperr maps the error taxonomy of the peer protocol (transport,
// protocol, timeout, resource, fatal — see spec §7) onto both gRPC status
// codes and the named bus-error vocabulary the original protocol used
// (SERVICE_UNKNOWN, ADDRESS_IN_USE, INVALID_ARGS, NO_MEMORY, plus the
// project-specific Offline, NoSuchSubscription, ActivationFailed), so the
// REST and gRPC layers can both surface the same named condition.
package apperr

import (
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Code is the named error vocabulary from spec §6/§7.
type Code string

const (
	CodeServiceUnknown     Code = "SERVICE_UNKNOWN"
	CodeAddressInUse       Code = "ADDRESS_IN_USE"
	CodeInvalidArgs        Code = "INVALID_ARGS"
	CodeNoMemory           Code = "NO_MEMORY"
	CodeOffline            Code = "Offline"
	CodeNoSuchSubscription Code = "NoSuchSubscription"
	CodeActivationFailed   Code = "ActivationFailed"
	CodeTimeout            Code = "Timeout"
	CodeTransport          Code = "Transport"
)

// Error is a named, bus-error-shaped application error.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return string(e.Code) + ": " + e.Message
}

// New constructs an *Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// As extracts an *Error from err, following the same errors.As contract as
// the stdlib package.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// grpcCode maps a Code to the closest standard gRPC status code so the peer
// transport (§2) can surface it over the wire.
var grpcCode = map[Code]codes.Code{
	CodeServiceUnknown:     codes.NotFound,
	CodeAddressInUse:       codes.AlreadyExists,
	CodeInvalidArgs:        codes.InvalidArgument,
	CodeNoMemory:           codes.ResourceExhausted,
	CodeOffline:            codes.Unavailable,
	CodeNoSuchSubscription: codes.NotFound,
	CodeActivationFailed:   codes.Aborted,
	CodeTimeout:            codes.DeadlineExceeded,
	CodeTransport:          codes.Unavailable,
}

// ToGRPC converts err to a *status.Status suitable for a gRPC reply, falling
// back to codes.Internal for errors that are not an *Error.
func ToGRPC(err error) error {
	if err == nil {
		return nil
	}
	if e, ok := As(err); ok {
		code, found := grpcCode[e.Code]
		if !found {
			code = codes.Internal
		}
		return status.Error(code, e.Error())
	}
	return status.Error(codes.Internal, err.Error())
}

// FromGRPC recovers the named Code from a gRPC status error received from a
// peer, best-effort — used by the Agent to interpret Controller replies.
func FromGRPC(err error) (*Error, bool) {
	st, ok := status.FromError(err)
	if !ok {
		return nil, false
	}
	for code, gc := range grpcCode {
		if gc == st.Code() {
			return &Error{Code: code, Message: st.Message()}, true
		}
	}
	return nil, false
}
