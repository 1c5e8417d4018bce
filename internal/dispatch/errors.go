package dispatch

import (
	"errors"
	"fmt"
)

// ResultCode is the outcome of a forward.
type ResultCode int

const (
	// ResultOK means the remote node accepted the message.
	ResultOK ResultCode = 0
	// ResultRejected means the remote node refused the message.
	ResultRejected ResultCode = 1
	// ResultDeliveryFailed means the message could not be delivered.
	ResultDeliveryFailed ResultCode = 2
	// ResultTimeout means the bounded call ran out of time.
	ResultTimeout ResultCode = 3
)

// String returns a lower-case name for logs and CLI output.
func (c ResultCode) String() string {
	switch c {
	case ResultOK:
		return "ok"
	case ResultRejected:
		return "rejected"
	case ResultDeliveryFailed:
		return "delivery_failed"
	case ResultTimeout:
		return "timeout"
	default:
		return fmt.Sprintf("result(%d)", int(c))
	}
}

var (
	// ErrDispatchTimeout is wrapped by every ResultTimeout error.
	ErrDispatchTimeout = errors.New("dispatch timeout")

	// ErrDispatchRejected is wrapped by every ResultRejected error.
	ErrDispatchRejected = errors.New("dispatch rejected")

	// ErrDeliveryFailed is wrapped by every ResultDeliveryFailed error.
	ErrDeliveryFailed = errors.New("delivery failed")
)

// DispatchError describes a failed forward.
type DispatchError struct {
	// Code is the outcome.
	Code ResultCode

	// Endpoint is the endpoint as given by the caller.
	Endpoint string

	// MessageID identifies the message.
	MessageID string

	// StatusCode is the last HTTP status received, 0 if none.
	StatusCode int

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *DispatchError) Error() string {
	msg := fmt.Sprintf("forward %s to %s: %s", e.MessageID, e.Endpoint, e.Code)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the cause.
func (e *DispatchError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the error's code.
func (e *DispatchError) Is(target error) bool {
	switch e.Code {
	case ResultTimeout:
		return target == ErrDispatchTimeout
	case ResultRejected:
		return target == ErrDispatchRejected
	case ResultDeliveryFailed:
		return target == ErrDeliveryFailed
	}
	return false
}

// IsTimeout reports whether err is a dispatch timeout.
// Uses errors.Is to handle wrapped errors.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrDispatchTimeout)
}

// IsRejected reports whether err is a remote rejection.
func IsRejected(err error) bool {
	return errors.Is(err, ErrDispatchRejected)
}

// IsDeliveryFailure reports whether err is a delivery failure.
func IsDeliveryFailure(err error) bool {
	return errors.Is(err, ErrDeliveryFailed)
}

// CodeOf returns the ResultCode carried by err: ResultOK for nil,
// ResultDeliveryFailed for errors that are not a *DispatchError.
func CodeOf(err error) ResultCode {
	if err == nil {
		return ResultOK
	}
	var de *DispatchError
	if errors.As(err, &de) {
		return de.Code
	}
	return ResultDeliveryFailed
}
