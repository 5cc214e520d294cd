// Package errs provides structured error types and helpers shared across rivulet.
package errs

import (
	"errors"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Code identifies an error category in the rivulet taxonomy.
type Code string

const (
	// CodeInvalid indicates malformed configuration or arguments.
	CodeInvalid Code = "invalid"
	// CodeOverflow indicates a bounded buffer rejected a value at capacity.
	CodeOverflow Code = "overflow"
	// CodeCanceled indicates a sequence or call was stopped via its signal.
	CodeCanceled Code = "canceled"
	// CodeTimeout indicates a deadline elapsed before a value or response arrived.
	CodeTimeout Code = "timeout"
	// CodeWorkerFault indicates a worker task failed or the worker crashed.
	CodeWorkerFault Code = "worker_fault"
	// CodeClosed indicates an operation on an already-closed resource.
	CodeClosed Code = "closed"
	// CodeUnavailable indicates the component is temporarily unable to serve.
	CodeUnavailable Code = "unavailable"
)

// E captures structured error information produced across the rivulet stack.
type E struct {
	Op      string
	Code    Code
	Message string
	Method  string
	Bound   time.Duration
	Detail  map[string]string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the originating operation and code.
func New(op string, code Code, opts ...Option) *E {
	e := &E{
		Op:      strings.TrimSpace(op),
		Code:    code,
		Message: "",
		Method:  "",
		Bound:   0,
		Detail:  nil,
		cause:   nil,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

// WithMethod records the RPC method path the error relates to.
func WithMethod(method string) Option {
	trimmed := strings.TrimSpace(method)
	return func(e *E) {
		e.Method = trimmed
	}
}

// WithBound records the configured time bound that was exceeded.
func WithBound(bound time.Duration) Option {
	return func(e *E) {
		e.Bound = bound
	}
}

// WithDetail appends a single detail key/value pair.
func WithDetail(key, value string) Option {
	return func(e *E) {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			return
		}
		if e.Detail == nil {
			e.Detail = make(map[string]string, 1)
		}
		e.Detail[trimmedKey] = strings.TrimSpace(value)
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	op := strings.TrimSpace(e.Op)
	if op == "" {
		op = "unknown"
	}
	parts = append(parts, "op="+op)

	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = "unknown"
	}
	parts = append(parts, "code="+code)

	if e.Method != "" {
		parts = append(parts, "method="+e.Method)
	}
	if e.Bound > 0 {
		parts = append(parts, "bound="+e.Bound.String())
	}
	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if len(e.Detail) > 0 {
		keys := make([]string, 0, len(e.Detail))
		for k := range e.Detail {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			parts = append(parts, k+"="+strconv.Quote(e.Detail[k]))
		}
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// CodeOf extracts the taxonomy code from err, or empty when err is not an envelope.
func CodeOf(err error) Code {
	var envelope *E
	if errors.As(err, &envelope) {
		return envelope.Code
	}
	return ""
}

// IsCode reports whether err carries the given taxonomy code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// IsTimeout reports whether err is a deadline failure.
func IsTimeout(err error) bool { return IsCode(err, CodeTimeout) }

// IsCanceled reports whether err is a cancellation failure.
func IsCanceled(err error) bool { return IsCode(err, CodeCanceled) }

// IsOverflow reports whether err is a capacity rejection.
func IsOverflow(err error) bool { return IsCode(err, CodeOverflow) }

// IsClosed reports whether err is an illegal-state failure on a closed resource.
func IsClosed(err error) bool { return IsCode(err, CodeClosed) }
