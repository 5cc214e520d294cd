package errs_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/rivulet/errs"
)

func TestErrorRendering(t *testing.T) {
	cause := errors.New("socket reset")
	err := errs.New("bridge/attach", errs.CodeUnavailable,
		errs.WithMessage("source unreachable"),
		errs.WithDetail("event", "message"),
		errs.WithCause(cause))

	rendered := err.Error()
	require.Contains(t, rendered, "op=bridge/attach")
	require.Contains(t, rendered, "code=unavailable")
	require.Contains(t, rendered, `message="source unreachable"`)
	require.Contains(t, rendered, `event="message"`)
	require.Contains(t, rendered, `cause="socket reset"`)
	require.ErrorIs(t, err, cause)
}

func TestTimeoutEnvelopeCarriesMethodAndBound(t *testing.T) {
	err := errs.New("rpc/call", errs.CodeTimeout,
		errs.WithMethod("math.pow"),
		errs.WithBound(100*time.Millisecond))

	require.True(t, errs.IsTimeout(err))
	require.Contains(t, err.Error(), "method=math.pow")
	require.Contains(t, err.Error(), "bound=100ms")
}

func TestCodeOfUnwrapsWrappedEnvelopes(t *testing.T) {
	inner := errs.New("queue/push", errs.CodeOverflow)
	wrapped := fmt.Errorf("pipeline stage: %w", inner)

	require.Equal(t, errs.CodeOverflow, errs.CodeOf(wrapped))
	require.True(t, errs.IsOverflow(wrapped))
	require.False(t, errs.IsCanceled(wrapped))
}

func TestCodeOfForeignError(t *testing.T) {
	require.Equal(t, errs.Code(""), errs.CodeOf(errors.New("plain")))
	require.False(t, errs.IsCode(nil, errs.CodeInvalid))
}
