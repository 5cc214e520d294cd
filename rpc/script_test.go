package rpc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/rivulet/errs"
)

const fibSource = `
var limit = 90;

exports.fib = function (n) {
    if (n > limit) throw new Error("n too large: " + n);
    var a = 0, b = 1;
    for (var i = 0; i < n; i++) {
        var next = a + b;
        a = b;
        b = next;
    }
    return a;
};

exports.describe = function () {
    return { name: "fib", limit: limit };
};

exports.version = "1.0.0";
`

func TestScriptModuleServesExports(t *testing.T) {
	api, err := ScriptModule("mathjs", fibSource)
	require.NoError(t, err)

	c, err := NewClient(newTestPool(t), api, Options{})
	require.NoError(t, err)
	defer c.Close()

	v, err := c.Call(context.Background(), "mathjs.fib", 10)
	require.NoError(t, err)
	require.EqualValues(t, 55, v)

	v, err = c.Call(context.Background(), "mathjs.describe")
	require.NoError(t, err)
	desc, ok := v.(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, "fib", desc["name"])

	// Non-function exports are not methods.
	_, err = c.Call(context.Background(), "mathjs.version")
	require.True(t, errs.IsCode(err, errs.CodeInvalid))
}

func TestScriptThrowSurfacesAsWorkerFault(t *testing.T) {
	api, err := ScriptModule("mathjs", fibSource)
	require.NoError(t, err)

	c, err := NewClient(newTestPool(t), api, Options{})
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Call(context.Background(), "mathjs.fib", 1000)
	require.True(t, errs.IsCode(err, errs.CodeWorkerFault))

	var we *WorkerError
	require.ErrorAs(t, err, &we)
	require.Contains(t, we.Message, "n too large")
}

func TestScriptStateDoesNotLeakBetweenCalls(t *testing.T) {
	source := `
var calls = 0;
exports.bump = function () {
    calls++;
    return calls;
};
`
	api, err := ScriptModule("counter", source)
	require.NoError(t, err)

	c, err := NewClient(newTestPool(t), api, Options{})
	require.NoError(t, err)
	defer c.Close()

	for i := 0; i < 3; i++ {
		v, err := c.Call(context.Background(), "counter.bump")
		require.NoError(t, err)
		require.EqualValues(t, 1, v)
	}
}

func TestScriptModuleValidation(t *testing.T) {
	_, err := ScriptModule("broken", `exports.f = function ( {`)
	require.True(t, errs.IsCode(err, errs.CodeInvalid))

	_, err = ScriptModule("empty", `exports.answer = 42;`)
	require.True(t, errs.IsCode(err, errs.CodeInvalid))

	_, err = ScriptModule("", `exports.f = function () {};`)
	require.True(t, errs.IsCode(err, errs.CodeInvalid))
}
