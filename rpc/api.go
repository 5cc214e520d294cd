// Package rpc provides correlation-id request/response calls dispatched onto
// a worker pool. Arguments and results cross the call boundary by value: both
// are round-tripped through the JSON codec so the two sides never share
// mutable state. Transfer opts a payload out of the copy.
package rpc

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/coachpo/rivulet/errs"
)

// API maps method names to handlers. A value is either a Go func or a nested
// API; dotted method paths traverse the nesting, so "math.pow" resolves
// api["math"]["pow"].
//
// Handler funcs may take a leading context.Context, which receives the task
// context of the worker executing the call. They may return nothing, a single
// value, or a value plus a trailing error.
type API map[string]any

type transferred struct{ value any }

// Transfer marks v to be moved by reference instead of copied through the
// codec. Ownership passes to the receiving side; the sender must not touch v
// afterwards.
func Transfer(v any) any { return transferred{value: v} }

func (a API) resolve(method string) (reflect.Value, error) {
	trimmed := strings.TrimSpace(method)
	if trimmed == "" {
		return reflect.Value{}, errs.New("rpc/call", errs.CodeInvalid,
			errs.WithMessage("method name required"))
	}
	node := any(a)
	for _, part := range strings.Split(trimmed, ".") {
		nested, ok := node.(API)
		if !ok {
			return reflect.Value{}, unknownMethod(trimmed)
		}
		node, ok = nested[part]
		if !ok {
			return reflect.Value{}, unknownMethod(trimmed)
		}
	}
	fn := reflect.ValueOf(node)
	if !fn.IsValid() || fn.Kind() != reflect.Func {
		return reflect.Value{}, unknownMethod(trimmed)
	}
	return fn, nil
}

func unknownMethod(method string) error {
	return errs.New("rpc/call", errs.CodeInvalid,
		errs.WithMessage("unknown method"),
		errs.WithMethod(method))
}

var ctxType = reflect.TypeOf((*context.Context)(nil)).Elem()
var errType = reflect.TypeOf((*error)(nil)).Elem()

// invoke binds args to fn's parameters, copying each through the codec, and
// calls it. The result comes back codec-copied as well unless the handler
// wrapped it with Transfer.
func invoke(ctx context.Context, method string, fn reflect.Value, args []any) (any, error) {
	t := fn.Type()
	in := make([]reflect.Value, 0, t.NumIn())
	next := 0
	if t.NumIn() > 0 && t.In(0) == ctxType {
		in = append(in, reflect.ValueOf(ctx))
		next = 1
	}

	fixed := t.NumIn() - next
	if t.IsVariadic() {
		fixed--
		if len(args) < fixed {
			return nil, arityError(method, fixed, len(args))
		}
	} else if len(args) != fixed {
		return nil, arityError(method, fixed, len(args))
	}

	for i, arg := range args {
		var want reflect.Type
		if idx := next + i; t.IsVariadic() && idx >= t.NumIn()-1 {
			want = t.In(t.NumIn() - 1).Elem()
		} else {
			want = t.In(idx)
		}
		bound, err := bindArg(method, arg, want)
		if err != nil {
			return nil, err
		}
		in = append(in, bound)
	}

	out := fn.Call(in)
	var value any
	for i, rv := range out {
		if i == len(out)-1 && t.Out(i).Implements(errType) {
			if !rv.IsNil() {
				return nil, rv.Interface().(error)
			}
			continue
		}
		value = rv.Interface()
	}
	if tv, ok := value.(transferred); ok {
		return tv.value, nil
	}
	return copyValue(method, value)
}

func arityError(method string, want, got int) error {
	return errs.New("rpc/call", errs.CodeInvalid,
		errs.WithMessage(fmt.Sprintf("expected %d argument(s), got %d", want, got)),
		errs.WithMethod(method))
}

func bindArg(method string, arg any, want reflect.Type) (reflect.Value, error) {
	if tv, ok := arg.(transferred); ok {
		if tv.value == nil {
			return reflect.Zero(want), nil
		}
		rv := reflect.ValueOf(tv.value)
		if !rv.Type().AssignableTo(want) {
			return reflect.Value{}, errs.New("rpc/call", errs.CodeInvalid,
				errs.WithMessage(fmt.Sprintf("transferred %s not assignable to %s", rv.Type(), want)),
				errs.WithMethod(method))
		}
		return rv, nil
	}
	if arg == nil {
		return reflect.Zero(want), nil
	}
	raw, err := json.Marshal(arg)
	if err != nil {
		return reflect.Value{}, codecError(method, err)
	}
	target := reflect.New(want)
	if err := json.Unmarshal(raw, target.Interface()); err != nil {
		return reflect.Value{}, codecError(method, err)
	}
	return target.Elem(), nil
}

func copyValue(method string, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, codecError(method, err)
	}
	out := reflect.New(reflect.TypeOf(v))
	if err := json.Unmarshal(raw, out.Interface()); err != nil {
		return nil, codecError(method, err)
	}
	return out.Elem().Interface(), nil
}

func codecError(method string, cause error) error {
	return errs.New("rpc/call", errs.CodeInvalid,
		errs.WithMessage("argument codec failure"),
		errs.WithMethod(method),
		errs.WithCause(cause))
}
