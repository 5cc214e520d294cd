package rpc

import (
	"fmt"
	"strings"

	"github.com/dop251/goja"

	"github.com/coachpo/rivulet/errs"
)

// ScriptModule compiles a CommonJS-style source once and returns an API
// mapping name to the module's exported functions, so a client resolves them
// as "name.fn". Each invocation runs the compiled program in a fresh runtime;
// script state never leaks between calls or between concurrent workers.
func ScriptModule(name, source string) (API, error) {
	modName := strings.TrimSpace(name)
	if modName == "" {
		return nil, errs.New("rpc/script", errs.CodeInvalid,
			errs.WithMessage("module name required"))
	}
	program, err := goja.Compile(modName+".js", source, true)
	if err != nil {
		return nil, errs.New("rpc/script", errs.CodeInvalid,
			errs.WithMessage("compile failed"),
			errs.WithMethod(modName),
			errs.WithCause(err))
	}

	// One throwaway run to discover the callable exports.
	exports, err := runScript(goja.New(), program)
	if err != nil {
		return nil, errs.New("rpc/script", errs.CodeInvalid,
			errs.WithMessage("module evaluation failed"),
			errs.WithMethod(modName),
			errs.WithCause(err))
	}

	methods := API{}
	for _, key := range exports.Keys() {
		if _, ok := goja.AssertFunction(exports.Get(key)); !ok {
			continue
		}
		fnName := key
		methods[fnName] = func(args ...any) (any, error) {
			return runExport(program, modName, fnName, args)
		}
	}
	if len(methods) == 0 {
		return nil, errs.New("rpc/script", errs.CodeInvalid,
			errs.WithMessage("module has no callable exports"),
			errs.WithMethod(modName))
	}
	return API{modName: methods}, nil
}

func runExport(program *goja.Program, modName, fnName string, args []any) (any, error) {
	rt := goja.New()
	exports, err := runScript(rt, program)
	if err != nil {
		return nil, fmt.Errorf("script %s: %w", modName, err)
	}
	value := exports.Get(fnName)
	callable, ok := goja.AssertFunction(value)
	if !ok {
		return nil, fmt.Errorf("script %s: export %q not callable", modName, fnName)
	}
	params := make([]goja.Value, len(args))
	for i, arg := range args {
		params[i] = rt.ToValue(arg)
	}
	res, err := callable(goja.Undefined(), params...)
	if err != nil {
		return nil, fmt.Errorf("script %s.%s: %w", modName, fnName, err)
	}
	return res.Export(), nil
}

func runScript(rt *goja.Runtime, program *goja.Program) (*goja.Object, error) {
	rt.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	module := rt.NewObject()
	exports := rt.NewObject()
	if err := module.Set("exports", exports); err != nil {
		return nil, fmt.Errorf("module init: %w", err)
	}
	if err := rt.Set("exports", exports); err != nil {
		return nil, fmt.Errorf("module init: %w", err)
	}
	if err := rt.Set("module", module); err != nil {
		return nil, fmt.Errorf("module init: %w", err)
	}
	if err := rt.Set("console", silentConsole(rt)); err != nil {
		return nil, fmt.Errorf("module init: %w", err)
	}

	if _, err := rt.RunProgram(program); err != nil {
		return nil, fmt.Errorf("module run: %w", err)
	}

	value := module.Get("exports")
	object := value.ToObject(rt)
	if object == nil {
		return nil, fmt.Errorf("module exports must be an object")
	}
	return object, nil
}

func silentConsole(rt *goja.Runtime) *goja.Object {
	console := rt.NewObject()
	noop := func(goja.FunctionCall) goja.Value { return goja.Undefined() }
	_ = console.Set("log", noop)
	_ = console.Set("error", noop)
	_ = console.Set("warn", noop)
	_ = console.Set("info", noop)
	return console
}
