package override

import (
	"context"
	"fmt"
	"sort"

	"github.com/openfroyo/safeguards/pkg/engine"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// compileStarlark executes the script once and returns a policy calling its
// top-level policy(handle, snapshot, options) function.
func (l *Loader) compileStarlark(_ context.Context, name, path string, src []byte) (engine.PolicyFunc, error) {
	logger := l.logger.With().Str("policy", name).Logger()

	thread := &starlark.Thread{
		Name: name,
		Print: func(_ *starlark.Thread, msg string) {
			logger.Debug().Msg(msg)
		},
	}
	predeclared := starlark.StringDict{
		"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
	}

	globals, err := starlark.ExecFile(thread, path, src, predeclared)
	if err != nil {
		return nil, fmt.Errorf("starlark execution failed: %w", err)
	}

	fn, ok := globals["policy"].(starlark.Callable)
	if !ok {
		return nil, fmt.Errorf("script does not define a policy(handle, snapshot, options) function")
	}

	return func(ctx context.Context, h engine.Handle, snapshot *engine.Snapshot, options interface{}) error {
		doc, err := toStarlarkValue(snapshot.Document())
		if err != nil {
			return fmt.Errorf("failed to convert snapshot: %w", err)
		}
		opts, err := toStarlarkValue(options)
		if err != nil {
			return fmt.Errorf("failed to convert options: %w", err)
		}

		ctx, cancel := context.WithTimeout(ctx, l.config.Timeout)
		defer cancel()

		thread := &starlark.Thread{
			Name: name,
			Print: func(_ *starlark.Thread, msg string) {
				logger.Debug().Msg(msg)
			},
		}

		done := make(chan struct{})
		defer close(done)
		go func() {
			select {
			case <-ctx.Done():
				thread.Cancel(ctx.Err().Error())
			case <-done:
			}
		}()

		if _, err := starlark.Call(thread, fn, starlark.Tuple{starlarkHandle(h), doc, opts}, nil); err != nil {
			return fmt.Errorf("starlark policy failed: %w", err)
		}
		return nil
	}, nil
}

// starlarkHandle exposes approve() and fail(message) to scripts.
func starlarkHandle(h engine.Handle) *starlarkstruct.Struct {
	approve := starlark.NewBuiltin("approve", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
			return nil, err
		}
		h.Approve()
		return starlark.None, nil
	})

	fail := starlark.NewBuiltin("fail", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var message string
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "message", &message); err != nil {
			return nil, err
		}
		h.Fail(message)
		return starlark.None, nil
	})

	return starlarkstruct.FromStringDict(starlarkstruct.Default, starlark.StringDict{
		"approve": approve,
		"fail":    fail,
	})
}

// toStarlarkValue converts a JSON-shaped Go value to a Starlark value.
func toStarlarkValue(v interface{}) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		if val == float64(int64(val)) {
			return starlark.MakeInt64(int64(val)), nil
		}
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []string:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			list[i] = starlark.String(item)
		}
		return starlark.NewList(list), nil
	case []interface{}:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			starlarkItem, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = starlarkItem
		}
		return starlark.NewList(list), nil
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		dict := starlark.NewDict(len(val))
		for _, k := range keys {
			starlarkVal, err := toStarlarkValue(val[k])
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), starlarkVal); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}
