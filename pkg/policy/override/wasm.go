package override

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openfroyo/safeguards/pkg/engine"
	"github.com/rs/zerolog"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// evaluateExport is the entry point a WebAssembly policy must export.
// Signature: safeguard_evaluate(input_ptr: u32, input_len: u32) -> u64,
// returning (output_ptr << 32) | output_len.
const evaluateExport = "safeguard_evaluate"

// wasmVerdict is the JSON document a WebAssembly policy returns.
type wasmVerdict struct {
	Approved bool     `json:"approved"`
	Failures []string `json:"failures,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// compileWasm validates the module exports up front. Each invocation runs in
// a fresh runtime sharing the loader's compilation cache.
func (l *Loader) compileWasm(ctx context.Context, name, path string, src []byte) (engine.PolicyFunc, error) {
	rt := l.newRuntime(ctx)
	compiled, err := rt.CompileModule(ctx, src)
	if err != nil {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("failed to compile WASM module: %w", err)
	}

	exports := compiled.ExportedFunctions()
	for _, fn := range []string{"malloc", "free", evaluateExport} {
		if _, ok := exports[fn]; !ok {
			_ = rt.Close(ctx)
			return nil, fmt.Errorf("WASM module does not export %s function", fn)
		}
	}
	if len(compiled.ExportedMemories()) == 0 {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("WASM module does not export memory")
	}
	_ = rt.Close(ctx)

	logger := l.logger.With().Str("policy", name).Logger()

	return func(ctx context.Context, h engine.Handle, snapshot *engine.Snapshot, options interface{}) error {
		payload, err := json.Marshal(input(snapshot, options))
		if err != nil {
			return fmt.Errorf("failed to marshal input: %w", err)
		}

		ctx, cancel := context.WithTimeout(ctx, l.config.Timeout)
		defer cancel()

		output, err := l.invokeWasm(ctx, logger, src, payload)
		if err != nil {
			return err
		}

		var verdict wasmVerdict
		if err := json.Unmarshal(output, &verdict); err != nil {
			return fmt.Errorf("failed to unmarshal verdict: %w", err)
		}
		if verdict.Error != "" {
			return fmt.Errorf("wasm policy error: %s", verdict.Error)
		}

		for _, msg := range verdict.Failures {
			h.Fail(msg)
		}
		if verdict.Approved {
			h.Approve()
		}
		return nil
	}, nil
}

func (l *Loader) newRuntime(ctx context.Context) wazero.Runtime {
	runtimeConfig := wazero.NewRuntimeConfig().
		WithMemoryLimitPages(l.config.MemoryLimitPages).
		WithCloseOnContextDone(true).
		WithCompilationCache(l.cache)

	return wazero.NewRuntimeWithConfig(ctx, runtimeConfig)
}

func (l *Loader) invokeWasm(ctx context.Context, logger zerolog.Logger, src, payload []byte) ([]byte, error) {
	rt := l.newRuntime(ctx)
	defer rt.Close(ctx)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		return nil, fmt.Errorf("failed to instantiate WASI: %w", err)
	}

	if err := registerHostFunctions(ctx, rt, logger); err != nil {
		return nil, err
	}

	module, err := rt.Instantiate(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("failed to instantiate WASM module: %w", err)
	}

	bridge, err := newWASMBridge(module)
	if err != nil {
		return nil, err
	}

	return bridge.call(ctx, payload)
}

// registerHostFunctions exposes env.log(ptr, len) so policies can write to
// the engine log.
func registerHostFunctions(ctx context.Context, rt wazero.Runtime, logger zerolog.Logger) error {
	_, err := rt.NewHostModuleBuilder("env").
		NewFunctionBuilder().
		WithFunc(func(_ context.Context, mod api.Module, ptr, length uint32) {
			msg, ok := mod.Memory().Read(ptr, length)
			if !ok {
				return
			}
			logger.Debug().Msg(string(msg))
		}).
		Export("log").
		Instantiate(ctx)
	if err != nil {
		return fmt.Errorf("failed to instantiate host module: %w", err)
	}
	return nil
}

// wasmBridge moves JSON across the module's linear memory.
type wasmBridge struct {
	memory   api.Memory
	malloc   api.Function
	free     api.Function
	evaluate api.Function
}

func newWASMBridge(module api.Module) (*wasmBridge, error) {
	b := &wasmBridge{
		memory:   module.Memory(),
		malloc:   module.ExportedFunction("malloc"),
		free:     module.ExportedFunction("free"),
		evaluate: module.ExportedFunction(evaluateExport),
	}
	if b.memory == nil || b.malloc == nil || b.free == nil || b.evaluate == nil {
		return nil, fmt.Errorf("WASM module is missing required exports")
	}
	return b, nil
}

func (b *wasmBridge) call(ctx context.Context, input []byte) ([]byte, error) {
	var inputPtr, inputLen uint32
	if len(input) > 0 {
		ptr, err := b.allocate(ctx, uint32(len(input)))
		if err != nil {
			return nil, fmt.Errorf("failed to allocate WASM memory: %w", err)
		}
		defer b.deallocate(ctx, ptr)

		inputPtr = ptr
		inputLen = uint32(len(input))
		if !b.memory.Write(inputPtr, input) {
			return nil, fmt.Errorf("failed to write input to WASM memory")
		}
	}

	results, err := b.evaluate.Call(ctx, uint64(inputPtr), uint64(inputLen))
	if err != nil {
		return nil, fmt.Errorf("WASM function call failed: %w", err)
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("WASM function returned no results")
	}

	packed := results[0]
	outputPtr := uint32(packed >> 32)
	outputLen := uint32(packed & 0xFFFFFFFF)
	if outputLen == 0 {
		return []byte("{}"), nil
	}

	view, ok := b.memory.Read(outputPtr, outputLen)
	if !ok {
		return nil, fmt.Errorf("failed to read output from WASM memory")
	}
	output := append([]byte(nil), view...)

	b.deallocate(ctx, outputPtr)
	return output, nil
}

func (b *wasmBridge) allocate(ctx context.Context, size uint32) (uint32, error) {
	results, err := b.malloc.Call(ctx, uint64(size))
	if err != nil {
		return 0, fmt.Errorf("malloc failed: %w", err)
	}
	if len(results) == 0 {
		return 0, fmt.Errorf("malloc returned no results")
	}

	ptr := uint32(results[0])
	if ptr == 0 {
		return 0, fmt.Errorf("malloc returned null pointer")
	}
	return ptr, nil
}

func (b *wasmBridge) deallocate(ctx context.Context, ptr uint32) {
	_, _ = b.free.Call(ctx, uint64(ptr))
}
