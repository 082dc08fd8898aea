// Package wasm loads native addons compiled to WebAssembly. Modules are
// compiled and run by wazero; numeric exports are callable from scripts.
package wasm

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"

	"github.com/wippyai/opcore/errors"
	"github.com/wippyai/opcore/marshal"
	"github.com/wippyai/opcore/op"
	"github.com/wippyai/opcore/resource"
)

// Name is the extension name.
const Name = "wasm"

// Config holds runtime settings.
type Config struct {
	// MemoryLimitPages caps memory per instance in 64KiB pages. 0 keeps
	// wazero's default.
	MemoryLimitPages uint32

	// WASI makes wasi_snapshot_preview1 available to modules.
	WASI bool
}

// Engine owns the wazero runtime shared by every module of a kernel.
type Engine struct {
	rt wazero.Runtime
}

// NewEngine creates the runtime.
func NewEngine(ctx context.Context, cfg Config) (*Engine, error) {
	rc := wazero.NewRuntimeConfig()
	if cfg.MemoryLimitPages > 0 {
		rc = rc.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}
	rt := wazero.NewRuntimeWithConfig(ctx, rc)
	if cfg.WASI {
		if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
			rt.Close(ctx)
			return nil, fmt.Errorf("instantiate WASI: %w", err)
		}
	}
	return &Engine{rt: rt}, nil
}

// Compile validates and compiles wasm.
func (e *Engine) Compile(ctx context.Context, wasm []byte) (*Module, error) {
	compiled, err := e.rt.CompileModule(ctx, wasm)
	if err != nil {
		return nil, errors.Op(errors.ClassInvalidData, err)
	}
	return &Module{compiled: compiled, engine: e}, nil
}

// Close shuts the runtime down, closing every module and instance.
func (e *Engine) Close() error {
	return e.rt.Close(context.Background())
}

// Module is a compiled module.
type Module struct {
	compiled wazero.CompiledModule
	engine   *Engine
}

func (m *Module) Name() string { return "wasmModule" }

// Instantiate creates an anonymous instance so a module can be instantiated
// more than once.
func (m *Module) Instantiate(ctx context.Context) (*Instance, error) {
	mod, err := m.engine.rt.InstantiateModule(ctx, m.compiled, wazero.NewModuleConfig().WithName(""))
	if err != nil {
		return nil, err
	}
	return &Instance{mod: mod}, nil
}

func (m *Module) exports() map[string]api.FunctionDefinition {
	return m.compiled.ExportedFunctions()
}

// Close releases the compiled code.
func (m *Module) Close() error {
	return m.compiled.Close(context.Background())
}

// Instance is an instantiated module.
type Instance struct {
	mod api.Module
}

func (i *Instance) Name() string { return "wasmInstance" }

func (i *Instance) exports() map[string]api.FunctionDefinition {
	return i.mod.ExportedFunctionDefinitions()
}

// Call invokes an exported function. Arguments and results are converted
// according to the function's signature.
func (i *Instance) Call(ctx context.Context, name string, args []float64) ([]float64, error) {
	fn := i.mod.ExportedFunction(name)
	if fn == nil {
		return nil, errors.NotFound(errors.PhaseOp, "export", name)
	}
	def := fn.Definition()
	params := def.ParamTypes()
	if len(args) != len(params) {
		return nil, errors.New(errors.PhaseOp, errors.KindInvalidInput).
			Detail("%s takes %d arguments, got %d", name, len(params), len(args)).
			Build()
	}

	stack := make([]uint64, max(len(params), len(def.ResultTypes())))
	for j, t := range params {
		stack[j] = encodeValue(t, args[j])
	}
	if err := fn.CallWithStack(ctx, stack); err != nil {
		return nil, err
	}

	results := make([]float64, len(def.ResultTypes()))
	for j, t := range def.ResultTypes() {
		results[j] = decodeValue(t, stack[j])
	}
	return results, nil
}

// Close closes the instance.
func (i *Instance) Close() error {
	return i.mod.Close(context.Background())
}

func encodeValue(t api.ValueType, v float64) uint64 {
	switch t {
	case api.ValueTypeI32:
		return api.EncodeI32(int32(int64(v)))
	case api.ValueTypeI64:
		return api.EncodeI64(int64(v))
	case api.ValueTypeF32:
		return api.EncodeF32(float32(v))
	case api.ValueTypeF64:
		return api.EncodeF64(v)
	default:
		return uint64(v)
	}
}

func decodeValue(t api.ValueType, v uint64) float64 {
	switch t {
	case api.ValueTypeI32:
		return float64(api.DecodeI32(v))
	case api.ValueTypeI64:
		return float64(int64(v))
	case api.ValueTypeF32:
		return float64(api.DecodeF32(v))
	case api.ValueTypeF64:
		return api.DecodeF64(v)
	default:
		return float64(v)
	}
}

// Export describes one exported function.
type Export struct {
	Name    string   `json:"name"`
	Params  []string `json:"params"`
	Results []string `json:"results"`
}

func describe(defs map[string]api.FunctionDefinition) []Export {
	out := make([]Export, 0, len(defs))
	for name, def := range defs {
		out = append(out, Export{Name: name, Params: typeNames(def.ParamTypes()), Results: typeNames(def.ResultTypes())})
	}
	slices.SortFunc(out, func(a, b Export) int { return strings.Compare(a.Name, b.Name) })
	return out
}

func typeNames(ts []api.ValueType) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = api.ValueTypeName(t)
	}
	return out
}

// CallRequest is the second argument of op_wasm_call.
type CallRequest struct {
	Func string    `json:"func"`
	Args []float64 `json:"args"`
}

// New returns the wasm extension. The runtime is created when the kernel
// starts and closed at teardown.
func New(cfg Config) *op.Extension {
	return op.NewExtension(Name).
		Ops(
			op.Async("op_wasm_compile", opCompile),
			op.Sync("op_wasm_instantiate", opInstantiate),
			op.Async("op_wasm_call", opCall),
			op.Sync("op_wasm_exports", opExports),
		).
		State(func(s *op.State) error {
			e, err := NewEngine(s.Context(), cfg)
			if err != nil {
				return err
			}
			op.Put(s, e)
			return nil
		}).
		Build()
}

func opCompile(ctx context.Context, s *op.State, wasm *marshal.Buffer, _ op.Void) (resource.ID, error) {
	e := op.Borrow[*Engine](s)
	m, err := op.Blocking(ctx, s, func() (*Module, error) {
		return e.Compile(ctx, wasm.Bytes())
	})
	if err != nil {
		return 0, err
	}
	op.Logger().Debug("wasm module compiled", zap.Int("exports", len(m.exports())))
	return s.Resources.Add(m), nil
}

func opInstantiate(s *op.State, rid resource.ID, _ op.Void) (resource.ID, error) {
	m, err := resource.Get[*Module](s.Resources, rid)
	if err != nil {
		return 0, err
	}
	inst, err := m.Instantiate(s.Context())
	if err != nil {
		return 0, err
	}
	return s.Resources.Add(inst), nil
}

func opCall(ctx context.Context, s *op.State, rid resource.ID, req CallRequest) ([]float64, error) {
	inst, err := resource.Get[*Instance](s.Resources, rid)
	if err != nil {
		return nil, err
	}
	return op.Blocking(ctx, s, func() ([]float64, error) {
		return inst.Call(ctx, req.Func, req.Args)
	})
}

func opExports(s *op.State, rid resource.ID, _ op.Void) ([]Export, error) {
	r, err := s.Resources.GetAny(rid)
	if err != nil {
		return nil, err
	}
	switch v := r.(type) {
	case *Module:
		return describe(v.exports()), nil
	case *Instance:
		return describe(v.exports()), nil
	default:
		return nil, errors.TypeMismatch(uint32(rid), "wasmModule", resource.NameOf(r))
	}
}
