package engine

import (
	"context"
	_ "embed"
	"os"
	"strings"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/wippyai/opcore/errors"
	"github.com/wippyai/opcore/kernel"
	"github.com/wippyai/opcore/op"
)

//go:embed prelude.lua
var prelude string

// Options configures a VM.
type Options struct {
	Logger     *zap.Logger
	Extensions []*op.Extension
	// Workers bounds the kernel's blocking-work pool; 0 means GOMAXPROCS.
	Workers int
}

// VM is a Lua state wired to a kernel. It is not safe for concurrent use:
// every method runs Lua on the calling goroutine.
type VM struct {
	L        *lua.LState
	kernel   *kernel.Kernel
	codec    *LuaCodec
	core     *lua.LTable
	resolve  lua.LValue
	spawn    lua.LValue
	log      *zap.Logger
	uncaught error
}

// New creates a VM, builds its kernel from opts.Extensions and runs the
// core prelude.
func New(opts Options) (*VM, error) {
	log := opts.Logger
	if log == nil {
		log = Logger()
	}

	L := lua.NewState()
	vm := &VM{L: L, codec: NewLuaCodec(L), log: log}

	registerErrorType(L)
	registerBufferType(L, vm.codec)

	k, err := kernel.New(kernel.Options{
		Extensions: opts.Extensions,
		Codec:      vm.codec,
		Engine:     vm,
		Logger:     log,
		Workers:    opts.Workers,
	})
	if err != nil {
		L.Close()
		return nil, err
	}
	vm.kernel = k

	vm.core = L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"opcallSync":   vm.opcallSync,
		"opcallAsync":  vm.opcallAsync,
		"refOp":        vm.refOp,
		"unrefOp":      vm.unrefOp,
		"newError":     vm.newError,
		"reportError":  vm.reportError,
		"buffer":       newBuffer(vm.codec),
		"bufferLen":    bufferLen,
		"bufferString": bufferString,
	})
	L.SetGlobal("core", vm.core)

	fn, err := L.Load(strings.NewReader(prelude), "prelude.lua")
	if err == nil {
		err = L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true})
	}
	if err != nil {
		vm.Close()
		return nil, errors.Load("core prelude", fromAPIError(err))
	}

	vm.resolve = L.GetField(vm.core, "opresolve")
	vm.spawn = L.GetField(vm.core, "spawn")

	log.Debug("vm ready", zap.Int("ops", k.Ops().Len()))
	return vm, nil
}

// Kernel returns the VM's kernel.
func (vm *VM) Kernel() *kernel.Kernel {
	return vm.kernel
}

// ExecuteScript runs src as the body of a new coroutine. The script may
// await; whatever it is waiting on completes during RunEventLoop.
func (vm *VM) ExecuteScript(name, src string) error {
	fn, err := vm.L.Load(strings.NewReader(src), name)
	if err != nil {
		return errors.Load("parse "+name, err)
	}
	if err := vm.L.CallByParam(lua.P{Fn: vm.spawn, NRet: 0, Protect: true}, fn); err != nil {
		return fromAPIError(err)
	}
	return vm.takeUncaught()
}

// ExecuteFile reads and runs a script file.
func (vm *VM) ExecuteFile(path string) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return errors.Load("read "+path, err)
	}
	return vm.ExecuteScript(path, string(src))
}

// RunEventLoop drives pending ops until none keep the loop alive. It returns
// the first error the script failed to handle.
func (vm *VM) RunEventLoop(ctx context.Context) error {
	if err := vm.kernel.RunEventLoop(ctx); err != nil {
		return err
	}
	return vm.takeUncaught()
}

// Run executes src and then drives the event loop to completion.
func (vm *VM) Run(ctx context.Context, name, src string) error {
	if err := vm.ExecuteScript(name, src); err != nil {
		return err
	}
	return vm.RunEventLoop(ctx)
}

// Settle resolves completed promises on the script side. It implements
// kernel.Engine.
func (vm *VM) Settle(_ context.Context, batch []kernel.Settlement) error {
	for _, s := range batch {
		var errv lua.LValue = lua.LNil
		if s.Err != nil {
			errv = vm.codec.NewError(s.Err)
		}
		err := vm.L.CallByParam(lua.P{Fn: vm.resolve, NRet: 0, Protect: true},
			lua.LNumber(s.PromiseID), toLValue(s.Value), errv)
		if err != nil {
			vm.record(fromAPIError(err))
		}
		if err := vm.takeUncaught(); err != nil {
			return err
		}
	}
	return nil
}

// Close drops pending ops, closes every resource and the Lua state.
func (vm *VM) Close() {
	if vm.kernel != nil {
		vm.kernel.Close()
	}
	vm.L.Close()
}

func (vm *VM) record(err error) {
	if vm.uncaught == nil {
		vm.uncaught = err
		return
	}
	vm.log.Debug("additional uncaught script error", zap.Error(err))
}

func (vm *VM) takeUncaught() error {
	err := vm.uncaught
	vm.uncaught = nil
	return err
}

func (vm *VM) errorValue(err error) lua.LValue {
	return vm.codec.NewError(errors.Classify(err))
}

func (vm *VM) opcallSync(L *lua.LState) int {
	id := L.CheckInt(1)
	v, err := vm.kernel.OpcallSync(op.ID(id), L.Get(2), L.Get(3))
	if err != nil {
		L.Push(lua.LNil)
		L.Push(vm.errorValue(err))
		return 2
	}
	L.Push(toLValue(v))
	return 1
}

func (vm *VM) opcallAsync(L *lua.LState) int {
	id := L.CheckInt(1)
	pid := L.CheckInt(2)
	if err := vm.kernel.OpcallAsync(op.ID(id), uint32(pid), L.Get(3), L.Get(4)); err != nil {
		L.Push(vm.errorValue(err))
		return 1
	}
	return 0
}

func (vm *VM) refOp(L *lua.LState) int {
	vm.kernel.Ref(uint32(L.CheckInt(1)))
	return 0
}

func (vm *VM) unrefOp(L *lua.LState) int {
	vm.kernel.Unref(uint32(L.CheckInt(1)))
	return 0
}

func (vm *VM) newError(L *lua.LState) int {
	e := errors.New(errors.PhaseOp, errors.KindOp).
		Class(L.CheckString(1)).
		Detail("%s", L.OptString(2, L.CheckString(1))).
		Build()
	L.Push(vm.codec.NewError(e))
	return 1
}

func (vm *VM) reportError(L *lua.LState) int {
	vm.record(scriptError(L.Get(1)))
	return 0
}

func toLValue(v any) lua.LValue {
	if lv, ok := v.(lua.LValue); ok && lv != nil {
		return lv
	}
	return lua.LNil
}
