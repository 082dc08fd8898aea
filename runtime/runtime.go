package runtime

import (
	"context"
	"io"

	"go.uber.org/zap"

	"github.com/wippyai/opcore/config"
	"github.com/wippyai/opcore/engine"
	"github.com/wippyai/opcore/ext/builtin"
	"github.com/wippyai/opcore/ext/crypto"
	"github.com/wippyai/opcore/ext/fs"
	"github.com/wippyai/opcore/ext/kv"
	"github.com/wippyai/opcore/ext/net"
	"github.com/wippyai/opcore/ext/timers"
	"github.com/wippyai/opcore/ext/wasm"
	"github.com/wippyai/opcore/ext/ws"
	"github.com/wippyai/opcore/op"
	"github.com/wippyai/opcore/resource"
)

type Runtime struct {
	cfg *config.Config
	vm  *engine.VM
	log *zap.Logger
}

// Option customises a Runtime.
type Option func(*options)

type options struct {
	logger *zap.Logger
	stdio  *builtin.Stdio
	extra  []*op.Extension
}

// WithLogger replaces the logger built from the config.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithStdio redirects core.print.
func WithStdio(stdout, stderr io.Writer) Option {
	return func(o *options) { o.stdio = &builtin.Stdio{Stdout: stdout, Stderr: stderr} }
}

// WithExtensions registers embedder extensions after the configured ones.
// Their op names must not collide with built-in ops.
func WithExtensions(exts ...*op.Extension) Option {
	return func(o *options) { o.extra = append(o.extra, exts...) }
}

// Extensions builds the extension list cfg enables, in registration order.
func Extensions(cfg *config.Config, stdio *builtin.Stdio) []*op.Extension {
	netPerms := &net.Permissions{Hosts: cfg.Permissions.Net}

	ctors := map[string]func() *op.Extension{
		builtin.Name: func() *op.Extension { return builtin.New(stdio) },
		timers.Name:  timers.New,
		fs.Name: func() *op.Extension {
			return fs.New(&fs.Permissions{Read: cfg.Permissions.Read, Write: cfg.Permissions.Write})
		},
		net.Name:    func() *op.Extension { return net.New(netPerms) },
		ws.Name:     func() *op.Extension { return ws.New(netPerms) },
		crypto.Name: func() *op.Extension { return crypto.New(crypto.Options{Seed: cfg.Seed}) },
		kv.Name:     func() *op.Extension { return kv.New(cfg.KV.Driver) },
		wasm.Name: func() *op.Extension {
			return wasm.New(wasm.Config{MemoryLimitPages: cfg.WASM.MemoryLimitPages, WASI: cfg.WASM.WASI})
		},
	}

	var exts []*op.Extension
	for _, name := range config.Extensions {
		if cfg.Enabled(name) {
			exts = append(exts, ctors[name]())
		}
	}
	return exts
}

// New assembles a runtime from cfg. A nil cfg uses config.Default.
func New(cfg *config.Config, opts ...Option) (*Runtime, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	log := o.logger
	if log == nil {
		l, err := cfg.Logger()
		if err != nil {
			return nil, err
		}
		log = l
	}

	exts := append(Extensions(cfg, o.stdio), o.extra...)
	vm, err := engine.New(engine.Options{
		Logger:     log,
		Extensions: exts,
		Workers:    cfg.Workers,
	})
	if err != nil {
		return nil, err
	}

	log.Debug("runtime ready",
		zap.Int("extensions", len(exts)),
		zap.Int("ops", vm.Kernel().Ops().Len()))
	return &Runtime{cfg: cfg, vm: vm, log: log}, nil
}

// Close drops pending ops and closes every resource. Scripts must not be
// run after Close.
func (r *Runtime) Close() {
	r.vm.Close()
	_ = r.log.Sync()
}

func (r *Runtime) Config() *config.Config {
	return r.cfg
}

func (r *Runtime) Logger() *zap.Logger {
	return r.log
}

// VM exposes the underlying script engine.
func (r *Runtime) VM() *engine.VM {
	return r.vm
}

// Run executes src and drives the event loop until no referenced op is
// left.
func (r *Runtime) Run(ctx context.Context, name, src string) error {
	return r.vm.Run(ctx, name, src)
}

// RunFile is Run for a script on disk.
func (r *Runtime) RunFile(ctx context.Context, path string) error {
	if err := r.vm.ExecuteFile(path); err != nil {
		return err
	}
	return r.vm.RunEventLoop(ctx)
}

// Ops lists the registered ops in id order.
func (r *Runtime) Ops() []op.Entry {
	return r.vm.Kernel().OpEntries()
}

// Resources lists the open resources.
func (r *Runtime) Resources() []resource.Info {
	return r.vm.Kernel().Resources()
}

// Metrics returns the aggregate op counters.
func (r *Runtime) Metrics() op.Metrics {
	return r.vm.Kernel().Tracker().Aggregate()
}
