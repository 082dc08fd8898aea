package kernel

import (
	"context"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/opcore/errors"
	"github.com/wippyai/opcore/marshal"
	"github.com/wippyai/opcore/op"
	"github.com/wippyai/opcore/resource"
)

// Engine is the script engine seen from the kernel: something that accepts
// settled promises.
type Engine interface {
	// Settle delivers one batch of completed async results. Values are
	// already encoded. An error aborts the event loop and is returned from
	// RunEventLoop.
	Settle(ctx context.Context, batch []Settlement) error
}

// Settlement is one completed async op.
type Settlement struct {
	Value     any
	Err       *errors.Error
	PromiseID uint32
}

// Options configures a kernel.
type Options struct {
	Engine     Engine
	Codec      marshal.Codec
	Logger     *zap.Logger
	Extensions []*op.Extension
	// Workers bounds the blocking-work pool; 0 means GOMAXPROCS.
	Workers int
}

type entry struct {
	future    *op.Future
	promiseID uint32
	opID      op.ID
	ref       bool
}

// Kernel owns one op table, one op.State and the pending-op queue.
type Kernel struct {
	engine  Engine
	codec   marshal.Codec
	state   *op.State
	ops     *op.Table
	tracker *op.Tracker
	log     *zap.Logger
	pending map[uint32]*entry
	wake    chan struct{}
	mu      sync.Mutex
	closed  bool
}

// New builds the op table from opts.Extensions, creates the state and runs
// each extension's initialisers in registration order.
func New(opts Options) (*Kernel, error) {
	ops, err := op.NewTable(opts.Extensions...)
	if err != nil {
		return nil, err
	}

	codec := opts.Codec
	if codec == nil {
		codec = marshal.Default
	}
	log := opts.Logger
	if log == nil {
		log = Logger()
	}

	k := &Kernel{
		engine:  opts.Engine,
		codec:   codec,
		state:   op.NewState(),
		ops:     ops,
		tracker: op.NewTracker(ops.Len()),
		log:     log,
		pending: make(map[uint32]*entry),
		wake:    make(chan struct{}, 1),
	}

	k.state.Resources.Subscribe(k.tracker)
	k.state.Resources.Subscribe(resourceLog{log: k.log})

	op.Put(k.state, k.ops)
	op.Put(k.state, k.tracker)
	op.Put(k.state, op.NewPool(opts.Workers))

	for _, ext := range ops.Extensions() {
		if err := ext.Init(k.state); err != nil {
			k.state.Close()
			return nil, errors.Registration(ext.Name(), "state", err)
		}
	}

	k.log.Debug("kernel ready",
		zap.Int("ops", ops.Len()),
		zap.Int("extensions", len(opts.Extensions)))
	return k, nil
}

// resourceLog traces resource lifecycle at debug level.
type resourceLog struct {
	log *zap.Logger
}

func (l resourceLog) OnResourceEvent(e resource.Event) {
	if ce := l.log.Check(zap.DebugLevel, "resource "+e.Type.String()); ce != nil {
		ce.Write(zap.Uint32("rid", uint32(e.ID)), zap.String("name", resource.NameOf(e.Value)))
	}
}

// SetEngine attaches the engine when it could not be passed to New, for
// example because the engine itself owns the kernel.
func (k *Kernel) SetEngine(e Engine) {
	k.engine = e
}

// State returns the kernel's op state.
func (k *Kernel) State() *op.State { return k.state }

// Ops returns the op table.
func (k *Kernel) Ops() *op.Table { return k.ops }

// Tracker returns the op metrics.
func (k *Kernel) Tracker() *op.Tracker { return k.tracker }

// OpEntries lists every registered op in id order.
func (k *Kernel) OpEntries() []op.Entry { return k.ops.Entries() }

// Resources lists the live resources as (id, name) pairs.
func (k *Kernel) Resources() []resource.Info {
	return k.state.Resources.List()
}

// OpcallSync runs a sync op. Op id 0 returns the name-to-id map. The
// returned error, when non-nil, is always an *errors.Error with its class
// filled in.
func (k *Kernel) OpcallSync(id op.ID, a, b any) (any, error) {
	if err := k.checkOpen(); err != nil {
		return nil, err
	}
	if id == 0 {
		return k.encode(k.ops.Map())
	}

	o, ok := k.ops.Get(id)
	if !ok {
		return nil, errors.Classify(errors.UnknownOp(uint32(id)))
	}
	if o.Kind == op.KindAsync {
		return nil, errors.Classify(errors.CallingConvention(uint32(id), o.Name, true))
	}

	out := k.ops.Route(id, k.state, k.payload(id, 0, a, b))
	if out.Kind() != op.OutcomeSync {
		return nil, errors.Classify(errors.CallingConvention(uint32(id), o.Name, true))
	}

	k.tracker.TrackSync(id)
	v, err := out.Value()
	if err != nil {
		return nil, errors.Classify(err)
	}
	return k.encode(v)
}

// OpcallAsync starts an op and queues its future under promiseID. A sync op
// that fails reports its error here and nothing is queued; a sync op that
// succeeds is a calling-convention error.
func (k *Kernel) OpcallAsync(id op.ID, promiseID uint32, a, b any) error {
	if err := k.checkOpen(); err != nil {
		return err
	}

	k.mu.Lock()
	_, dup := k.pending[promiseID]
	k.mu.Unlock()
	if dup {
		return errors.Classify(errors.New(errors.PhaseDispatch, errors.KindInvalidInput).
			Detail("promise id %d is already pending", promiseID).
			Value(promiseID).
			Build())
	}

	o, _ := k.ops.Get(id)
	out := k.ops.Route(id, k.state, k.payload(id, promiseID, a, b))

	switch out.Kind() {
	case op.OutcomeNotFound:
		return errors.Classify(errors.UnknownOp(uint32(id)))
	case op.OutcomeSync:
		if _, err := out.Value(); err != nil {
			return errors.Classify(err)
		}
		return errors.Classify(errors.CallingConvention(uint32(id), o.Name, false))
	}

	e := &entry{
		future:    out.Future(),
		promiseID: promiseID,
		opID:      id,
		ref:       !o.Unref,
	}
	k.mu.Lock()
	k.pending[promiseID] = e
	k.mu.Unlock()

	k.tracker.TrackAsync(id, o.Unref)
	e.future.OnResolve(k.signal)
	return nil
}

// Ref makes the pending promise keep the event loop alive. Unknown or
// already delivered ids are ignored.
func (k *Kernel) Ref(promiseID uint32) {
	k.setRef(promiseID, true)
}

// Unref lets the event loop finish while the promise is still pending.
// Unknown or already delivered ids are ignored.
func (k *Kernel) Unref(promiseID uint32) {
	k.setRef(promiseID, false)
}

func (k *Kernel) setRef(promiseID uint32, ref bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if e, ok := k.pending[promiseID]; ok {
		e.ref = ref
	}
}

// Pending returns the number of queued promises.
func (k *Kernel) Pending() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.pending)
}

// HasPendingRef reports whether any queued promise is ref'd.
func (k *Kernel) HasPendingRef() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	for _, e := range k.pending {
		if e.ref {
			return true
		}
	}
	return false
}

// Close drops every pending promise and tears down the state, closing all
// live resources.
func (k *Kernel) Close() {
	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return
	}
	k.closed = true
	dropped := len(k.pending)
	k.pending = make(map[uint32]*entry)
	k.mu.Unlock()

	if dropped > 0 {
		k.log.Debug("dropping pending ops on close", zap.Int("count", dropped))
	}
	k.state.Close()
}

func (k *Kernel) checkOpen() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return errors.Classify(errors.InvalidInput(errors.PhaseDispatch, "kernel is closed"))
	}
	return nil
}

func (k *Kernel) payload(id op.ID, promiseID uint32, a, b any) *op.Payload {
	return &op.Payload{A: a, B: b, Codec: k.codec, OpID: id, PromiseID: promiseID}
}

func (k *Kernel) encode(v any) (any, error) {
	out, err := k.codec.Encode(v)
	if err != nil {
		return nil, errors.Classify(err)
	}
	return out, nil
}

func (k *Kernel) signal() {
	select {
	case k.wake <- struct{}{}:
	default:
	}
}

type ready struct {
	e   *entry
	res op.Result
	seq uint64
}

// collect removes every completed entry from the queue.
func (k *Kernel) collect() []ready {
	k.mu.Lock()
	defer k.mu.Unlock()

	var out []ready
	for pid, e := range k.pending {
		res, ok := e.future.Poll()
		if !ok {
			continue
		}
		out = append(out, ready{e: e, res: res, seq: e.future.Seq()})
		delete(k.pending, pid)
	}
	slices.SortFunc(out, func(a, b ready) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}
		return 0
	})
	return out
}

// settlements encodes the ready results in completion order.
func (k *Kernel) settlements(rs []ready) []Settlement {
	batch := make([]Settlement, 0, len(rs))
	for _, r := range rs {
		k.tracker.TrackAsyncCompleted(r.e.opID, !r.e.ref)

		s := Settlement{PromiseID: r.e.promiseID}
		if r.res.Err != nil {
			s.Err = errors.Classify(r.res.Err)
		} else if v, err := k.codec.Encode(r.res.Value); err != nil {
			s.Err = errors.Classify(err)
		} else {
			s.Value = v
		}
		batch = append(batch, s)
	}
	return batch
}

// Tick polls every pending future once and settles the ready ones in a
// single batch. It returns the number of promises delivered.
func (k *Kernel) Tick(ctx context.Context) (int, error) {
	if k.engine == nil {
		if n := k.Pending(); n > 0 {
			return 0, errors.New(errors.PhaseLoop, errors.KindInternal).
				Detail("no engine attached to settle %d pending promises", n).
				Build()
		}
		return 0, nil
	}

	rs := k.collect()
	if len(rs) == 0 {
		return 0, nil
	}

	batch := k.settlements(rs)
	k.log.Debug("settling promises", zap.Int("count", len(batch)))
	if err := k.engine.Settle(ctx, batch); err != nil {
		return len(batch), err
	}
	return len(batch), nil
}

// RunEventLoop ticks until no ref'd promise is pending, ctx is done, or the
// engine reports an error. Unref'd promises still pending when the loop
// finishes are dropped without delivery.
func (k *Kernel) RunEventLoop(ctx context.Context) error {
	for {
		n, err := k.Tick(ctx)
		if err != nil {
			return err
		}

		if !k.HasPendingRef() {
			k.dropUnref()
			return nil
		}
		if n > 0 {
			continue
		}

		select {
		case <-k.wake:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (k *Kernel) dropUnref() {
	k.mu.Lock()
	var dropped []uint32
	for pid, e := range k.pending {
		if !e.ref {
			dropped = append(dropped, pid)
			delete(k.pending, pid)
		}
	}
	k.mu.Unlock()

	if len(dropped) > 0 {
		slices.Sort(dropped)
		k.log.Debug("event loop finished with unref'd ops pending",
			zap.Uint32s("promises", dropped))
	}
}
