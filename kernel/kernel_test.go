package kernel

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/wippyai/opcore/errors"
	"github.com/wippyai/opcore/op"
)

// recorder is an Engine that remembers every settlement.
type recorder struct {
	onSettle func(Settlement) error
	batches  [][]Settlement
	mu       sync.Mutex
}

func (r *recorder) Settle(_ context.Context, batch []Settlement) error {
	r.mu.Lock()
	r.batches = append(r.batches, batch)
	r.mu.Unlock()
	if r.onSettle != nil {
		for _, s := range batch {
			if err := r.onSettle(s); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *recorder) order() []uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []uint32
	for _, b := range r.batches {
		for _, s := range b {
			out = append(out, s.PromiseID)
		}
	}
	return out
}

func (r *recorder) find(pid uint32) (Settlement, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.batches {
		for _, s := range b {
			if s.PromiseID == pid {
				return s, true
			}
		}
	}
	return Settlement{}, false
}

// manual hands out futures the test resolves by promise id.
type manual struct {
	futures map[uint32]*op.Future
	mu      sync.Mutex
}

func (m *manual) get(pid uint32) *op.Future {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.futures[pid]
}

type closeable struct{ closed bool }

func (c *closeable) Close() { c.closed = true }

func manualOp(name string, unref bool) op.Op {
	return op.Op{
		Name:  name,
		Kind:  op.KindAsync,
		Unref: unref,
		Handler: func(s *op.State, p *op.Payload) op.Outcome {
			m := op.Borrow[*manual](s)
			f := op.NewFuture()
			m.mu.Lock()
			m.futures[p.PromiseID] = f
			m.mu.Unlock()
			return op.Pending(f)
		},
	}
}

func testExtension() *op.Extension {
	return op.NewExtension("test").
		Ops(
			op.Sync("op_add", func(_ *op.State, a, b int) (int, error) {
				return a + b, nil
			}),
			op.Async("op_sleep", func(ctx context.Context, _ *op.State, ms int, _ op.Void) (int, error) {
				select {
				case <-time.After(time.Duration(ms) * time.Millisecond):
					return ms, nil
				case <-ctx.Done():
					return 0, ctx.Err()
				}
			}),
			op.Sync("op_fail", func(*op.State, op.Void, op.Void) (op.Void, error) {
				return op.Void{}, errors.Op(errors.ClassNotFound, stderrors.New("no such thing"))
			}),
			op.Sync("op_open", func(s *op.State, _ op.Void, _ op.Void) (uint32, error) {
				return uint32(s.Resources.Add(&closeable{})), nil
			}),
			manualOp("op_manual", false),
			manualOp("op_manual_unref", true),
		).
		State(func(s *op.State) error {
			op.Put(s, &manual{futures: make(map[uint32]*op.Future)})
			return nil
		}).
		Build()
}

func newKernel(t *testing.T) (*Kernel, *recorder, map[string]op.ID) {
	t.Helper()
	rec := &recorder{}
	k, err := New(Options{Extensions: []*op.Extension{testExtension()}, Engine: rec})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(k.Close)

	v, err := k.OpcallSync(0, nil, nil)
	if err != nil {
		t.Fatalf("bootstrap failed: %v", err)
	}
	ids, ok := v.(map[string]op.ID)
	if !ok {
		t.Fatalf("bootstrap returned %T", v)
	}
	return k, rec, ids
}

func asError(t *testing.T, err error) *errors.Error {
	t.Helper()
	var e *errors.Error
	if !stderrors.As(err, &e) {
		t.Fatalf("expected *errors.Error, got %T: %v", err, err)
	}
	return e
}

func runLoop(t *testing.T, k *Kernel) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := k.RunEventLoop(ctx); err != nil {
		t.Fatalf("RunEventLoop failed: %v", err)
	}
}

func TestOpcallSync_Add(t *testing.T) {
	k, _, ids := newKernel(t)

	v, err := k.OpcallSync(ids["op_add"], 2, 3)
	if err != nil {
		t.Fatalf("op_add failed: %v", err)
	}
	if v != 5 {
		t.Fatalf("op_add(2, 3) = %v", v)
	}
}

func TestBootstrapRoundTrip(t *testing.T) {
	k, _, ids := newKernel(t)

	if len(ids) != k.Ops().Len() {
		t.Fatalf("map has %d entries, table has %d", len(ids), k.Ops().Len())
	}
	for name, id := range ids {
		o, ok := k.Ops().Get(id)
		if !ok || o.Name != name {
			t.Errorf("%s=%d does not resolve back", name, id)
		}
	}
}

func TestOpcall_UnknownOp(t *testing.T) {
	k, _, _ := newKernel(t)

	_, err := k.OpcallSync(999, nil, nil)
	if e := asError(t, err); e.Kind != errors.KindUnknownOp || e.Class != errors.ClassTypeError {
		t.Fatalf("unexpected error %v (class %s)", err, e.Class)
	}

	err = k.OpcallAsync(999, 1, nil, nil)
	if e := asError(t, err); e.Kind != errors.KindUnknownOp {
		t.Fatalf("unexpected error %v", err)
	}
	if k.Pending() != 0 {
		t.Fatal("unknown op must not queue anything")
	}
}

func TestCallingConvention(t *testing.T) {
	k, _, ids := newKernel(t)

	t.Run("async op through sync entry", func(t *testing.T) {
		_, err := k.OpcallSync(ids["op_sleep"], 1, nil)
		e := asError(t, err)
		if e.Kind != errors.KindCallingConvention || e.Class != errors.ClassTypeError {
			t.Fatalf("unexpected error %v", err)
		}
		if k.Pending() != 0 {
			t.Fatal("nothing should be queued")
		}
	})

	t.Run("sync op through async entry", func(t *testing.T) {
		err := k.OpcallAsync(ids["op_add"], 7, 2, 3)
		e := asError(t, err)
		if e.Kind != errors.KindCallingConvention || e.Class != errors.ClassTypeError {
			t.Fatalf("unexpected error %v", err)
		}
		if k.Pending() != 0 {
			t.Fatal("nothing should be queued")
		}
	})

	t.Run("failing sync op through async entry", func(t *testing.T) {
		err := k.OpcallAsync(ids["op_add"], 8, "x", 3)
		if e := asError(t, err); e.Kind != errors.KindArgumentDecode {
			t.Fatalf("the op's own error should be returned, got %v", err)
		}
	})
}

func TestOpcallSync_Errors(t *testing.T) {
	k, _, ids := newKernel(t)

	_, err := k.OpcallSync(ids["op_fail"], nil, nil)
	e := asError(t, err)
	if e.Class != errors.ClassNotFound || e.Message() != "no such thing" {
		t.Fatalf("unexpected error %v", err)
	}

	_, err = k.OpcallSync(ids["op_add"], "two", 3)
	if e := asError(t, err); e.Kind != errors.KindArgumentDecode || e.Class != errors.ClassTypeError {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestOpcallAsync_DuplicatePromise(t *testing.T) {
	k, _, ids := newKernel(t)

	if err := k.OpcallAsync(ids["op_manual"], 1, nil, nil); err != nil {
		t.Fatal(err)
	}
	err := k.OpcallAsync(ids["op_manual"], 1, nil, nil)
	if e := asError(t, err); e.Kind != errors.KindInvalidInput {
		t.Fatalf("unexpected error %v", err)
	}
	if k.Pending() != 1 {
		t.Fatal("duplicate must not replace the pending entry")
	}
}

func TestCompletionOrder(t *testing.T) {
	k, rec, ids := newKernel(t)
	m := op.Borrow[*manual](k.State())

	for pid := uint32(1); pid <= 3; pid++ {
		if err := k.OpcallAsync(ids["op_manual"], pid, nil, nil); err != nil {
			t.Fatal(err)
		}
	}

	// finish in reverse submission order before a single tick
	m.get(2).Resolve("two", nil)
	m.get(3).Resolve("three", nil)
	m.get(1).Resolve("one", nil)

	n, err := k.Tick(context.Background())
	if err != nil || n != 3 {
		t.Fatalf("Tick = %d, %v", n, err)
	}
	if len(rec.batches) != 1 {
		t.Fatalf("expected one batch, got %d", len(rec.batches))
	}

	got := rec.order()
	want := []uint32{2, 3, 1}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("delivery order %v, want %v", got, want)
		}
	}
	if s, _ := rec.find(3); s.Value != "three" {
		t.Fatalf("promise 3 settled with %v", s.Value)
	}
}

func TestTick_PendingNotDelivered(t *testing.T) {
	k, rec, ids := newKernel(t)

	if err := k.OpcallAsync(ids["op_manual"], 1, nil, nil); err != nil {
		t.Fatal(err)
	}
	n, err := k.Tick(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("Tick = %d, %v", n, err)
	}
	if len(rec.batches) != 0 || k.Pending() != 1 {
		t.Fatal("pending futures stay queued and are not settled")
	}
}

func TestRefUnref(t *testing.T) {
	k, _, ids := newKernel(t)

	if err := k.OpcallAsync(ids["op_manual"], 1, nil, nil); err != nil {
		t.Fatal(err)
	}
	if !k.HasPendingRef() {
		t.Fatal("new async ops are ref'd")
	}

	k.Unref(1)
	k.Unref(1)
	if k.HasPendingRef() {
		t.Fatal("unref should clear the flag")
	}

	k.Ref(1)
	k.Ref(1)
	if !k.HasPendingRef() {
		t.Fatal("ref should set the flag")
	}

	// unknown ids are ignored
	k.Ref(999)
	k.Unref(999)
	if k.Pending() != 1 {
		t.Fatal("ref on unknown id must not create entries")
	}

	op.Borrow[*manual](k.State()).get(1).Resolve(nil, nil)
	runLoop(t, k)

	// delivered ids are ignored too
	k.Ref(1)
	if k.HasPendingRef() || k.Pending() != 0 {
		t.Fatal("delivered promise must stay delivered")
	}
}

func TestRunEventLoop(t *testing.T) {
	k, rec, ids := newKernel(t)

	if err := k.OpcallAsync(ids["op_sleep"], 1, 30, nil); err != nil {
		t.Fatal(err)
	}
	if err := k.OpcallAsync(ids["op_sleep"], 2, 5, nil); err != nil {
		t.Fatal(err)
	}

	runLoop(t, k)

	if k.Pending() != 0 {
		t.Fatalf("loop returned with %d pending", k.Pending())
	}
	got := rec.order()
	if len(got) != 2 || got[0] != 2 || got[1] != 1 {
		t.Fatalf("delivery order %v, want [2 1]", got)
	}
	if s, _ := rec.find(1); s.Value != 30 || s.Err != nil {
		t.Fatalf("unexpected settlement %+v", s)
	}
}

func TestRunEventLoop_UnrefDropped(t *testing.T) {
	k, rec, ids := newKernel(t)

	if err := k.OpcallAsync(ids["op_manual_unref"], 1, nil, nil); err != nil {
		t.Fatal(err)
	}
	if err := k.OpcallAsync(ids["op_sleep"], 2, 5, nil); err != nil {
		t.Fatal(err)
	}

	runLoop(t, k)

	if _, ok := rec.find(1); ok {
		t.Fatal("unref'd op must not be delivered")
	}
	if _, ok := rec.find(2); !ok {
		t.Fatal("ref'd op must be delivered")
	}
	if k.Pending() != 0 {
		t.Fatal("unref'd entries are dropped when the loop finishes")
	}
}

func TestRunEventLoop_Reentrant(t *testing.T) {
	k, rec, ids := newKernel(t)

	// settling promise 1 starts promise 2 from inside the engine
	rec.onSettle = func(s Settlement) error {
		if s.PromiseID == 1 {
			return k.OpcallAsync(ids["op_sleep"], 2, 1, nil)
		}
		return nil
	}

	if err := k.OpcallAsync(ids["op_sleep"], 1, 1, nil); err != nil {
		t.Fatal(err)
	}
	runLoop(t, k)

	if _, ok := rec.find(2); !ok {
		t.Fatal("op started during settle was not delivered")
	}
}

func TestRunEventLoop_SettleError(t *testing.T) {
	k, rec, ids := newKernel(t)
	boom := stderrors.New("uncaught")
	rec.onSettle = func(Settlement) error { return boom }

	if err := k.OpcallAsync(ids["op_sleep"], 1, 1, nil); err != nil {
		t.Fatal(err)
	}
	err := k.RunEventLoop(context.Background())
	if !stderrors.Is(err, boom) {
		t.Fatalf("expected engine error, got %v", err)
	}
}

func TestRunEventLoop_ContextCancel(t *testing.T) {
	k, _, ids := newKernel(t)

	if err := k.OpcallAsync(ids["op_manual"], 1, nil, nil); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := k.RunEventLoop(ctx); !stderrors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
	if k.Pending() != 1 {
		t.Fatal("cancelled loop keeps pending ops")
	}
}

func TestAsyncErrorSettlement(t *testing.T) {
	k, rec, ids := newKernel(t)

	if err := k.OpcallAsync(ids["op_manual"], 1, nil, nil); err != nil {
		t.Fatal(err)
	}
	op.Borrow[*manual](k.State()).get(1).Resolve(nil, context.Canceled)
	runLoop(t, k)

	s, ok := rec.find(1)
	if !ok || s.Err == nil || s.Err.Class != errors.ClassInterrupted {
		t.Fatalf("unexpected settlement %+v", s)
	}
}

func TestMetrics(t *testing.T) {
	k, _, ids := newKernel(t)

	_, _ = k.OpcallSync(ids["op_add"], 1, 1)
	_ = k.OpcallAsync(ids["op_sleep"], 1, 1, nil)
	runLoop(t, k)

	agg := k.Tracker().Aggregate()
	if agg.OpsDispatched != 2 || agg.OpsCompleted != 2 || agg.OpsDispatchedAsync != 1 {
		t.Fatalf("unexpected metrics %+v", agg)
	}
}

func TestClose(t *testing.T) {
	k, _, ids := newKernel(t)

	v, err := k.OpcallSync(ids["op_open"], nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	res := k.Resources()
	if len(res) != 1 || uint32(res[0].ID) != v.(uint32) || res[0].Name != "kernel.closeable" {
		t.Fatalf("unexpected resources %+v", res)
	}
	c := k.State().Resources
	r, _ := c.GetAny(res[0].ID)

	k.Close()
	k.Close()

	if !r.(*closeable).closed {
		t.Fatal("Close should close live resources")
	}
	if _, err := k.OpcallSync(ids["op_add"], 1, 2); err == nil {
		t.Fatal("calls after Close should fail")
	}
}

func TestNew_InitError(t *testing.T) {
	ext := op.NewExtension("broken").
		State(func(*op.State) error { return stderrors.New("no config") }).
		Build()

	_, err := New(Options{Extensions: []*op.Extension{ext}})
	if e := asError(t, err); e.Kind != errors.KindRegistration {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestTick_NoEngine(t *testing.T) {
	k, err := New(Options{Extensions: []*op.Extension{testExtension()}})
	if err != nil {
		t.Fatal(err)
	}
	defer k.Close()

	if n, err := k.Tick(context.Background()); n != 0 || err != nil {
		t.Fatalf("idle tick without engine = %d, %v", n, err)
	}

	id, _ := k.Ops().Lookup("op_manual")
	if err := k.OpcallAsync(id, 1, nil, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := k.Tick(context.Background()); err == nil {
		t.Fatal("expected error when settling without an engine")
	}
	if k.Pending() != 1 {
		t.Fatal("entries must survive a failed tick")
	}
}
