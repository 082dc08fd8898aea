package op

import (
	"sync"

	"github.com/wippyai/opcore/resource"
)

// Metrics counts dispatches and completions by calling convention.
type Metrics struct {
	OpsDispatched           uint64 `json:"opsDispatched"`
	OpsDispatchedSync       uint64 `json:"opsDispatchedSync"`
	OpsDispatchedAsync      uint64 `json:"opsDispatchedAsync"`
	OpsDispatchedAsyncUnref uint64 `json:"opsDispatchedAsyncUnref"`
	OpsCompleted            uint64 `json:"opsCompleted"`
	OpsCompletedSync        uint64 `json:"opsCompletedSync"`
	OpsCompletedAsync       uint64 `json:"opsCompletedAsync"`
	OpsCompletedAsyncUnref  uint64 `json:"opsCompletedAsyncUnref"`
}

func (m *Metrics) add(o Metrics) {
	m.OpsDispatched += o.OpsDispatched
	m.OpsDispatchedSync += o.OpsDispatchedSync
	m.OpsDispatchedAsync += o.OpsDispatchedAsync
	m.OpsDispatchedAsyncUnref += o.OpsDispatchedAsyncUnref
	m.OpsCompleted += o.OpsCompleted
	m.OpsCompletedSync += o.OpsCompletedSync
	m.OpsCompletedAsync += o.OpsCompletedAsync
	m.OpsCompletedAsyncUnref += o.OpsCompletedAsyncUnref
}

// ResourceMetrics counts resource table churn.
type ResourceMetrics struct {
	Added  uint64 `json:"added"`
	Taken  uint64 `json:"taken"`
	Closed uint64 `json:"closed"`
}

// Tracker records per-op metrics for a table of n ops. It also observes a
// resource table once subscribed to it.
type Tracker struct {
	perOp     []Metrics
	resources ResourceMetrics
	mu        sync.Mutex
}

// NewTracker creates a tracker for op ids 1..n.
func NewTracker(n int) *Tracker {
	return &Tracker{perOp: make([]Metrics, n+1)}
}

func (t *Tracker) at(id ID) *Metrics {
	if int(id) >= len(t.perOp) {
		return nil
	}
	return &t.perOp[id]
}

// TrackSync records a sync op that ran to completion.
func (t *Tracker) TrackSync(id ID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if m := t.at(id); m != nil {
		m.OpsDispatched++
		m.OpsDispatchedSync++
		m.OpsCompleted++
		m.OpsCompletedSync++
	}
}

// TrackAsync records an async op entering the pending queue.
func (t *Tracker) TrackAsync(id ID, unref bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if m := t.at(id); m != nil {
		m.OpsDispatched++
		if unref {
			m.OpsDispatchedAsyncUnref++
		} else {
			m.OpsDispatchedAsync++
		}
	}
}

// TrackAsyncCompleted records an async result delivered to the script.
func (t *Tracker) TrackAsyncCompleted(id ID, unref bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if m := t.at(id); m != nil {
		m.OpsCompleted++
		if unref {
			m.OpsCompletedAsyncUnref++
		} else {
			m.OpsCompletedAsync++
		}
	}
}

// Op returns the metrics for one op.
func (t *Tracker) Op(id ID) Metrics {
	t.mu.Lock()
	defer t.mu.Unlock()
	if m := t.at(id); m != nil {
		return *m
	}
	return Metrics{}
}

// Aggregate sums every op's metrics.
func (t *Tracker) Aggregate() Metrics {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out Metrics
	for _, m := range t.perOp {
		out.add(m)
	}
	return out
}

// OnResourceEvent implements resource.Observer.
func (t *Tracker) OnResourceEvent(e resource.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch e.Type {
	case resource.EventAdded:
		t.resources.Added++
	case resource.EventTaken:
		t.resources.Taken++
	case resource.EventClosed:
		t.resources.Closed++
	}
}

// Resources returns the resource churn seen so far.
func (t *Tracker) Resources() ResourceMetrics {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.resources
}
