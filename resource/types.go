package resource

import (
	"context"
	"reflect"
	"strings"
)

// ID is the handle a script holds for a live resource.
// ID 0 is never issued.
type ID uint32

// Resource is any host object a script can hold a handle to.
type Resource any

// Reader is implemented by resources that act as readable streams.
type Reader interface {
	Read(ctx context.Context, p []byte) (int, error)
}

// Writer is implemented by resources that act as writable streams.
type Writer interface {
	Write(ctx context.Context, p []byte) (int, error)
}

// Shutdowner is implemented by resources that support graceful shutdown.
type Shutdowner interface {
	Shutdown(ctx context.Context) error
}

// Closer is implemented by resources that need clean-up once removed from
// the table, typically cancelling pending work. Close must not block.
type Closer interface {
	Close()
}

// Namer overrides the diagnostic name of a resource.
type Namer interface {
	Name() string
}

// Info is one entry of the introspection listing.
type Info struct {
	Name string `json:"name"`
	ID   ID     `json:"rid"`
}

// EventType identifies a lifecycle notification.
type EventType uint8

const (
	EventAdded EventType = iota
	EventTaken
	EventClosed
)

func (t EventType) String() string {
	switch t {
	case EventAdded:
		return "added"
	case EventTaken:
		return "taken"
	case EventClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event represents a resource lifecycle event.
type Event struct {
	Value Resource
	ID    ID
	Type  EventType
}

// Observer receives notifications about resource lifecycle events.
type Observer interface {
	OnResourceEvent(Event)
}

// NameOf returns the diagnostic name of r: Name() when implemented,
// otherwise the Go type name without pointer markers.
func NameOf(r Resource) string {
	if n, ok := r.(Namer); ok {
		return n.Name()
	}
	return typeName(reflect.TypeOf(r))
}

func typeName(t reflect.Type) string {
	if t == nil {
		return "nil"
	}
	return strings.TrimLeft(t.String(), "*")
}
