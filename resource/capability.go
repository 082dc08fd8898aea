package resource

import (
	"context"
	"io"

	"go.uber.org/zap"

	"github.com/wippyai/opcore/errors"
)

// Read reads into p if r is readable.
func Read(ctx context.Context, r Resource, p []byte) (int, error) {
	rd, ok := r.(Reader)
	if !ok {
		return 0, errors.NotSupported("read on " + NameOf(r))
	}
	return rd.Read(ctx, p)
}

// Write writes p if r is writable.
func Write(ctx context.Context, r Resource, p []byte) (int, error) {
	w, ok := r.(Writer)
	if !ok {
		return 0, errors.NotSupported("write on " + NameOf(r))
	}
	return w.Write(ctx, p)
}

// Shutdown gracefully shuts r down if supported.
func Shutdown(ctx context.Context, r Resource) error {
	s, ok := r.(Shutdowner)
	if !ok {
		return errors.NotSupported("shutdown on " + NameOf(r))
	}
	return s.Shutdown(ctx)
}

// closeResource runs the resource's clean-up. Resources without a close
// method are simply released.
func closeResource(id ID, r Resource) {
	switch c := r.(type) {
	case Closer:
		c.Close()
	case io.Closer:
		if err := c.Close(); err != nil {
			Logger().Debug("resource close failed",
				zap.Uint32("rid", uint32(id)),
				zap.String("name", NameOf(r)),
				zap.Error(err))
		}
	}
}
