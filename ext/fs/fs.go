// Package fs provides file resources and permission-checked filesystem ops.
// Blocking syscalls run on the kernel's worker pool.
package fs

import (
	"context"
	"io"
	"os"

	"github.com/wippyai/opcore/marshal"
	"github.com/wippyai/opcore/op"
	"github.com/wippyai/opcore/resource"
)

// Name is the extension name.
const Name = "fs"

// OpenOptions selects the access mode of op_open. With no flags set the
// file is opened read-only.
type OpenOptions struct {
	Read     bool `json:"read"`
	Write    bool `json:"write"`
	Create   bool `json:"create"`
	Truncate bool `json:"truncate"`
	Append   bool `json:"append"`
}

func (o OpenOptions) flags() int {
	var flag int
	switch {
	case o.writes() && o.Read:
		flag = os.O_RDWR
	case o.writes():
		flag = os.O_WRONLY
	default:
		flag = os.O_RDONLY
	}
	if o.Create {
		flag |= os.O_CREATE
	}
	if o.Truncate {
		flag |= os.O_TRUNC
	}
	if o.Append {
		flag |= os.O_APPEND
	}
	return flag
}

func (o OpenOptions) writes() bool {
	return o.Write || o.Append || o.Create || o.Truncate
}

// FileInfo is the op_stat result.
type FileInfo struct {
	Name    string `json:"name"`
	Size    int64  `json:"size"`
	Mode    uint32 `json:"mode"`
	ModTime int64  `json:"mtime"`
	IsDir   bool   `json:"isDir"`
}

// File is an open file handle.
type File struct {
	f *os.File
}

func (f *File) Name() string { return "fsFile" }

func (f *File) Read(ctx context.Context, p []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return f.f.Read(p)
}

func (f *File) Write(ctx context.Context, p []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return f.f.Write(p)
}

// Close releases the descriptor.
func (f *File) Close() error {
	return f.f.Close()
}

var _ io.Closer = (*File)(nil)

// New returns the fs extension with the given permissions. Nil permits
// nothing.
func New(perms *Permissions) *op.Extension {
	if perms == nil {
		perms = &Permissions{}
	}
	return op.NewExtension(Name).
		Ops(
			op.Async("op_open", opOpen),
			op.Async("op_read_file", opReadFile),
			op.Async("op_write_file", opWriteFile),
			op.Async("op_remove", opRemove),
			op.Async("op_stat", opStat),
		).
		State(func(s *op.State) error {
			op.Put(s, perms)
			return nil
		}).
		Build()
}

func opOpen(ctx context.Context, s *op.State, path string, opts OpenOptions) (resource.ID, error) {
	perms := op.Borrow[*Permissions](s)
	if opts.Read || !opts.writes() {
		if err := perms.CheckRead(path); err != nil {
			return 0, err
		}
	}
	if opts.writes() {
		if err := perms.CheckWrite(path); err != nil {
			return 0, err
		}
	}
	f, err := op.Blocking(ctx, s, func() (*os.File, error) {
		return os.OpenFile(path, opts.flags(), 0o666)
	})
	if err != nil {
		return 0, err
	}
	return s.Resources.Add(&File{f: f}), nil
}

func opReadFile(ctx context.Context, s *op.State, path string, _ op.Void) (*marshal.Buffer, error) {
	if err := op.Borrow[*Permissions](s).CheckRead(path); err != nil {
		return nil, err
	}
	return op.Blocking(ctx, s, func() (*marshal.Buffer, error) {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return marshal.BufferFrom(b), nil
	})
}

func opWriteFile(ctx context.Context, s *op.State, path string, data *marshal.Buffer) (op.Void, error) {
	if err := op.Borrow[*Permissions](s).CheckWrite(path); err != nil {
		return op.Void{}, err
	}
	return op.Blocking(ctx, s, func() (op.Void, error) {
		return op.Void{}, os.WriteFile(path, data.Bytes(), 0o666)
	})
}

func opRemove(ctx context.Context, s *op.State, path string, _ op.Void) (op.Void, error) {
	if err := op.Borrow[*Permissions](s).CheckWrite(path); err != nil {
		return op.Void{}, err
	}
	return op.Blocking(ctx, s, func() (op.Void, error) {
		return op.Void{}, os.Remove(path)
	})
}

func opStat(ctx context.Context, s *op.State, path string, _ op.Void) (FileInfo, error) {
	if err := op.Borrow[*Permissions](s).CheckRead(path); err != nil {
		return FileInfo{}, err
	}
	return op.Blocking(ctx, s, func() (FileInfo, error) {
		fi, err := os.Stat(path)
		if err != nil {
			return FileInfo{}, err
		}
		return FileInfo{
			Name:    fi.Name(),
			Size:    fi.Size(),
			Mode:    uint32(fi.Mode().Perm()),
			ModTime: fi.ModTime().UnixMilli(),
			IsDir:   fi.IsDir(),
		}, nil
	})
}
