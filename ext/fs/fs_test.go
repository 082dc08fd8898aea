package fs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/opcore/errors"
	"github.com/wippyai/opcore/ext/builtin"
	"github.com/wippyai/opcore/internal/kerneltest"
	"github.com/wippyai/opcore/marshal"
)

func TestPermissions(t *testing.T) {
	dir := t.TempDir()
	p := &Permissions{Read: []string{dir}, Write: []string{filepath.Join(dir, "out")}}

	tests := []struct {
		name  string
		check func(string) error
		path  string
		ok    bool
	}{
		{"read inside", p.CheckRead, filepath.Join(dir, "a.txt"), true},
		{"read root itself", p.CheckRead, dir, true},
		{"read outside", p.CheckRead, filepath.Join(dir, "..", "x"), false},
		{"write inside", p.CheckWrite, filepath.Join(dir, "out", "b"), true},
		{"write sibling", p.CheckWrite, filepath.Join(dir, "outside"), false},
		{"write parent", p.CheckWrite, dir, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.check(tt.path)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, errors.ClassPermissionDenied, errors.ClassOf(err))
			assert.Equal(t, "EACCES", errors.Classify(err).Code)
		})
	}
}

func TestOpenOptionsFlags(t *testing.T) {
	assert.Equal(t, os.O_RDONLY, OpenOptions{}.flags())
	assert.Equal(t, os.O_RDONLY, OpenOptions{Read: true}.flags())
	assert.Equal(t, os.O_WRONLY, OpenOptions{Write: true}.flags())
	assert.Equal(t, os.O_RDWR|os.O_CREATE|os.O_TRUNC, OpenOptions{Read: true, Write: true, Create: true, Truncate: true}.flags())
	assert.Equal(t, os.O_WRONLY|os.O_APPEND, OpenOptions{Append: true}.flags())
}

func TestReadWriteFile(t *testing.T) {
	dir := t.TempDir()
	h := kerneltest.New(t, New(&Permissions{Read: []string{dir}, Write: []string{dir}}))
	path := filepath.Join(dir, "note.txt")

	_, err := h.Async("op_write_file", path, marshal.BufferFrom([]byte("hello")))
	require.NoError(t, err)

	v, err := h.Async("op_read_file", path, nil)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(v.(*marshal.Buffer).Bytes()))

	v, err = h.Async("op_stat", path, nil)
	require.NoError(t, err)
	info := v.(map[string]any)
	assert.Equal(t, "note.txt", info["name"])
	assert.Equal(t, 5.0, info["size"])
	assert.Equal(t, false, info["isDir"])

	_, err = h.Async("op_remove", path, nil)
	require.NoError(t, err)

	_, err = h.Async("op_read_file", path, nil)
	require.Error(t, err)
	assert.Equal(t, errors.ClassNotFound, errors.ClassOf(err))
	assert.Equal(t, "ENOENT", errors.Classify(err).Code)
}

func TestDenied(t *testing.T) {
	dir := t.TempDir()
	h := kerneltest.New(t, New(&Permissions{Read: []string{dir}}))
	path := filepath.Join(dir, "x")

	_, err := h.Async("op_write_file", path, marshal.BufferFrom([]byte("x")))
	assert.Equal(t, errors.ClassPermissionDenied, errors.ClassOf(err))

	_, err = h.Async("op_open", path, map[string]any{"create": true, "write": true})
	assert.Equal(t, errors.ClassPermissionDenied, errors.ClassOf(err))

	_, err = h.Async("op_read_file", "/definitely/elsewhere", nil)
	assert.Equal(t, errors.ClassPermissionDenied, errors.ClassOf(err))
	assert.NoFileExists(t, path)
}

func TestNilPermissionsDenyAll(t *testing.T) {
	h := kerneltest.New(t, New(nil))

	_, err := h.Async("op_stat", t.TempDir(), nil)
	assert.Equal(t, errors.ClassPermissionDenied, errors.ClassOf(err))
}

func TestFileResource(t *testing.T) {
	dir := t.TempDir()
	h := kerneltest.New(t, builtin.New(nil), New(AllowAll()))
	path := filepath.Join(dir, "stream.txt")

	rid, err := h.Async("op_open", path, map[string]any{"read": true, "write": true, "create": true})
	require.NoError(t, err)

	n, err := h.Async("op_write", rid, marshal.BufferFrom([]byte("abc")))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	list, err := h.Sync("op_resources", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []any{map[string]any{"name": "fsFile", "rid": 1.0}}, list)

	_, err = h.Sync("op_close", rid, nil)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(data))

	_, err = h.Async("op_write", rid, marshal.BufferFrom([]byte("more")))
	assert.Equal(t, errors.ClassBadResource, errors.ClassOf(err))
}
