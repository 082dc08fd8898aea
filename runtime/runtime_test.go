package runtime

import (
	"bytes"
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/wippyai/opcore/config"
	"github.com/wippyai/opcore/engine"
	"github.com/wippyai/opcore/errors"
	"github.com/wippyai/opcore/op"
)

func newRuntime(t *testing.T, cfg *config.Config, opts ...Option) (*Runtime, *bytes.Buffer) {
	t.Helper()
	var stdout bytes.Buffer
	opts = append([]Option{WithLogger(zap.NewNop()), WithStdio(&stdout, &stdout)}, opts...)
	rt, err := New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(rt.Close)
	return rt, &stdout
}

func run(t *testing.T, rt *Runtime, src string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, rt.Run(ctx, t.Name()+".lua", src))
}

func TestRuntime_DefaultExtensions(t *testing.T) {
	rt, _ := newRuntime(t, nil)

	names := make(map[string]bool)
	for _, e := range rt.Ops() {
		names[e.Name] = true
	}
	for _, name := range []string{"op_print", "op_sleep", "op_read_file", "op_listen", "op_ws_connect", "op_digest", "op_kv_open", "op_wasm_call"} {
		assert.True(t, names[name], name)
	}
	assert.Equal(t, uint32(1), uint32(rt.Ops()[0].ID))
}

func TestRuntime_Print(t *testing.T) {
	rt, stdout := newRuntime(t, nil)

	run(t, rt, `
		core.print("hello ")
		core.print(core.opSync("op_now") > 0)
	`)
	assert.Equal(t, "hello true", stdout.String())
}

func TestRuntime_Sleep(t *testing.T) {
	rt, stdout := newRuntime(t, nil)

	run(t, rt, `
		local start = core.opSync("op_now")
		core.await(core.opAsync("op_sleep", 15))
		core.print(core.opSync("op_now") - start >= 15)
	`)
	assert.Equal(t, "true", stdout.String())
	assert.Zero(t, rt.VM().Kernel().Pending())
}

func TestRuntime_ConcurrentAwait(t *testing.T) {
	rt, stdout := newRuntime(t, nil)

	run(t, rt, `
		for i, ms in ipairs({30, 10, 20}) do
			core.spawn(function()
				core.await(core.opAsync("op_sleep", ms))
				core.print(i)
			end)
		end
	`)
	assert.Equal(t, "231", stdout.String())
}

func TestRuntime_FileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Permissions.Read = []string{dir}
	cfg.Permissions.Write = []string{dir}
	rt, stdout := newRuntime(t, cfg)
	rt.VM().L.SetGlobal("dir", lua.LString(dir))

	run(t, rt, `
		local path = dir .. "/note.txt"
		local _, err = core.await(core.opAsync("op_write_file", path, core.buffer("remember")))
		assert(err == nil, tostring(err))
		local data = core.await(core.opAsync("op_read_file", path))
		core.print(data:string())
		local info = core.await(core.opAsync("op_stat", path))
		core.print(" " .. info.size)
	`)
	assert.Equal(t, "remember 8", stdout.String())

	got, err := os.ReadFile(filepath.Join(dir, "note.txt"))
	require.NoError(t, err)
	assert.Equal(t, "remember", string(got))
}

func TestRuntime_FilePermissionDenied(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Permissions.Read = []string{dir}
	rt, stdout := newRuntime(t, cfg)
	rt.VM().L.SetGlobal("dir", lua.LString(dir))

	run(t, rt, `
		local _, err = core.await(core.opAsync("op_write_file", dir .. "/x", core.buffer("x")))
		core.print(err.class)
	`)
	assert.Equal(t, errors.ClassPermissionDenied, stdout.String())
}

func TestRuntime_KV(t *testing.T) {
	rt, stdout := newRuntime(t, nil)

	run(t, rt, `
		local db = core.await(core.opAsync("op_kv_open", ":memory:"))
		core.await(core.opAsync("op_kv_set", db, { key = "user:1", value = "ada" }))
		core.await(core.opAsync("op_kv_set", db, { key = "user:2", value = "bob" }))
		core.await(core.opAsync("op_kv_set", db, { key = "team:1", value = "core" }))
		core.print(core.await(core.opAsync("op_kv_get", db, "user:2")))
		for _, e in ipairs(core.await(core.opAsync("op_kv_list", db, "user:"))) do
			core.print(" " .. e.key .. "=" .. e.value)
		end
		core.print(" " .. tostring(core.await(core.opAsync("op_kv_delete", db, "user:1"))))
		core.print(" " .. tostring(core.await(core.opAsync("op_kv_get", db, "user:1"))))
		core.close(db)
	`)
	assert.Equal(t, "bob user:1=ada user:2=bob true nil", stdout.String())
	assert.Empty(t, rt.Resources())
}

func TestRuntime_SeededRandomness(t *testing.T) {
	seed := uint64(42)
	script := `core.print(core.opSync("op_random_uuid"))`

	uuids := make([]string, 2)
	for i := range uuids {
		cfg := config.Default()
		cfg.Seed = &seed
		rt, stdout := newRuntime(t, cfg)
		run(t, rt, script)
		uuids[i] = stdout.String()
	}
	assert.Len(t, uuids[0], 36)
	assert.Equal(t, uuids[0], uuids[1])
}

func TestRuntime_Digest(t *testing.T) {
	rt, stdout := newRuntime(t, nil)

	run(t, rt, `
		local sum = core.await(core.opAsync("op_digest", "sha-256", core.buffer("abc")))
		core.print(#sum .. " " .. sum:byte(1))
	`)
	assert.Equal(t, "32 186", stdout.String())
}

func TestRuntime_ExtensionSubset(t *testing.T) {
	cfg := config.Default()
	cfg.Extensions = []string{"builtin"}
	rt, stdout := newRuntime(t, cfg)

	for _, e := range rt.Ops() {
		assert.False(t, strings.HasPrefix(e.Name, "op_kv"), e.Name)
	}
	run(t, rt, `
		local _, err = core.await(core.opAsync("op_sleep", 1))
		core.print(err.class)
	`)
	assert.Equal(t, "TypeError", stdout.String())
}

func TestRuntime_WithExtensions(t *testing.T) {
	greet := op.NewExtension("greet").
		Ops(op.Sync("op_greet", func(_ *op.State, name string, _ op.Void) (string, error) {
			return "hello " + name, nil
		})).
		Build()
	rt, stdout := newRuntime(t, nil, WithExtensions(greet))

	run(t, rt, `core.print(core.opSync("op_greet", "world"))`)
	assert.Equal(t, "hello world", stdout.String())

	last := rt.Ops()[len(rt.Ops())-1]
	assert.Equal(t, "op_greet", last.Name)
}

func TestRuntime_DuplicateOp(t *testing.T) {
	dup := op.NewExtension("dup").
		Ops(op.Sync("op_print", func(*op.State, op.Void, op.Void) (op.Void, error) {
			return op.Void{}, nil
		})).
		Build()

	_, err := New(nil, WithLogger(zap.NewNop()), WithExtensions(dup))
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrRegistration))
}

func TestRuntime_InvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Workers = -1

	_, err := New(cfg)
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrInvalidInput))
}

func TestRuntime_RunFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "main.lua")
	require.NoError(t, os.WriteFile(path, []byte(`
		core.await(core.opAsync("op_sleep", 1))
		core.print("done")
	`), 0o600))
	rt, stdout := newRuntime(t, nil)

	require.NoError(t, rt.RunFile(context.Background(), path))
	assert.Equal(t, "done", stdout.String())
	assert.EqualValues(t, 1, rt.Metrics().OpsCompletedAsync)
}

func TestRuntime_RunFileMissing(t *testing.T) {
	rt, _ := newRuntime(t, nil)

	err := rt.RunFile(context.Background(), filepath.Join(t.TempDir(), "nope.lua"))
	assert.True(t, stderrors.Is(err, errors.ErrLoad))
}

func TestRuntime_UncaughtError(t *testing.T) {
	rt, _ := newRuntime(t, nil)

	err := rt.Run(context.Background(), "boom.lua", `
		core.await(core.opAsync("op_sleep", 1))
		local _, err = core.await(core.opAsync("op_read_file", "/definitely/not/here"))
		error(err)
	`)
	var se *engine.ScriptError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, errors.ClassPermissionDenied, se.Class)
}
