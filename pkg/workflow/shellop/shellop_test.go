package shellop

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/aria/pkg/types"
	"github.com/cuemby/aria/pkg/workflow/wfcontext"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell operations assume a POSIX shell")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "op.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o700))
	return path
}

func newOpContext() *wfcontext.OperationContext {
	task := &types.Task{ID: "t1", Inputs: map[string]interface{}{"name": "web"}}
	return wfcontext.New(&wfcontext.TrackingCommitter{}, task, nil, nil, nil, zerolog.Nop())
}

func TestNewRunsScriptToCompletion(t *testing.T) {
	script := writeScript(t, "exit 0\n")
	fn := New(script)
	require.NoError(t, fn(newOpContext()))
}

func TestNewReportsNonZeroExitAsProcessError(t *testing.T) {
	script := writeScript(t, "echo boom 1>&2\nexit 3\n")
	fn := New(script)

	err := fn(newOpContext())
	require.Error(t, err)
	require.Contains(t, err.Error(), "exited 3")
	require.Contains(t, err.Error(), "boom")
}

func TestNewForwardsCtxSocketEnvToScript(t *testing.T) {
	out := filepath.Join(t.TempDir(), "env.out")
	script := writeScript(t, "echo \"$"+CtxSocketEnvVar+"\" > "+out+"\n")

	t.Setenv(CtxSocketEnvVar, "http://127.0.0.1:9/")
	fn := New(script)
	require.NoError(t, fn(newOpContext()))

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, "http://127.0.0.1:9/\n", string(got))
}
