// Package shellop implements the operation kind a plugin uses when it isn't
// a registered Go function: an arbitrary executable (shell, PowerShell, any
// binary) that reads its inputs and talks back to the running task through
// the ctx proxy instead of a language-native context object.
package shellop

import (
	"bytes"
	"encoding/json"
	"os"
	"os/exec"

	"github.com/cuemby/aria/pkg/workflow/wfcontext"
	"github.com/cuemby/aria/pkg/workflow/wferrors"
)

// CtxSocketEnvVar is the environment variable a dispatching executor exports
// pointing at the ctx proxy's loopback address, and that a spawned script
// reads to reach it.
const CtxSocketEnvVar = "CTX_SOCKET_URL"

// New returns an operation function that runs scriptPath as a child process,
// passing the task's declared inputs as a JSON object on stdin and
// forwarding the process's own environment (including CTX_SOCKET_URL, set
// by the dispatching executor before the operation function runs). A
// non-zero exit becomes a *wferrors.ProcessError; the ctx proxy handles any
// abort/retry the script itself requests, so this function's return value
// only matters when the script never called one.
func New(scriptPath string) func(ctx *wfcontext.OperationContext) error {
	return func(ctx *wfcontext.OperationContext) error {
		stdin, err := json.Marshal(ctx.Inputs())
		if err != nil {
			return err
		}

		cmd := exec.Command(scriptPath)
		cmd.Env = os.Environ()
		cmd.Stdin = bytes.NewReader(stdin)
		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		runErr := cmd.Run()
		if runErr == nil {
			return nil
		}
		exitCode := -1
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
		return &wferrors.ProcessError{
			Command:  scriptPath,
			ExitCode: exitCode,
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
		}
	}
}
