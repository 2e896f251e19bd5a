package executor

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/aria/pkg/events"
	"github.com/cuemby/aria/pkg/log"
	"github.com/cuemby/aria/pkg/metrics"
	"github.com/cuemby/aria/pkg/resourcestore"
	"github.com/cuemby/aria/pkg/storage"
	"github.com/cuemby/aria/pkg/types"
	"github.com/cuemby/aria/pkg/workflow/ctxproxy"
	"github.com/cuemby/aria/pkg/workflow/registry"
	"github.com/cuemby/aria/pkg/workflow/shellop"
	"github.com/cuemby/aria/pkg/workflow/wfcontext"
	"github.com/cuemby/aria/pkg/workflow/wferrors"
)

// shellFunctionPrefix marks a task's Function as an external script path
// rather than a registered Go operation: "shell:/opt/plugin/bin/configure.sh".
const shellFunctionPrefix = "shell:"

// TaskRunnerSubcommand is the hidden cobra subcommand name the self-re-exec
// spawns: `aria __task-runner <args-file>`.
const TaskRunnerSubcommand = "__task-runner"

// runnerArgs is serialized to a temp file and handed to the child process
// instead of being passed on the command line, so large inputs never hit
// exec's argv size limits.
type runnerArgs struct {
	ListenAddr   string               `json:"listen_addr"`
	Task         *types.Task          `json:"task"`
	Node         *types.Node          `json:"node,omitempty"`
	Relationship *types.Relationship  `json:"relationship,omitempty"`
}

type wireMessage struct {
	Type     string                  `json:"type"` // started | succeeded | failed | closed
	TaskID   string                  `json:"task_id,omitempty"`
	Error    string                  `json:"error,omitempty"`
	// Kind distinguishes the error reported in a "failed" message: "abort"
	// or "retry" (from ctx.Task().Abort/Retry), empty for an ordinary
	// operation error. The parent reconstructs the matching wferrors type
	// from this instead of a bare string, so handlers.go's type switch on
	// the failure still sees TaskAbortError/TaskRetryError for
	// subprocess-dispatched operations.
	Kind            string                   `json:"kind,omitempty"`
	RetryIntervalS  *int64                   `json:"retry_interval_s,omitempty"`
	Changes         []storage.TrackedChange  `json:"changes,omitempty"`
}

func writeFrame(w io.Writer, msg wireMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err = w.Write(body)
	return err
}

func readFrame(r io.Reader) (wireMessage, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return wireMessage{}, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return wireMessage{}, err
	}
	var msg wireMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return wireMessage{}, err
	}
	return msg, nil
}

// SubprocessExecutor runs each operation task in its own child process,
// self-re-exec'd with the hidden task-runner subcommand, communicating over
// a loopback TCP connection with a big-endian length-framed JSON protocol.
// It isolates plugin code that a deployment does not trust to share the
// orchestrator's address space.
type SubprocessExecutor struct {
	store      storage.Store
	bus        *events.Bus
	resource   resourcestore.Store
	listener   net.Listener
	binaryPath string
	workDir    string
	pluginPath string
	dataDir    string

	mu         sync.Mutex
	pids       map[string]int
	ctxServers map[string]*ctxproxy.Server
}

// NewSubprocessExecutor starts the loopback listener and accept loop.
// binaryPath is the orchestrator's own executable (os.Executable()). workDir
// holds per-task argument files. pluginPath is exported to children as
// ARIA_PLUGIN_PATH. resource backs the per-task ctx proxy server a shell
// operation's child script reaches through CTX_SOCKET_URL.
func NewSubprocessExecutor(store storage.Store, bus *events.Bus, resource resourcestore.Store, binaryPath, workDir, pluginPath string) (*SubprocessExecutor, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		ln.Close()
		return nil, err
	}
	e := &SubprocessExecutor{
		store:      store,
		bus:        bus,
		resource:   resource,
		listener:   ln,
		binaryPath: binaryPath,
		workDir:    workDir,
		pluginPath: pluginPath,
		dataDir:    filepath.Dir(workDir),
		pids:       make(map[string]int),
		ctxServers: make(map[string]*ctxproxy.Server),
	}
	go e.acceptLoop()
	return e, nil
}

func (e *SubprocessExecutor) acceptLoop() {
	for {
		conn, err := e.listener.Accept()
		if err != nil {
			return // listener closed
		}
		go e.serve(conn)
	}
}

func (e *SubprocessExecutor) serve(conn net.Conn) {
	defer conn.Close()
	logger := log.WithComponent("subprocess-executor")

	// pending is the task this connection reported started and has not yet
	// reported an outcome for; a connection that drops first fails it.
	var pending string
	for {
		msg, err := readFrame(conn)
		if err != nil {
			if pending != "" {
				e.forgetPID(pending)
				e.closeCtxProxy(pending)
				if t, getErr := e.store.GetTask(pending); getErr == nil {
					e.bus.Publish(events.Payload{Signal: events.SignalTaskFailure, Task: t, Err: fmt.Errorf("task runner connection dropped: %v", err)})
				}
			}
			return
		}
		switch msg.Type {
		case "closed":
			return
		case "started":
			pending = msg.TaskID
			t, err := e.store.GetTask(msg.TaskID)
			if err != nil {
				logger.Error().Err(err).Str("task_id", msg.TaskID).Msg("started for unknown task")
				continue
			}
			t.Status = types.TaskStarted
			t.StartedAt = time.Now().UTC()
			if err := e.store.UpdateTask(t); err != nil {
				logger.Error().Err(err).Msg("failed to mark task started")
				continue
			}
			e.bus.Publish(events.Payload{Signal: events.SignalTaskStart, Task: t})
		case "succeeded":
			pending = ""
			if err := e.store.ApplyTrackedChanges(msg.Changes); err != nil {
				logger.Error().Err(err).Msg("failed to apply tracked changes")
			}
			t, err := e.store.GetTask(msg.TaskID)
			if err != nil {
				logger.Error().Err(err).Msg("succeeded for unknown task")
				continue
			}
			e.forgetPID(msg.TaskID)
			if outcome := e.closeCtxProxy(msg.TaskID); outcome != nil {
				// The child reported success, but a script it spawned called
				// ctx task abort/retry over the ctx proxy - that outcome, not
				// the child's exit, decides the task's fate.
				t.Error = outcome.Error()
				if err := e.store.UpdateTask(t); err != nil {
					logger.Error().Err(err).Msg("failed to record task error")
					continue
				}
				e.bus.Publish(events.Payload{Signal: events.SignalTaskFailure, Task: t, Err: outcome})
				continue
			}
			t.Status = types.TaskSuccess
			t.EndedAt = time.Now().UTC()
			if err := e.store.UpdateTask(t); err != nil {
				logger.Error().Err(err).Msg("failed to mark task success")
				continue
			}
			e.bus.Publish(events.Payload{Signal: events.SignalTaskSuccess, Task: t})
		case "failed":
			pending = ""
			if err := e.store.ApplyTrackedChanges(msg.Changes); err != nil {
				logger.Error().Err(err).Msg("failed to apply tracked changes")
			}
			t, err := e.store.GetTask(msg.TaskID)
			if err != nil {
				logger.Error().Err(err).Msg("failed-signal for unknown task")
				continue
			}
			e.forgetPID(msg.TaskID)
			failErr := decodeWireError(msg)
			if outcome := e.closeCtxProxy(msg.TaskID); outcome != nil {
				failErr = outcome
			}
			t.Error = failErr.Error()
			if err := e.store.UpdateTask(t); err != nil {
				logger.Error().Err(err).Msg("failed to record task error")
				continue
			}
			e.bus.Publish(events.Payload{Signal: events.SignalTaskFailure, Task: t, Err: failErr})
		}
	}
}

// Execute spawns a child process to run t. A ctx proxy server is started on
// the parent side, scoped to this one task, with a DirectCommitter backing
// it so a shell operation's attribute writes (made through the proxy, not
// the tracked-change wire protocol) land immediately. Its address is
// exported to the child as CTX_SOCKET_URL.
func (e *SubprocessExecutor) Execute(_ context.Context, t *types.Task) error {
	var node *types.Node
	var relationship *types.Relationship
	var err error
	switch t.ActorType {
	case "node":
		node, err = e.store.GetNode(t.ActorID)
	case "relationship":
		relationship, err = e.store.GetRelationship(t.ActorID)
	}
	if err != nil {
		return err
	}

	opCtx := wfcontext.New(&wfcontext.DirectCommitter{Store: e.store}, t, node, relationship, e.resource,
		log.WithComponent("ctx-proxy").With().Str("task_id", t.ID).Logger())
	ctxSrv, err := ctxproxy.New(opCtx, e.store, e.resource)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.ctxServers[t.ID] = ctxSrv
	e.mu.Unlock()

	args := runnerArgs{ListenAddr: e.listener.Addr().String(), Task: t, Node: node, Relationship: relationship}
	body, err := json.Marshal(args)
	if err != nil {
		ctxSrv.Close()
		return err
	}
	argsPath := filepath.Join(e.workDir, t.ID+".json")
	if err := os.WriteFile(argsPath, body, 0o600); err != nil {
		ctxSrv.Close()
		return err
	}

	cmd := exec.Command(e.binaryPath, TaskRunnerSubcommand, argsPath)
	cmd.Env = append(os.Environ(),
		"ARIA_PLUGIN_PATH="+e.pluginPath,
		"ARIA_DATA_DIR="+e.dataDir,
		shellop.CtxSocketEnvVar+"=http://"+ctxSrv.Addr()+"/",
	)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		ctxSrv.Close()
		return err
	}
	metrics.SubprocessesSpawnedTotal.Inc()

	e.mu.Lock()
	e.pids[t.ID] = cmd.Process.Pid
	e.mu.Unlock()

	go func() {
		_ = cmd.Wait()
		os.Remove(argsPath)
	}()
	return nil
}

// closeCtxProxy shuts down and forgets the ctx proxy server for taskID,
// returning any abort/retry outcome it recorded.
func (e *SubprocessExecutor) closeCtxProxy(taskID string) error {
	e.mu.Lock()
	srv, ok := e.ctxServers[taskID]
	delete(e.ctxServers, taskID)
	e.mu.Unlock()
	if !ok {
		return nil
	}
	outcome := srv.Outcome()
	srv.Close()
	return outcome
}

// decodeWireError reconstructs the typed error a "failed" wire message
// reports, so a Go operation's own ctx.Task().Abort()/Retry() survives the
// trip through the wire protocol instead of flattening to a bare string.
func decodeWireError(msg wireMessage) error {
	switch msg.Kind {
	case "abort":
		return &wferrors.TaskAbortError{Message: msg.Error}
	case "retry":
		return &wferrors.TaskRetryError{Message: msg.Error, Interval: msg.RetryIntervalS}
	default:
		return fmt.Errorf("%s", msg.Error)
	}
}

func (e *SubprocessExecutor) forgetPID(taskID string) {
	e.mu.Lock()
	delete(e.pids, taskID)
	e.mu.Unlock()
}

// Terminate kills the child process running taskID, if still running, and
// tears down its ctx proxy server.
func (e *SubprocessExecutor) Terminate(taskID string) error {
	defer e.closeCtxProxy(taskID)
	e.mu.Lock()
	pid, ok := e.pids[taskID]
	e.mu.Unlock()
	if !ok {
		return nil
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Kill()
}

// Close stops accepting new connections. In-flight children finish and
// their results are dropped once the listener is gone.
func (e *SubprocessExecutor) Close() error {
	return e.listener.Close()
}

// RunTaskRunner is the child-process entry point invoked by the hidden
// task-runner subcommand. It loads argsPath, executes the named operation
// against a TrackingCommitter, and reports the outcome back to the parent
// over the loopback connection named in the args.
func RunTaskRunner(argsPath string, reg *registry.Registry, resource resourcestore.Store) error {
	body, err := os.ReadFile(argsPath)
	if err != nil {
		return err
	}
	var args runnerArgs
	if err := json.Unmarshal(body, &args); err != nil {
		return err
	}

	conn, err := net.Dial("tcp", args.ListenAddr)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := writeFrame(conn, wireMessage{Type: "started", TaskID: args.Task.ID}); err != nil {
		return err
	}

	committer := &wfcontext.TrackingCommitter{}
	logger := log.WithComponent("task-runner").With().Str("task_id", args.Task.ID).Logger()
	ctx := wfcontext.New(committer, args.Task, args.Node, args.Relationship, resource, logger)

	var fn registry.OperationFunc
	if script, ok := strings.CutPrefix(args.Task.Function, shellFunctionPrefix); ok {
		fn = shellop.New(script)
	} else {
		fn, err = reg.Operation(args.Task.Function)
		if err != nil {
			return writeFrame(conn, wireMessage{Type: "failed", TaskID: args.Task.ID, Error: err.Error()})
		}
	}

	if runErr := invoke(fn, ctx); runErr != nil {
		msg := wireMessage{Type: "failed", TaskID: args.Task.ID, Error: runErr.Error(), Changes: committer.Changes}
		switch e := runErr.(type) {
		case *wferrors.TaskAbortError:
			msg.Kind = "abort"
		case *wferrors.TaskRetryError:
			msg.Kind = "retry"
			msg.RetryIntervalS = e.Interval
		}
		return writeFrame(conn, msg)
	}
	return writeFrame(conn, wireMessage{Type: "succeeded", TaskID: args.Task.ID, Changes: committer.Changes})
}
