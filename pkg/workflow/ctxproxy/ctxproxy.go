// Package ctxproxy implements the HTTP surface an external plugin script
// (anything not a registered Go operation function) talks to in place of a
// language-native ctx object. It accepts exactly nine commands and rejects
// everything else outright - there is no reflection-based attribute walk
// here, unlike the orchestrator this system descends from.
package ctxproxy

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/cuemby/aria/pkg/log"
	"github.com/cuemby/aria/pkg/metrics"
	"github.com/cuemby/aria/pkg/resourcestore"
	"github.com/cuemby/aria/pkg/storage"
	"github.com/cuemby/aria/pkg/workflow/wfcontext"
)

// Command names accepted in a request's "command" field. Anything else is
// rejected with illegalOperationMessage.
const (
	CommandGetNodeAttribute         = "GetNodeAttribute"
	CommandSetNodeAttribute         = "SetNodeAttribute"
	CommandGetRelationshipAttribute = "GetRelationshipAttribute"
	CommandSetRelationshipAttribute = "SetRelationshipAttribute"
	CommandTaskAbort                = "TaskAbort"
	CommandTaskRetry                = "TaskRetry"
	CommandDownloadResource         = "DownloadResource"
	CommandUploadResource           = "UploadResource"
	CommandLogMessage               = "LogMessage"
)

const illegalOperationMessage = "illegal ctx operation requested"

// request is the fixed envelope every call must match; Payload's shape
// depends on Command.
type request struct {
	Command string          `json:"command"`
	Payload json.RawMessage `json:"payload"`
}

type response struct {
	OK    bool        `json:"ok"`
	Value interface{} `json:"value,omitempty"`
	Error string      `json:"error,omitempty"`
}

// Server exposes one task's OperationContext over loopback HTTP for a
// subprocess or external script to drive, for the lifetime of a single
// task execution.
type Server struct {
	ctx      *wfcontext.OperationContext
	store    storage.Store
	resource resourcestore.Store

	listener net.Listener
	httpSrv  *http.Server

	mu        sync.Mutex
	abortUsed bool
	retryUsed bool
	outcome   error
}

// New starts listening on 127.0.0.1:0 for requests scoped to ctx.
func New(ctx *wfcontext.OperationContext, store storage.Store, resource resourcestore.Store) (*Server, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	s := &Server{ctx: ctx, store: store, resource: resource, listener: ln}
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	s.httpSrv = &http.Server{Handler: mux}
	go s.httpSrv.Serve(ln)
	return s, nil
}

// Addr returns the "host:port" to hand to the subprocess as the ctx proxy
// endpoint.
func (s *Server) Addr() string { return s.listener.Addr().String() }

// Outcome returns the *wferrors.TaskAbortError or *wferrors.TaskRetryError
// recorded by a prior TaskAbort/TaskRetry command, or nil if neither was
// called. A subprocess executor dispatching the operation this server fronts
// checks Outcome after the child process exits, since a script that calls
// ctx task abort still controls its own exit code - the task's real fate
// lives here, not in whatever status the child process self-reports.
func (s *Server) Outcome() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcome
}

// Close shuts the server down. Any request still in flight is aborted.
func (s *Server) Close() error {
	return s.httpSrv.Close()
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	logger := log.WithComponent("ctx-proxy")
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeError(w, "", http.StatusBadRequest, err.Error())
		return
	}
	var req request
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(w, "", http.StatusBadRequest, err.Error())
		return
	}

	value, err := s.dispatch(req)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.CtxProxyRequestsTotal.WithLabelValues(req.Command, outcome).Inc()
	if err != nil {
		logger.Warn().Str("command", req.Command).Err(err).Msg("ctx proxy request failed")
		s.writeError(w, req.Command, http.StatusBadRequest, err.Error())
		return
	}
	s.writeOK(w, value)
}

func (s *Server) dispatch(req request) (interface{}, error) {
	switch req.Command {
	case CommandGetNodeAttribute:
		var p struct {
			NodeID string `json:"node_id"`
			Key    string `json:"key"`
		}
		if err := json.Unmarshal(req.Payload, &p); err != nil {
			return nil, err
		}
		n, err := s.store.GetNode(p.NodeID)
		if err != nil {
			return nil, err
		}
		return n.Attributes[p.Key], nil

	case CommandSetNodeAttribute:
		var p struct {
			NodeID string      `json:"node_id"`
			Key    string      `json:"key"`
			Value  interface{} `json:"value"`
		}
		if err := json.Unmarshal(req.Payload, &p); err != nil {
			return nil, err
		}
		return nil, s.ctx.SetNodeAttribute(p.NodeID, p.Key, p.Value)

	case CommandGetRelationshipAttribute:
		var p struct {
			RelationshipID string `json:"relationship_id"`
			Key            string `json:"key"`
		}
		if err := json.Unmarshal(req.Payload, &p); err != nil {
			return nil, err
		}
		rel, err := s.store.GetRelationship(p.RelationshipID)
		if err != nil {
			return nil, err
		}
		return rel.Attributes[p.Key], nil

	case CommandSetRelationshipAttribute:
		var p struct {
			RelationshipID string      `json:"relationship_id"`
			Key            string      `json:"key"`
			Value          interface{} `json:"value"`
		}
		if err := json.Unmarshal(req.Payload, &p); err != nil {
			return nil, err
		}
		return nil, s.ctx.SetRelationshipAttribute(p.RelationshipID, p.Key, p.Value)

	case CommandTaskAbort:
		var p struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(req.Payload, &p); err != nil {
			return nil, err
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.abortUsed || s.retryUsed {
			return nil, errors.New(illegalOperationMessage)
		}
		s.abortUsed = true
		err := s.ctx.Task().Abort(p.Message)
		s.outcome = err
		return nil, err

	case CommandTaskRetry:
		var p struct {
			Message         string `json:"message"`
			IntervalSeconds *int64 `json:"interval_seconds,omitempty"`
		}
		if err := json.Unmarshal(req.Payload, &p); err != nil {
			return nil, err
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.abortUsed || s.retryUsed {
			return nil, errors.New(illegalOperationMessage)
		}
		s.retryUsed = true
		var interval *time.Duration
		if p.IntervalSeconds != nil {
			d := time.Duration(*p.IntervalSeconds) * time.Second
			interval = &d
		}
		err := s.ctx.Task().Retry(p.Message, interval)
		s.outcome = err
		return nil, err

	case CommandDownloadResource:
		var p struct {
			Path string `json:"path"`
		}
		if err := json.Unmarshal(req.Payload, &p); err != nil {
			return nil, err
		}
		rc, err := s.resource.Download(p.Path)
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, err
		}
		return data, nil

	case CommandUploadResource:
		var p struct {
			Path string `json:"path"`
			Data []byte `json:"data"`
		}
		if err := json.Unmarshal(req.Payload, &p); err != nil {
			return nil, err
		}
		n, err := s.resource.Upload(p.Path, bytes.NewReader(p.Data))
		return n, err

	case CommandLogMessage:
		var p struct {
			Level   string `json:"level"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(req.Payload, &p); err != nil {
			return nil, err
		}
		ev := s.ctx.Logger.Info()
		if p.Level == "error" {
			ev = s.ctx.Logger.Error()
		} else if p.Level == "warn" {
			ev = s.ctx.Logger.Warn()
		}
		ev.Msg(p.Message)
		return nil, nil

	default:
		return nil, errors.New(illegalOperationMessage)
	}
}

func (s *Server) writeOK(w http.ResponseWriter, value interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response{OK: true, Value: value})
}

func (s *Server) writeError(w http.ResponseWriter, _ string, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(response{OK: false, Error: msg})
}
