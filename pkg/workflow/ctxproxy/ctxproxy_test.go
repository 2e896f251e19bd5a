package ctxproxy

import (
	"bytes"
	"encoding/json"
	"net/http"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/aria/pkg/log"
	"github.com/cuemby/aria/pkg/storage"
	"github.com/cuemby/aria/pkg/types"
	"github.com/cuemby/aria/pkg/workflow/wfcontext"
)

func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	dir, err := os.MkdirTemp("", "aria-ctxproxy-test")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	store, err := storage.NewBoltStore(dir)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func post(t *testing.T, addr string, cmd string, payload interface{}) response {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	reqBody, err := json.Marshal(request{Command: cmd, Payload: body})
	require.NoError(t, err)

	resp, err := http.Post("http://"+addr+"/", "application/json", bytes.NewReader(reqBody))
	require.NoError(t, err)
	defer resp.Body.Close()

	var out response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestSetThenGetNodeAttribute(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.CreateNode(&types.Node{ID: "n1", ServiceID: "s1", Name: "web"}))

	task := &types.Task{ID: "t1", ActorType: "node", ActorID: "n1"}
	node, err := store.GetNode("n1")
	require.NoError(t, err)
	ctx := wfcontext.New(&wfcontext.DirectCommitter{Store: store}, task, node, nil, nil, log.WithComponent("test"))

	srv, err := New(ctx, store, nil)
	require.NoError(t, err)
	defer srv.Close()

	setResp := post(t, srv.Addr(), CommandSetNodeAttribute, map[string]interface{}{
		"node_id": "n1", "key": "state", "value": "configured",
	})
	require.True(t, setResp.OK)

	getResp := post(t, srv.Addr(), CommandGetNodeAttribute, map[string]interface{}{
		"node_id": "n1", "key": "state",
	})
	require.True(t, getResp.OK)
	require.Equal(t, "configured", getResp.Value)
}

func TestUnknownCommandRejected(t *testing.T) {
	store := newTestStore(t)
	task := &types.Task{ID: "t1"}
	ctx := wfcontext.New(&wfcontext.DirectCommitter{Store: store}, task, nil, nil, nil, log.WithComponent("test"))

	srv, err := New(ctx, store, nil)
	require.NoError(t, err)
	defer srv.Close()

	resp := post(t, srv.Addr(), "DeleteEverything", map[string]interface{}{})
	require.False(t, resp.OK)
}

func TestAbortThenRetryIsRejected(t *testing.T) {
	store := newTestStore(t)
	task := &types.Task{ID: "t1"}
	ctx := wfcontext.New(&wfcontext.DirectCommitter{Store: store}, task, nil, nil, nil, log.WithComponent("test"))

	srv, err := New(ctx, store, nil)
	require.NoError(t, err)
	defer srv.Close()

	abortResp := post(t, srv.Addr(), CommandTaskAbort, map[string]interface{}{"message": "boom"})
	require.False(t, abortResp.OK) // Abort itself returns an error value by design

	retryResp := post(t, srv.Addr(), CommandTaskRetry, map[string]interface{}{"message": "again"})
	require.False(t, retryResp.OK)
	require.Equal(t, illegalOperationMessage, retryResp.Error)
}

func TestOutcomeRecordsAbort(t *testing.T) {
	store := newTestStore(t)
	task := &types.Task{ID: "t1"}
	ctx := wfcontext.New(&wfcontext.DirectCommitter{Store: store}, task, nil, nil, nil, log.WithComponent("test"))

	srv, err := New(ctx, store, nil)
	require.NoError(t, err)
	defer srv.Close()

	require.Nil(t, srv.Outcome())

	abortResp := post(t, srv.Addr(), CommandTaskAbort, map[string]interface{}{"message": "boom"})
	require.False(t, abortResp.OK)

	require.Error(t, srv.Outcome())
	require.Contains(t, srv.Outcome().Error(), "boom")
}
