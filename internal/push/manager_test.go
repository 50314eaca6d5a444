package push

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campwars/client-go/pkg/types"
)

// pushServer accepts one websocket client at a time, records the join
// message, and lets tests write raw frames to the client.
type pushServer struct {
	ts      *httptest.Server
	accepts int32
	joins   chan types.JoinMessage
	conns   chan *websocket.Conn
}

func newPushServer(t *testing.T) *pushServer {
	t.Helper()
	ps := &pushServer{
		joins: make(chan types.JoinMessage, 4),
		conns: make(chan *websocket.Conn, 4),
	}
	ps.ts = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		atomic.AddInt32(&ps.accepts, 1)

		_, data, err := conn.Read(r.Context())
		if err != nil {
			return
		}
		var join types.JoinMessage
		if err := json.Unmarshal(data, &join); err == nil {
			ps.joins <- join
		}
		ps.conns <- conn
		// keep the connection open until the client goes away
		for {
			if _, _, err := conn.Read(r.Context()); err != nil {
				return
			}
		}
	}))
	t.Cleanup(ps.ts.Close)
	return ps
}

func (ps *pushServer) url() string {
	return "ws" + strings.TrimPrefix(ps.ts.URL, "http")
}

func (ps *pushServer) sendRaw(t *testing.T, conn *websocket.Conn, frame string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(frame)))
}

func recvStatus(t *testing.T, ch <-chan Status, within time.Duration) Status {
	t.Helper()
	select {
	case st := <-ch:
		return st
	case <-time.After(within):
		t.Fatalf("timed out waiting for status event")
		return Status{} // unreachable
	}
}

func newTestManager(t *testing.T, url string) *Manager {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	m := NewManager(ctx, url, nil)
	t.Cleanup(m.Close)
	return m
}

func TestConnect_SendsJoinAndEmitsStatus(t *testing.T) {
	ps := newPushServer(t)
	m := newTestManager(t, ps.url())

	statuses := make(chan Status, 4)
	unsub := m.OnStatus(func(st Status) { statuses <- st })
	defer unsub()

	m.Connect("user-1")

	st := recvStatus(t, statuses, 2*time.Second)
	assert.True(t, st.Connected)

	select {
	case join := <-ps.joins:
		assert.Equal(t, types.EventJoin, join.Event)
		assert.Equal(t, "user-1", join.UserID)
		assert.NotEmpty(t, join.ClientID)
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the join message")
	}
}

func TestConnect_Idempotent(t *testing.T) {
	ps := newPushServer(t)
	m := newTestManager(t, ps.url())

	statuses := make(chan Status, 4)
	unsub := m.OnStatus(func(st Status) { statuses <- st })
	defer unsub()

	m.Connect("user-1")
	recvStatus(t, statuses, 2*time.Second)

	// a second call while connected is a no-op
	m.Connect("user-1")
	time.Sleep(100 * time.Millisecond)
	assert.EqualValues(t, 1, atomic.LoadInt32(&ps.accepts))
}

func TestDispatch_HandlersInRegistrationOrder(t *testing.T) {
	ps := newPushServer(t)
	m := newTestManager(t, ps.url())

	statuses := make(chan Status, 4)
	defer m.OnStatus(func(st Status) { statuses <- st })()

	order := make(chan string, 4)
	defer m.Subscribe(types.EventScoreboardUpdate, func(msg types.PushMessage) { order <- "first" })()
	defer m.Subscribe(types.EventScoreboardUpdate, func(msg types.PushMessage) { order <- "second" })()

	m.Connect("user-1")
	recvStatus(t, statuses, 2*time.Second)
	conn := <-ps.conns

	ps.sendRaw(t, conn, `{"event":"scoreboard-update","data":[]}`)

	for _, want := range []string{"first", "second"} {
		select {
		case got := <-order:
			require.Equal(t, want, got)
		case <-time.After(2 * time.Second):
			t.Fatalf("handler %q never ran", want)
		}
	}
}

func TestDispatch_DropsInvalidFrames(t *testing.T) {
	ps := newPushServer(t)
	m := newTestManager(t, ps.url())

	statuses := make(chan Status, 4)
	defer m.OnStatus(func(st Status) { statuses <- st })()

	got := make(chan types.PushMessage, 4)
	defer m.Subscribe(types.EventNotification, func(msg types.PushMessage) { got <- msg })()

	m.Connect("user-1")
	recvStatus(t, statuses, 2*time.Second)
	conn := <-ps.conns

	ps.sendRaw(t, conn, `{nonsense`)
	ps.sendRaw(t, conn, `{"data":{"no":"event"}}`)
	ps.sendRaw(t, conn, `{"event":"notification","target_id":"user-1","data":{"id":"n1"}}`)

	select {
	case msg := <-got:
		assert.Equal(t, types.EventNotification, msg.Event)
		assert.Equal(t, "user-1", msg.TargetID)
	case <-time.After(2 * time.Second):
		t.Fatal("valid frame was never dispatched")
	}
	select {
	case msg := <-got:
		t.Fatalf("invalid frame leaked through: %+v", msg)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDisconnect_EmitsDisconnectedStatus(t *testing.T) {
	ps := newPushServer(t)
	m := newTestManager(t, ps.url())

	statuses := make(chan Status, 4)
	defer m.OnStatus(func(st Status) { statuses <- st })()

	m.Connect("user-1")
	require.True(t, recvStatus(t, statuses, 2*time.Second).Connected)

	m.Disconnect()
	assert.False(t, recvStatus(t, statuses, 2*time.Second).Connected)

	// disconnect while already disconnected stays quiet
	m.Disconnect()
	select {
	case st := <-statuses:
		t.Fatalf("unexpected status event: %+v", st)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestServerClose_SurfacesAsDisconnected(t *testing.T) {
	ps := newPushServer(t)
	m := newTestManager(t, ps.url())

	statuses := make(chan Status, 4)
	defer m.OnStatus(func(st Status) { statuses <- st })()

	m.Connect("user-1")
	require.True(t, recvStatus(t, statuses, 2*time.Second).Connected)
	conn := <-ps.conns

	require.NoError(t, conn.Close(websocket.StatusGoingAway, "shutting down"))
	assert.False(t, recvStatus(t, statuses, 2*time.Second).Connected)
}

func TestConnectFailure_OnlyStatusNoPanic(t *testing.T) {
	// nothing listens here
	m := newTestManager(t, "ws://127.0.0.1:1")

	statuses := make(chan Status, 4)
	defer m.OnStatus(func(st Status) { statuses <- st })()

	m.Connect("user-1")
	assert.False(t, recvStatus(t, statuses, 3*time.Second).Connected)
}
