// Package push owns the single persistent push-channel connection. The
// manager is the only component allowed to open or close it; everything else
// subscribes to named events and receives frames in registration order.
package push

import (
	"context"
	"encoding/json"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/campwars/client-go/pkg/types"
)

const (
	writeTimeout     = 3 * time.Second
	handshakeTimeout = 10 * time.Second
)

// Status is emitted on every connect/disconnect transition.
type Status struct {
	Connected bool
}

// Handler receives one push frame. Handlers run on the manager loop and must
// not block.
type Handler func(msg types.PushMessage)

type mgrMsg interface{ isMgrMsg() }

type connectMsg struct{ sessionID string }

type disconnectMsg struct{}

type dialDone struct {
	gen  int
	conn *websocket.Conn
	err  error
}

type incoming struct {
	gen int
	msg types.PushMessage
}

type connLost struct {
	gen int
	err error
}

type subscribeMsg struct {
	event string
	h     Handler
	reply chan func()
}

type unsubscribeMsg struct {
	event string
	id    int
}

type statusSubMsg struct {
	fn    func(Status)
	reply chan func()
}

type statusUnsubMsg struct{ id int }

func (connectMsg) isMgrMsg()     {}
func (disconnectMsg) isMgrMsg()  {}
func (dialDone) isMgrMsg()       {}
func (incoming) isMgrMsg()       {}
func (connLost) isMgrMsg()       {}
func (subscribeMsg) isMgrMsg()   {}
func (unsubscribeMsg) isMgrMsg() {}
func (statusSubMsg) isMgrMsg()   {}
func (statusUnsubMsg) isMgrMsg() {}

type handlerEntry struct {
	id int
	h  Handler
}

type statusEntry struct {
	id int
	fn func(Status)
}

type Manager struct {
	ctx      context.Context
	cancel   context.CancelFunc
	url      string
	clientID string
	log      *zap.Logger
	inbox    chan mgrMsg

	// loop-owned state
	gen        int
	conn       *websocket.Conn
	connected  bool
	dialing    bool
	nextID     int
	subs       map[string][]handlerEntry
	statusSubs []statusEntry
}

func NewManager(parent context.Context, url string, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(parent)
	m := &Manager{
		ctx:      ctx,
		cancel:   cancel,
		url:      url,
		clientID: uuid.NewString(),
		log:      log,
		inbox:    make(chan mgrMsg, 64),
		subs:     make(map[string][]handlerEntry),
	}
	go m.loop()
	return m
}

// Connect establishes the channel for the given identity. Idempotent: a call
// while connected or dialing is a no-op. Failures surface only as a
// disconnected status event.
func (m *Manager) Connect(sessionID string) {
	m.send(connectMsg{sessionID: sessionID})
}

// Disconnect tears the channel down and fires a disconnected status event.
func (m *Manager) Disconnect() {
	m.send(disconnectMsg{})
}

// Subscribe registers a handler for a named event and returns its
// unsubscribe handle. Multiple handlers per event run in registration order.
func (m *Manager) Subscribe(event string, h Handler) func() {
	reply := make(chan func(), 1)
	m.send(subscribeMsg{event: event, h: h, reply: reply})
	select {
	case unsub := <-reply:
		return unsub
	case <-m.ctx.Done():
		return func() {}
	}
}

// OnStatus registers a connection-state listener and returns its unsubscribe
// handle.
func (m *Manager) OnStatus(fn func(Status)) func() {
	reply := make(chan func(), 1)
	m.send(statusSubMsg{fn: fn, reply: reply})
	select {
	case unsub := <-reply:
		return unsub
	case <-m.ctx.Done():
		return func() {}
	}
}

// Close shuts the manager down for good.
func (m *Manager) Close() {
	m.cancel()
}

func (m *Manager) send(msg mgrMsg) {
	select {
	case m.inbox <- msg:
	case <-m.ctx.Done():
	}
}

func (m *Manager) loop() {
	for {
		select {
		case <-m.ctx.Done():
			if m.conn != nil {
				_ = m.conn.Close(websocket.StatusNormalClosure, "bye")
			}
			return

		case raw := <-m.inbox:
			switch msg := raw.(type) {
			case connectMsg:
				if m.connected || m.dialing {
					break
				}
				m.gen++
				m.dialing = true
				go m.dial(m.gen, msg.sessionID)

			case dialDone:
				if msg.gen != m.gen {
					// superseded by a disconnect or newer connect
					if msg.conn != nil {
						_ = msg.conn.Close(websocket.StatusNormalClosure, "stale")
					}
					break
				}
				m.dialing = false
				if msg.err != nil {
					m.log.Warn("push channel connect failed", zap.Error(msg.err))
					m.emitStatus(false)
					break
				}
				m.conn = msg.conn
				m.connected = true
				m.emitStatus(true)
				go m.readLoop(msg.gen, msg.conn)

			case disconnectMsg:
				if m.conn != nil {
					_ = m.conn.Close(websocket.StatusNormalClosure, "bye")
					m.conn = nil
				}
				m.gen++
				m.dialing = false
				if m.connected {
					m.connected = false
					m.emitStatus(false)
				}

			case connLost:
				if msg.gen != m.gen {
					break
				}
				m.log.Info("push channel lost", zap.Error(msg.err))
				m.conn = nil
				m.gen++
				m.connected = false
				m.emitStatus(false)

			case incoming:
				if msg.gen != m.gen {
					break
				}
				for _, entry := range m.subs[msg.msg.Event] {
					entry.h(msg.msg)
				}

			case subscribeMsg:
				m.nextID++
				id := m.nextID
				m.subs[msg.event] = append(m.subs[msg.event], handlerEntry{id: id, h: msg.h})
				event := msg.event
				msg.reply <- func() { m.send(unsubscribeMsg{event: event, id: id}) }

			case unsubscribeMsg:
				entries := m.subs[msg.event]
				for i, entry := range entries {
					if entry.id == msg.id {
						m.subs[msg.event] = append(entries[:i:i], entries[i+1:]...)
						break
					}
				}

			case statusSubMsg:
				m.nextID++
				id := m.nextID
				m.statusSubs = append(m.statusSubs, statusEntry{id: id, fn: msg.fn})
				msg.reply <- func() { m.send(statusUnsubMsg{id: id}) }

			case statusUnsubMsg:
				for i, entry := range m.statusSubs {
					if entry.id == msg.id {
						m.statusSubs = append(m.statusSubs[:i:i], m.statusSubs[i+1:]...)
						break
					}
				}
			}
		}
	}
}

func (m *Manager) dial(gen int, sessionID string) {
	dialCtx, cancelDial := context.WithTimeout(m.ctx, handshakeTimeout)
	conn, _, err := websocket.Dial(dialCtx, m.url, nil)
	cancelDial()
	if err != nil {
		m.send(dialDone{gen: gen, err: err})
		return
	}

	// announce the identity this connection belongs to
	join := types.JoinMessage{Event: types.EventJoin, UserID: sessionID, ClientID: m.clientID}
	payload, _ := json.Marshal(join)
	writeCtx, cancel := context.WithTimeout(m.ctx, writeTimeout)
	err = conn.Write(writeCtx, websocket.MessageText, payload)
	cancel()
	if err != nil {
		_ = conn.Close(websocket.StatusInternalError, "join failed")
		m.send(dialDone{gen: gen, err: err})
		return
	}

	m.send(dialDone{gen: gen, conn: conn})
}

// readLoop pumps frames into the manager loop. Liveness is inferred solely
// from status events; there is no application-level read timeout.
func (m *Manager) readLoop(gen int, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(m.ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				err = nil
			}
			m.send(connLost{gen: gen, err: err})
			return
		}

		var pm types.PushMessage
		if err := json.Unmarshal(data, &pm); err != nil {
			m.log.Warn("dropping undecodable push frame", zap.Error(err))
			continue
		}
		if err := pm.Validate(); err != nil {
			m.log.Warn("dropping invalid push frame", zap.Error(err))
			continue
		}
		m.send(incoming{gen: gen, msg: pm})
	}
}

func (m *Manager) emitStatus(connected bool) {
	for _, entry := range m.statusSubs {
		entry.fn(Status{Connected: connected})
	}
}
