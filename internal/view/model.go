package view

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// ErrStaleLoad is returned from Load when its response arrived after a newer
// load had already been applied and was therefore discarded.
var ErrStaleLoad = errors.New("stale load discarded")

// FetchFunc produces the full current collection for one view.
type FetchFunc[E Entity] func(ctx context.Context) ([]E, error)

type modelMsg interface{ isModelMsg() }

type startLoad struct {
	ctx   context.Context
	reply chan error
}

type loadResult[E Entity] struct {
	seq   uint64
	items []E
	err   error
	reply chan error
}

type deltaMsg[E Entity] struct {
	items   []E
	partial bool
}

type batchSubMsg struct {
	fn    func(Batch)
	reply chan func()
}

type batchUnsubMsg struct{ id int }

type errSubMsg struct {
	fn    func(error)
	reply chan func()
}

type errUnsubMsg struct{ id int }

type stateReq[E Entity] struct {
	reply chan modelState[E]
}

func (startLoad) isModelMsg()     {}
func (loadResult[E]) isModelMsg() {}
func (deltaMsg[E]) isModelMsg()   {}
func (batchSubMsg) isModelMsg()   {}
func (batchUnsubMsg) isModelMsg() {}
func (errSubMsg) isModelMsg()     {}
func (errUnsubMsg) isModelMsg()   {}
func (stateReq[E]) isModelMsg()   {}

type modelState[E Entity] struct {
	entities map[string]E
	order    []string
}

type batchSub struct {
	id int
	fn func(Batch)
}

type errSub struct {
	id int
	fn func(error)
}

// Model reconciles one view's REST snapshots and push deltas into a single
// consistent collection, emitting one batch of computed changes per merge.
// It runs as an inbox loop, so merges are atomic and batches are strictly
// ordered by merge completion.
type Model[E Entity] struct {
	name   string
	ctx    context.Context
	cancel context.CancelFunc
	inbox  chan modelMsg
	fetch  FetchFunc[E]
	log    *zap.Logger

	// loop-owned state
	snapshot map[string]E
	order    []string
	hash     uint64
	seq      uint64 // issued load sequence
	applied  uint64 // highest load sequence merged
	nextID   int
	subs     []batchSub
	errSubs  []errSub
}

func NewModel[E Entity](parent context.Context, name string, fetch FetchFunc[E], log *zap.Logger) *Model[E] {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(parent)
	m := &Model[E]{
		name:     name,
		ctx:      ctx,
		cancel:   cancel,
		inbox:    make(chan modelMsg, 64),
		fetch:    fetch,
		log:      log.With(zap.String("view", name)),
		snapshot: make(map[string]E),
	}
	go m.loop()
	return m
}

// Load fetches the collection and merges it. If a newer Load was applied
// before this one resolved, the result is discarded and ErrStaleLoad is
// returned. A failed load leaves the previous snapshot untouched.
func (m *Model[E]) Load(ctx context.Context) error {
	reply := make(chan error, 1)
	m.send(startLoad{ctx: ctx, reply: reply})
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-m.ctx.Done():
		return m.ctx.Err()
	}
}

// Poll re-fetches the collection on a fixed interval until ctx is done, so
// the snapshot converges even when the push channel drops frames. Merges are
// idempotent and stale responses are discarded, so polling runs safely
// alongside push deltas. Failures go to the error subscribers like any other
// load.
func (m *Model[E]) Poll(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			if err := m.Load(ctx); err != nil {
				m.log.Debug("periodic re-fetch failed", zap.Error(err))
			}
		}
	}
}

// ApplyDelta merges a full-collection push payload.
func (m *Model[E]) ApplyDelta(items []E) {
	m.send(deltaMsg[E]{items: items})
}

// ApplyUpsert overlays a partial payload (e.g. a single appended
// notification) onto the current snapshot before diffing.
func (m *Model[E]) ApplyUpsert(items []E) {
	m.send(deltaMsg[E]{items: items, partial: true})
}

// Subscribe registers a change-batch listener and returns its unsubscribe
// handle. Callbacks run on the model loop and must not block.
func (m *Model[E]) Subscribe(fn func(Batch)) func() {
	reply := make(chan func(), 1)
	m.send(batchSubMsg{fn: fn, reply: reply})
	select {
	case unsub := <-reply:
		return unsub
	case <-m.ctx.Done():
		return func() {}
	}
}

// SubscribeErrors registers a listener for load failures, reported
// separately from change batches.
func (m *Model[E]) SubscribeErrors(fn func(error)) func() {
	reply := make(chan func(), 1)
	m.send(errSubMsg{fn: fn, reply: reply})
	select {
	case unsub := <-reply:
		return unsub
	case <-m.ctx.Done():
		return func() {}
	}
}

// Snapshot returns a copy of the reconciled collection and its display
// order.
func (m *Model[E]) Snapshot() (map[string]E, []string) {
	reply := make(chan modelState[E], 1)
	m.send(stateReq[E]{reply: reply})
	select {
	case st := <-reply:
		return st.entities, st.order
	case <-m.ctx.Done():
		return map[string]E{}, nil
	}
}

func (m *Model[E]) Close() {
	m.cancel()
}

func (m *Model[E]) send(msg modelMsg) {
	select {
	case m.inbox <- msg:
	case <-m.ctx.Done():
	}
}

func (m *Model[E]) loop() {
	for {
		select {
		case <-m.ctx.Done():
			return

		case raw := <-m.inbox:
			switch msg := raw.(type) {
			case startLoad:
				m.seq++
				seq := m.seq
				go func(ctx context.Context, reply chan error) {
					items, err := m.fetch(ctx)
					m.send(loadResult[E]{seq: seq, items: items, err: err, reply: reply})
				}(msg.ctx, msg.reply)

			case loadResult[E]:
				if msg.seq <= m.applied {
					// a newer load already won; drop this response
					m.log.Debug("discarding stale load response")
					msg.reply <- ErrStaleLoad
					break
				}
				if msg.err != nil {
					for _, sub := range m.errSubs {
						sub.fn(msg.err)
					}
					msg.reply <- msg.err
					break
				}
				m.applied = msg.seq
				m.merge(msg.items, false)
				msg.reply <- nil

			case deltaMsg[E]:
				m.merge(msg.items, msg.partial)

			case batchSubMsg:
				m.nextID++
				id := m.nextID
				m.subs = append(m.subs, batchSub{id: id, fn: msg.fn})
				msg.reply <- func() { m.send(batchUnsubMsg{id: id}) }

			case batchUnsubMsg:
				for i, sub := range m.subs {
					if sub.id == msg.id {
						m.subs = append(m.subs[:i:i], m.subs[i+1:]...)
						break
					}
				}

			case errSubMsg:
				m.nextID++
				id := m.nextID
				m.errSubs = append(m.errSubs, errSub{id: id, fn: msg.fn})
				msg.reply <- func() { m.send(errUnsubMsg{id: id}) }

			case errUnsubMsg:
				for i, sub := range m.errSubs {
					if sub.id == msg.id {
						m.errSubs = append(m.errSubs[:i:i], m.errSubs[i+1:]...)
						break
					}
				}

			case stateReq[E]:
				entities := make(map[string]E, len(m.snapshot))
				for id, e := range m.snapshot {
					entities[id] = e
				}
				msg.reply <- modelState[E]{
					entities: entities,
					order:    append([]string(nil), m.order...),
				}
			}
		}
	}
}

// merge reconciles incoming entities with the snapshot and emits exactly one
// batch. The stored snapshot is replaced only after change computation
// completes; the incoming collection wins wholesale (last write wins).
func (m *Model[E]) merge(items []E, partial bool) {
	next := make(map[string]E, len(items))
	var order []string

	if partial {
		order = make([]string, 0, len(m.order)+len(items))
		for _, id := range m.order {
			next[id] = m.snapshot[id]
			order = append(order, id)
		}
		for _, e := range items {
			if _, ok := next[e.Key()]; !ok {
				order = append(order, e.Key())
			}
			next[e.Key()] = e
		}
	} else {
		order = make([]string, 0, len(items))
		for _, e := range items {
			if _, ok := next[e.Key()]; !ok {
				order = append(order, e.Key())
			}
			next[e.Key()] = e
		}
	}

	var changes []Change
	fp := fingerprint(next)
	if fp != m.hash {
		changes = diffCollections(m.snapshot, next)
	}
	m.snapshot = next
	m.order = order
	m.hash = fp

	batch := Batch{View: m.name, Changes: changes}
	for _, sub := range m.subs {
		sub.fn(batch)
	}
}
