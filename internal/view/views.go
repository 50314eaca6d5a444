package view

import (
	"context"
	"encoding/json"
	"sort"

	"go.uber.org/zap"

	"github.com/campwars/client-go/internal/api"
	"github.com/campwars/client-go/internal/push"
	"github.com/campwars/client-go/pkg/types"
)

// Scope supplies the active session id for identity-scoped views. Deltas
// targeting anyone else are discarded.
type Scope func() string

// ScoreboardModel reconciles the team scoreboard.
type ScoreboardModel struct {
	*Model[types.TeamScore]
}

func NewScoreboard(ctx context.Context, apiClient *api.Client, log *zap.Logger) *ScoreboardModel {
	m := NewModel(ctx, "scoreboard", func(ctx context.Context) ([]types.TeamScore, error) {
		return apiClient.Scoreboard(ctx)
	}, log)
	return &ScoreboardModel{Model: m}
}

// Standings returns teams sorted by score descending, ties kept in the
// order the server last sent them.
func (s *ScoreboardModel) Standings() []types.TeamScore {
	entities, order := s.Snapshot()
	out := make([]types.TeamScore, 0, len(order))
	for _, id := range order {
		if t, ok := entities[id]; ok {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// Bind wires the model to the push channel and returns an unbind handle.
func (s *ScoreboardModel) Bind(mgr *push.Manager) func() {
	apply := func(msg types.PushMessage) {
		var list types.TeamScoreList
		if !decodeDelta(s.log, msg.Data, &list) {
			return
		}
		s.ApplyDelta(list)
	}
	unsub1 := mgr.Subscribe(types.EventScoreboardUpdate, apply)
	unsub2 := mgr.Subscribe(types.EventUserTeamSettingsUpdated, apply)
	return func() {
		unsub1()
		unsub2()
	}
}

// CountriesModel reconciles the purchasable map.
type CountriesModel struct {
	*Model[types.Country]
}

func NewCountries(ctx context.Context, apiClient *api.Client, log *zap.Logger) *CountriesModel {
	m := NewModel(ctx, "countries", func(ctx context.Context) ([]types.Country, error) {
		return apiClient.Countries(ctx)
	}, log)
	return &CountriesModel{Model: m}
}

func (c *CountriesModel) Bind(mgr *push.Manager) func() {
	return mgr.Subscribe(types.EventCountriesUpdate, func(msg types.PushMessage) {
		var list types.CountryList
		if !decodeDelta(c.log, msg.Data, &list) {
			return
		}
		c.ApplyDelta(list)
	})
}

// MiningRate is the identity's passive income: the summed hourly yield of
// every country it owns, as of the latest reconciled snapshot.
func (c *CountriesModel) MiningRate(ownerID string) int64 {
	if ownerID == "" {
		return 0
	}
	entities, _ := c.Snapshot()
	var rate int64
	for _, country := range entities {
		if country.OwnerID == ownerID {
			rate += country.YieldPerHour
		}
	}
	return rate
}

// InventoryModel reconciles the session's effect cards.
type InventoryModel struct {
	*Model[types.Card]
	scope Scope
}

func NewInventory(ctx context.Context, apiClient *api.Client, scope Scope, log *zap.Logger) *InventoryModel {
	m := NewModel(ctx, "inventory", func(ctx context.Context) ([]types.Card, error) {
		return apiClient.Inventory(ctx)
	}, log)
	return &InventoryModel{Model: m, scope: scope}
}

func (i *InventoryModel) Bind(mgr *push.Manager) func() {
	return mgr.Subscribe(types.EventInventoryUpdate, func(msg types.PushMessage) {
		if !inScope(i.log, msg, i.scope) {
			return
		}
		var list types.CardList
		if !decodeDelta(i.log, msg.Data, &list) {
			return
		}
		i.ApplyDelta(list)
	})
}

// Cards returns the inventory in server order.
func (i *InventoryModel) Cards() []types.Card {
	entities, order := i.Snapshot()
	out := make([]types.Card, 0, len(order))
	for _, id := range order {
		if c, ok := entities[id]; ok {
			out = append(out, c)
		}
	}
	return out
}

// NotificationsModel reconciles the identity's notification feed.
type NotificationsModel struct {
	*Model[types.Notification]
	scope Scope
}

func NewNotifications(ctx context.Context, apiClient *api.Client, scope Scope, log *zap.Logger) *NotificationsModel {
	m := NewModel(ctx, "notifications", func(ctx context.Context) ([]types.Notification, error) {
		return apiClient.Notifications(ctx)
	}, log)
	return &NotificationsModel{Model: m, scope: scope}
}

func (n *NotificationsModel) Bind(mgr *push.Manager) func() {
	// notification events carry a single appended item, not a collection
	upsertOne := func(msg types.PushMessage) {
		if !inScope(n.log, msg, n.scope) {
			return
		}
		var notif types.Notification
		if err := json.Unmarshal(msg.Data, &notif); err != nil {
			n.log.Warn("dropping malformed notification delta", zap.Error(err))
			return
		}
		if err := notif.Validate(); err != nil {
			n.log.Warn("dropping invalid notification delta", zap.Error(err))
			return
		}
		n.ApplyUpsert([]types.Notification{notif})
	}
	unsub1 := mgr.Subscribe(types.EventNotification, upsertOne)
	unsub2 := mgr.Subscribe(types.EventAdminNotification, upsertOne)
	return func() {
		unsub1()
		unsub2()
	}
}

// Feed returns notifications newest first.
func (n *NotificationsModel) Feed() []types.Notification {
	entities, _ := n.Snapshot()
	out := make([]types.Notification, 0, len(entities))
	for _, notif := range entities {
		out = append(out, notif)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out
}

func (n *NotificationsModel) Unread() int {
	entities, _ := n.Snapshot()
	count := 0
	for _, notif := range entities {
		if !notif.Read {
			count++
		}
	}
	return count
}

func inScope(log *zap.Logger, msg types.PushMessage, scope Scope) bool {
	if msg.TargetID == "" {
		return true
	}
	if scope == nil || msg.TargetID != scope() {
		log.Debug("dropping delta for another identity",
			zap.String("event", msg.Event),
			zap.String("target", msg.TargetID))
		return false
	}
	return true
}

func decodeDelta(log *zap.Logger, data json.RawMessage, out fetchValidator) bool {
	if err := json.Unmarshal(data, out); err != nil {
		log.Warn("dropping malformed delta payload", zap.Error(err))
		return false
	}
	if err := out.Validate(); err != nil {
		log.Warn("dropping invalid delta payload", zap.Error(err))
		return false
	}
	return true
}

type fetchValidator interface {
	Validate() error
}
