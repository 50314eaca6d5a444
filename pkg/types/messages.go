package types

import (
	"encoding/json"
	"fmt"
)

// Push-channel event names, as sent by the backend.
const (
	EventNotification            = "notification"
	EventScoreboardUpdate        = "scoreboard-update"
	EventUserUpdate              = "user-update"
	EventCountriesUpdate         = "countries-update"
	EventInventoryUpdate         = "inventory-update"
	EventAdminNotification       = "admin-notification"
	EventUserTeamSettingsUpdated = "user-team-settings-updated"
)

const EventJoin = "join"

// PushMessage is the envelope for every push-channel frame. TargetID is set
// on identity-scoped events (cards, notifications) and must match the active
// session id or the frame is discarded.
type PushMessage struct {
	Event    string          `json:"event"`
	TargetID string          `json:"target_id,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

func (m *PushMessage) Validate() error {
	if m.Event == "" {
		return fmt.Errorf("%w: push message missing event", ErrInvalidPayload)
	}
	return nil
}

// JoinMessage is emitted once on the push channel right after connect,
// announcing which identity this connection belongs to.
type JoinMessage struct {
	Event    string `json:"event"`
	UserID   string `json:"user_id"`
	ClientID string `json:"client_id"`
}

// SpinResult is the outcome of a spin action. Card is nil on a losing spin.
type SpinResult struct {
	Card    *Card  `json:"card,omitempty"`
	Message string `json:"message"`
}

func (r *SpinResult) Validate() error {
	if r.Card != nil {
		return r.Card.Validate()
	}
	return nil
}

// PromoResult is the outcome of validating a promo code.
type PromoResult struct {
	Valid   bool   `json:"valid"`
	Reward  int64  `json:"reward,omitempty"`
	Message string `json:"message,omitempty"`
}
