package types

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidPayload marks backend payloads that fail boundary validation.
// Malformed payloads are rejected before they reach a view model.
var ErrInvalidPayload = errors.New("invalid payload")

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// Session is the authenticated identity context for the current client
// process. Token is the optional bearer fallback for clients that cannot
// rely on cookie sessions; it is advisory, never the authoritative source.
type Session struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	Role   Role   `json:"role"`
	Token  string `json:"token,omitempty"`
}

func (s *Session) Validate() error {
	if s.UserID == "" {
		return fmt.Errorf("%w: session missing user_id", ErrInvalidPayload)
	}
	if s.Role != RoleAdmin && s.Role != RoleMember {
		return fmt.Errorf("%w: session has unknown role %q", ErrInvalidPayload, s.Role)
	}
	return nil
}

// TeamScore is one scoreboard row. Display order is score descending,
// ties broken by the order the server sent.
type TeamScore struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Score    int64  `json:"score"`
	Currency int64  `json:"currency"`
}

func (t TeamScore) Key() string { return t.ID }

func (t TeamScore) Numerics() map[string]int64 {
	return map[string]int64{"score": t.Score, "currency": t.Currency}
}

func (t TeamScore) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("%w: team score missing id", ErrInvalidPayload)
	}
	if t.Name == "" {
		return fmt.Errorf("%w: team %s missing name", ErrInvalidPayload, t.ID)
	}
	return nil
}

// Country is a purchasable map tile. OwnerID is a back-reference to the
// owning identity, empty while unowned.
type Country struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Cost         int64  `json:"cost"`
	YieldPerHour int64  `json:"yield_per_hour"`
	OwnerID      string `json:"owner_id,omitempty"`
}

func (c Country) Key() string { return c.ID }

func (c Country) Numerics() map[string]int64 {
	return map[string]int64{"cost": c.Cost, "yield_per_hour": c.YieldPerHour}
}

func (c Country) Owner() string { return c.OwnerID }

func (c Country) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("%w: country missing id", ErrInvalidPayload)
	}
	if c.Name == "" {
		return fmt.Errorf("%w: country %s missing name", ErrInvalidPayload, c.ID)
	}
	return nil
}

type CardType string

const (
	CardLuck     CardType = "luck"
	CardAttack   CardType = "attack"
	CardAlliance CardType = "alliance"
	CardOther    CardType = "other"
)

// Card is one inventory effect card. Cards exist only for the session's
// identity: granted server-side, removed on use.
type Card struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Type   CardType `json:"type"`
	Effect string   `json:"effect"`
}

func (c Card) Key() string { return c.ID }

func (c Card) Numerics() map[string]int64 { return nil }

// Kind folds unknown server card types into CardOther.
func (c Card) Kind() CardType {
	switch c.Type {
	case CardLuck, CardAttack, CardAlliance:
		return c.Type
	default:
		return CardOther
	}
}

func (c Card) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("%w: card missing id", ErrInvalidPayload)
	}
	if c.Name == "" {
		return fmt.Errorf("%w: card %s missing name", ErrInvalidPayload, c.ID)
	}
	return nil
}

// Notification is append-only per identity until acknowledged.
type Notification struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Read      bool      `json:"read"`
}

func (n Notification) Key() string { return n.ID }

func (n Notification) Numerics() map[string]int64 {
	read := int64(0)
	if n.Read {
		read = 1
	}
	return map[string]int64{"read": read}
}

func (n Notification) Validate() error {
	if n.ID == "" {
		return fmt.Errorf("%w: notification missing id", ErrInvalidPayload)
	}
	if n.Message == "" {
		return fmt.Errorf("%w: notification %s missing message", ErrInvalidPayload, n.ID)
	}
	return nil
}

type TeamScoreList []TeamScore

func (l TeamScoreList) Validate() error {
	for _, t := range l {
		if err := t.Validate(); err != nil {
			return err
		}
	}
	return nil
}

type CountryList []Country

func (l CountryList) Validate() error {
	for _, c := range l {
		if err := c.Validate(); err != nil {
			return err
		}
	}
	return nil
}

type CardList []Card

func (l CardList) Validate() error {
	for _, c := range l {
		if err := c.Validate(); err != nil {
			return err
		}
	}
	return nil
}

type NotificationList []Notification

func (l NotificationList) Validate() error {
	for _, n := range l {
		if err := n.Validate(); err != nil {
			return err
		}
	}
	return nil
}
