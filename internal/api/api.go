// Package api holds typed wrappers for every REST endpoint the client
// consumes. Transport policy (timeouts, retry, credentials, classification)
// lives in the fetch client; this layer only shapes requests and responses.
package api

import (
	"context"
	"fmt"

	"github.com/campwars/client-go/internal/fetch"
	"github.com/campwars/client-go/pkg/types"
)

const (
	pathSession       = "/api/session"
	pathLogin         = "/api/auth/login"
	pathLogout        = "/api/auth/logout"
	pathScoreboard    = "/api/scoreboard"
	pathCountries     = "/api/countries"
	pathInventory     = "/api/inventory"
	pathNotifications = "/api/notifications"
	pathReadAll       = "/api/notifications/read-all"
	pathSpin          = "/api/spin"
	pathPromoValidate = "/api/promo/validate"
)

type Client struct {
	f *fetch.Client
}

func New(f *fetch.Client) *Client {
	return &Client{f: f}
}

type LoginArgs struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// SessionCheck verifies the current session with the backend and returns
// the identity it is bound to.
func (c *Client) SessionCheck(ctx context.Context) (*types.Session, error) {
	var s types.Session
	if err := c.f.Do(ctx, "GET", pathSession, nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) Login(ctx context.Context, username, password string) (*types.Session, error) {
	var s types.Session
	args := &LoginArgs{Username: username, Password: password}
	if err := c.f.Do(ctx, "POST", pathLogin, args, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) Logout(ctx context.Context) error {
	return c.f.Do(ctx, "POST", pathLogout, nil, nil)
}

func (c *Client) Scoreboard(ctx context.Context) ([]types.TeamScore, error) {
	var list types.TeamScoreList
	if err := c.f.Do(ctx, "GET", pathScoreboard, nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (c *Client) Countries(ctx context.Context) ([]types.Country, error) {
	var list types.CountryList
	if err := c.f.Do(ctx, "GET", pathCountries, nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// BuyCountry purchases a country for the session's identity and returns the
// updated country record.
func (c *Client) BuyCountry(ctx context.Context, countryID string) (*types.Country, error) {
	var country types.Country
	path := fmt.Sprintf("%s/%s/buy", pathCountries, countryID)
	if err := c.f.Do(ctx, "POST", path, nil, &country); err != nil {
		return nil, err
	}
	return &country, nil
}

func (c *Client) Inventory(ctx context.Context) ([]types.Card, error) {
	var list types.CardList
	if err := c.f.Do(ctx, "GET", pathInventory, nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (c *Client) UseCard(ctx context.Context, cardID string) error {
	path := fmt.Sprintf("/api/cards/%s/use", cardID)
	return c.f.Do(ctx, "POST", path, nil, nil)
}

func (c *Client) Notifications(ctx context.Context) ([]types.Notification, error) {
	var list types.NotificationList
	if err := c.f.Do(ctx, "GET", pathNotifications, nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (c *Client) MarkAllRead(ctx context.Context) error {
	return c.f.Do(ctx, "POST", pathReadAll, nil, nil)
}

func (c *Client) Spin(ctx context.Context) (*types.SpinResult, error) {
	var res types.SpinResult
	if err := c.f.Do(ctx, "POST", pathSpin, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

type PromoArgs struct {
	Code string `json:"code"`
}

func (c *Client) ValidatePromo(ctx context.Context, code string) (*types.PromoResult, error) {
	var res types.PromoResult
	if err := c.f.Do(ctx, "POST", pathPromoValidate, &PromoArgs{Code: code}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}
