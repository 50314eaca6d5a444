package api

import (
	"context"

	"github.com/campwars/client-go/pkg/types"
)

const (
	pathAdminPromo     = "/api/admin/promo"
	pathAdminGrantCard = "/api/admin/cards/grant"
	pathAdminScore     = "/api/admin/score"
	pathAdminCoins     = "/api/admin/coins"
)

// Admin mutations. The backend enforces the role; a member calling these
// gets a permission-classified error back.

type CreatePromoArgs struct {
	Code   string `json:"code"`
	Reward int64  `json:"reward"`
}

func (c *Client) AdminCreatePromo(ctx context.Context, code string, reward int64) error {
	return c.f.Do(ctx, "POST", pathAdminPromo, &CreatePromoArgs{Code: code, Reward: reward}, nil)
}

type GrantCardArgs struct {
	UserID   string         `json:"user_id"`
	CardName string         `json:"card_name"`
	CardType types.CardType `json:"card_type"`
}

func (c *Client) AdminGrantCard(ctx context.Context, userID, cardName string, cardType types.CardType) error {
	args := &GrantCardArgs{UserID: userID, CardName: cardName, CardType: cardType}
	return c.f.Do(ctx, "POST", pathAdminGrantCard, args, nil)
}

type AdjustArgs struct {
	TeamID string `json:"team_id"`
	Delta  int64  `json:"delta"`
}

func (c *Client) AdminAdjustScore(ctx context.Context, teamID string, delta int64) error {
	return c.f.Do(ctx, "POST", pathAdminScore, &AdjustArgs{TeamID: teamID, Delta: delta}, nil)
}

func (c *Client) AdminAdjustCoins(ctx context.Context, teamID string, delta int64) error {
	return c.f.Do(ctx, "POST", pathAdminCoins, &AdjustArgs{TeamID: teamID, Delta: delta}, nil)
}
