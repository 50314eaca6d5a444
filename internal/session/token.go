package session

import (
	"errors"

	gojwt "github.com/golang-jwt/jwt/v5"

	"github.com/campwars/client-go/pkg/types"
)

var ErrBadToken = errors.New("unreadable token")

// IdentityFromToken reads the display identity out of a bearer fallback
// credential without verifying the signature. Verification is the server's
// job; the client only needs the claims for display continuity.
func IdentityFromToken(token string) (*types.Session, error) {
	parser := gojwt.NewParser()
	parsed, _, err := parser.ParseUnverified(token, gojwt.MapClaims{})
	if err != nil {
		return nil, errors.Join(ErrBadToken, err)
	}
	claims, ok := parsed.Claims.(gojwt.MapClaims)
	if !ok {
		return nil, ErrBadToken
	}

	s := &types.Session{Role: types.RoleMember, Token: token}
	if v, ok := claims["user_id"].(string); ok {
		s.UserID = v
	}
	if v, ok := claims["name"].(string); ok {
		s.Name = v
	}
	if v, ok := claims["role"].(string); ok {
		s.Role = types.Role(v)
	}
	if err := s.Validate(); err != nil {
		return nil, errors.Join(ErrBadToken, err)
	}
	return s, nil
}
