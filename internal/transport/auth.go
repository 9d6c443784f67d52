package transport

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/agentic-qe/fleet/types"
)

// streamClaims is the bearer token carried by the stream fallback's
// handshake, matching the HS256 keyFunc pattern the teacher's HTTP
// middleware uses for its own bearer-auth check.
type streamClaims struct {
	jwt.RegisteredClaims
	AgentID string `json:"agent_id"`
}

// signStreamToken signs a short-lived bearer token identifying agentID,
// used to authenticate the websocket upgrade request.
func signStreamToken(secret, agentID string) (string, error) {
	claims := streamClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		AgentID: agentID,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", types.Wrap(types.ErrInternal, "sign stream token", err)
	}
	return signed, nil
}

// verifyStreamToken validates tokenStr against secret and returns the
// claimed agent ID.
func verifyStreamToken(secret, tokenStr string) (string, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &streamClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Method)
		}
		return []byte(secret), nil
	})
	if err != nil {
		return "", types.Wrap(types.ErrValidation, "invalid stream token", err)
	}
	claims, ok := parsed.Claims.(*streamClaims)
	if !ok || !parsed.Valid {
		return "", types.NewError(types.ErrValidation, "invalid stream token claims")
	}
	return claims.AgentID, nil
}
