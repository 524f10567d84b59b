// Package auth issues and verifies the bearer tokens build agents use
// to call the sync endpoint.
package auth

import (
	"fmt"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

const tokenIssuer = "hgcache"

// Claims are the claims carried by an agent token.
type Claims struct {
	// Node is the cluster node the token was issued for
	Node string `json:"node"`

	jwt.Claims
}

// NewToken returns a signed token which authorises sync requests on
// behalf of given node for the ttl duration.
func NewToken(secret []byte, node string, ttl time.Duration) (string, error) {
	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.HS256, Key: secret},
		(&jose.SignerOptions{}).WithType("JWT"))
	if err != nil {
		return "", fmt.Errorf("unable to create token signer err:%w", err)
	}

	now := time.Now()
	cl := Claims{
		Node: node,
		Claims: jwt.Claims{
			Issuer:   tokenIssuer,
			IssuedAt: jwt.NewNumericDate(now),
			Expiry:   jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token, err := jwt.Signed(signer).Claims(cl).Serialize()
	if err != nil {
		return "", fmt.Errorf("unable to sign token err:%w", err)
	}
	return token, nil
}

// VerifyToken checks signature and expiry of given raw token and
// returns the name of the node it was issued for.
func VerifyToken(secret []byte, rawToken string) (string, error) {
	token, err := jwt.ParseSigned(rawToken, []jose.SignatureAlgorithm{jose.HS256})
	if err != nil {
		return "", fmt.Errorf("unable to parse token err:%w", err)
	}

	cl := Claims{}
	if err := token.Claims(secret, &cl); err != nil {
		return "", fmt.Errorf("invalid token signature err:%w", err)
	}

	if err := cl.Validate(jwt.Expected{Issuer: tokenIssuer, Time: time.Now()}); err != nil {
		return "", fmt.Errorf("token validation failed err:%w", err)
	}

	if cl.Node == "" {
		return "", fmt.Errorf("token carries no node name")
	}

	return cl.Node, nil
}
