package proxy

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/cloudpaste/cloudpaste/pkg/errors"
)

// pathTokenClaims is the payload of an X-FS-Path-Token: a single-path
// unlock grant, narrower than a full principal credential and scoped to
// exactly one virtual fs path (§6 "Headers").
type pathTokenClaims struct {
	Path string `json:"path"`
	jwt.RegisteredClaims
}

// SignPathToken mints an HS256 X-FS-Path-Token unlocking fsPath until ttl
// from now.
func SignPathToken(secret, fsPath string, ttl time.Duration) (string, error) {
	claims := pathTokenClaims{
		Path: fsPath,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParsePathTokens splits an X-FS-Path-Tokens header into its comma-separated
// tokens, folding in a single X-FS-Path-Token header value if present.
func ParsePathTokens(singleHeader, listHeader string) []string {
	var tokens []string
	if singleHeader != "" {
		tokens = append(tokens, singleHeader)
	}
	for _, t := range strings.Split(listHeader, ",") {
		t = strings.TrimSpace(t)
		if t != "" {
			tokens = append(tokens, t)
		}
	}
	return tokens
}

// VerifyPathToken checks that at least one of tokens is a validly signed,
// unexpired X-FS-Path-Token unlocking exactly fsPath.
func VerifyPathToken(secret, fsPath string, tokens []string) error {
	if len(tokens) == 0 {
		return errors.Forbidden("proxy", "path token required")
	}
	keyFunc := func(t *jwt.Token) (interface{}, error) { return []byte(secret), nil }
	for _, raw := range tokens {
		var claims pathTokenClaims
		parsed, err := jwt.ParseWithClaims(raw, &claims, keyFunc, jwt.WithValidMethods([]string{"HS256"}))
		if err != nil || !parsed.Valid {
			continue
		}
		if claims.Path == fsPath {
			return nil
		}
	}
	return errors.Forbidden("proxy", "no path token unlocks this path")
}
