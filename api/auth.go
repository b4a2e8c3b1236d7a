package api

import (
	"errors"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"
)

const defaultJWKSCacheTTL = 15 * time.Minute

// Auth validates incoming JWT tokens, either Auth0 RS256 tokens checked
// against a JWKS or HS256 tokens signed with a shared local secret.
type Auth struct {
	JWKS        *keyfunc.JWKS
	Audience    string
	Issuer      string
	LocalSecret []byte

	parser      *jwt.Parser
	keyCache    sync.Map
	keyCacheTTL time.Duration
}

type cachedKey struct {
	key       any
	expiresAt time.Time
}

// NewAuth creates an Auth for Auth0 issued tokens.
func NewAuth(jwks *keyfunc.JWKS, audience, issuer string, keyCacheTTL time.Duration) *Auth {
	if keyCacheTTL < 0 {
		keyCacheTTL = defaultJWKSCacheTTL
	}
	return &Auth{
		JWKS:        jwks,
		Audience:    audience,
		Issuer:      issuer,
		parser:      jwt.NewParser(jwt.WithValidMethods([]string{"RS256"})),
		keyCacheTTL: keyCacheTTL,
	}
}

// NewLocalAuth creates an Auth accepting HS256 tokens signed with secret.
func NewLocalAuth(secret []byte, audience, issuer string) *Auth {
	return &Auth{
		Audience:    audience,
		Issuer:      issuer,
		LocalSecret: secret,
		parser:      jwt.NewParser(jwt.WithValidMethods([]string{"HS256"})),
	}
}

// UserIDFromAuthHeader extracts the user identifier from the Authorization header.
func (a *Auth) UserIDFromAuthHeader(h string) (string, error) {
	token, err := bearerTokenFromString(h)
	if err != nil {
		return "", err
	}
	return a.UserIDFromBearer(token)
}

// UserIDFromBearer validates a compact token and returns its subject.
func (a *Auth) UserIDFromBearer(token string) (string, error) {
	if token == "" {
		return "", errBadAuthorization
	}
	parsed, err := a.parser.Parse(token, a.keyFor)
	if err != nil {
		return "", err
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("invalid claims")
	}

	// one minute of leeway for clock skew
	now := time.Now()
	if !claims.VerifyExpiresAt(now.Add(-time.Minute).Unix(), true) {
		return "", errors.New("token expired")
	}
	if !claims.VerifyNotBefore(now.Add(time.Minute).Unix(), false) {
		return "", errors.New("token not valid yet")
	}
	if a.Audience != "" && !claims.VerifyAudience(a.Audience, false) {
		return "", errors.New("invalid audience")
	}
	if a.Issuer != "" && !claims.VerifyIssuer(a.Issuer, false) {
		return "", errors.New("invalid issuer")
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", errors.New("missing sub")
	}
	return sub, nil
}

func (a *Auth) keyFor(token *jwt.Token) (any, error) {
	if a.LocalSecret != nil {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return a.LocalSecret, nil
	}
	if a.JWKS == nil {
		return nil, errors.New("jwks not configured")
	}

	kid, _ := token.Header["kid"].(string)
	if kid != "" && a.keyCacheTTL > 0 {
		if cached, ok := a.keyCache.Load(kid); ok {
			entry := cached.(cachedKey)
			if time.Now().Before(entry.expiresAt) {
				return entry.key, nil
			}
			a.keyCache.Delete(kid)
		}
	}

	key, err := a.JWKS.Keyfunc(token)
	if err != nil {
		return nil, err
	}
	if kid != "" && a.keyCacheTTL > 0 {
		a.keyCache.Store(kid, cachedKey{key: key, expiresAt: time.Now().Add(a.keyCacheTTL)})
	}
	return key, nil
}
