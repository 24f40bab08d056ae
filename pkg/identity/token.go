package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/nimbusframe/nimbus/pkg/errors"
)

// Secret is a string type that redacts its value in String(), GoString(), and
// MarshalText() so a signing key never ends up in a log line or a panic
// dump by accident. The raw value is only reachable through [Secret.Value].
type Secret string

const secretRedacted = "[REDACTED]"

func (s Secret) String() string                   { return secretRedacted }
func (s Secret) GoString() string                 { return secretRedacted }
func (s Secret) Value() string                    { return string(s) }
func (s Secret) MarshalText() ([]byte, error)      { return []byte(secretRedacted), nil }

// minSigningKeyBytes is the minimum HMAC signing key length NewHMACValidator
// accepts. Shorter keys are rejected rather than silently used.
const minSigningKeyBytes = 32

// maxTokenSize bounds the accepted token string length, rejecting anything
// large enough to be a resource-exhaustion attempt before it reaches the
// JWT parser.
const maxTokenSize = 8192

const tracerName = "github.com/nimbusframe/nimbus/pkg/identity"

// tokenCacheEntry stores a validated identity and when it stops being
// trusted without re-validation.
type tokenCacheEntry struct {
	identity  Identity
	expiresAt time.Time
}

// tokenCache avoids re-parsing and re-verifying the same bearer token on
// every dispatch that carries one. Entries are keyed by the SHA-256 hash of
// the token string so raw tokens never sit in memory longer than the call
// that presented them.
type tokenCache struct {
	mu      sync.RWMutex
	entries map[string]*tokenCacheEntry
	maxSize int
	ttl     time.Duration
}

func newTokenCache(ttl time.Duration, maxSize int) *tokenCache {
	return &tokenCache{
		entries: make(map[string]*tokenCacheEntry),
		maxSize: maxSize,
		ttl:     ttl,
	}
}

func (c *tokenCache) get(hash string) (Identity, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[hash]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.identity, true
}

func (c *tokenCache) put(hash string, identity Identity, tokenExp time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ttl := c.ttl
	if remaining := time.Until(tokenExp); remaining > 0 && remaining < ttl {
		ttl = remaining
	}
	if ttl <= 0 {
		return
	}

	if len(c.entries) >= c.maxSize {
		now := time.Now()
		for k, v := range c.entries {
			if now.After(v.expiresAt) {
				delete(c.entries, k)
			}
		}
	}
	if len(c.entries) >= c.maxSize {
		var oldestKey string
		var oldestTime time.Time
		first := true
		for k, v := range c.entries {
			if first || v.expiresAt.Before(oldestTime) {
				oldestKey, oldestTime, first = k, v.expiresAt, false
			}
		}
		if oldestKey != "" {
			delete(c.entries, oldestKey)
		}
	}

	c.entries[hash] = &tokenCacheEntry{identity: identity, expiresAt: time.Now().Add(ttl)}
}

func tokenHash(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// HMACValidator implements [TokenValidator] for bearer tokens signed with a
// shared HS256 secret. It is the minimal validator this module ships: a
// single-tenant process that issues its own tokens (for instance, a control
// plane handing out short-lived tokens to the agents it dispatches to) has
// no OIDC provider to delegate to, so signature verification against one
// configured key is all it needs.
//
// HMACValidator is safe for concurrent use by multiple goroutines.
type HMACValidator struct {
	signingKey Secret
	issuer     string
	audience   string
	clockSkew  time.Duration
	permMapper func(claims map[string]any) []Permission
	cache      *tokenCache
	tracer     trace.Tracer
}

var _ TokenValidator = (*HMACValidator)(nil)

// HMACValidatorOption configures an [HMACValidator] built by
// [NewHMACValidator].
type HMACValidatorOption func(*HMACValidator)

// WithAudience restricts accepted tokens to the given "aud" claim. If never
// set, the audience claim is not checked.
func WithAudience(audience string) HMACValidatorOption {
	return func(v *HMACValidator) { v.audience = audience }
}

// WithClockSkew tolerates up to the given drift between this process's
// clock and the token issuer's when checking exp/nbf. Defaults to 30s.
func WithClockSkew(skew time.Duration) HMACValidatorOption {
	return func(v *HMACValidator) { v.clockSkew = skew }
}

// WithPermissionMapper overrides how JWT claims are turned into
// [Permission] values. Defaults to [DefaultClaimsToPermissions].
func WithPermissionMapper(mapper func(claims map[string]any) []Permission) HMACValidatorOption {
	return func(v *HMACValidator) { v.permMapper = mapper }
}

// WithTokenCache overrides the validated-identity cache TTL and maximum
// entry count. Defaults to a 5-minute TTL and 10000 entries.
func WithTokenCache(ttl time.Duration, maxSize int) HMACValidatorOption {
	return func(v *HMACValidator) {
		if maxSize <= 0 {
			maxSize = 10000
		}
		v.cache = newTokenCache(ttl, maxSize)
	}
}

// NewHMACValidator creates an [HMACValidator] that verifies HS256 tokens
// signed with signingKey and issued by issuer. signingKey must be at least
// 32 bytes; shorter keys are rejected outright rather than accepted and
// silently weakened.
func NewHMACValidator(signingKey Secret, issuer string, opts ...HMACValidatorOption) (*HMACValidator, error) {
	if len(signingKey.Value()) < minSigningKeyBytes {
		return nil, sserr.InvalidStatef("identity: HMAC signing key must be at least %d bytes", minSigningKeyBytes)
	}
	if issuer == "" {
		return nil, sserr.InvalidState("identity: HMAC validator issuer must not be empty")
	}

	v := &HMACValidator{
		signingKey: signingKey,
		issuer:     issuer,
		clockSkew:  30 * time.Second,
		permMapper: DefaultClaimsToPermissions,
		cache:      newTokenCache(5*time.Minute, 10000),
		tracer:     otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Validate verifies tokenStr's HS256 signature, issuer, audience (if
// configured), and expiry, then builds an Identity from its claims. A
// "service_name" claim produces a [ServiceIdentity]; an "email" claim
// produces a [UserIdentity]; otherwise a [BasicIdentity] is returned.
func (v *HMACValidator) Validate(ctx context.Context, tokenStr string) (Identity, error) {
	ctx, span := v.tracer.Start(ctx, "identity.Validate")
	defer span.End()
	_ = ctx

	if tokenStr == "" {
		err := sserr.InvalidState("identity: token must not be empty")
		finishTokenSpan(span, err)
		return nil, err
	}
	if len(tokenStr) > maxTokenSize {
		err := sserr.InvalidState("identity: token exceeds maximum size")
		finishTokenSpan(span, err)
		return nil, err
	}

	hash := tokenHash(tokenStr)
	if identity, ok := v.cache.get(hash); ok {
		span.SetAttributes(attribute.Bool("identity.cache_hit", true))
		return identity, nil
	}
	span.SetAttributes(attribute.Bool("identity.cache_hit", false))

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(v.issuer),
		jwt.WithLeeway(v.clockSkew),
	}
	if v.audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(v.audience))
	}

	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		return []byte(v.signingKey.Value()), nil
	}, parserOpts...)
	if err != nil {
		classified := classifyTokenError(err)
		finishTokenSpan(span, classified)
		return nil, classified
	}

	mc, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		err := sserr.InvalidState("identity: invalid token claims")
		finishTokenSpan(span, err)
		return nil, err
	}

	claims := make(map[string]any, len(mc))
	for k, val := range mc {
		claims[k] = val
	}
	permissions := v.permMapper(claims)
	sub, _ := claims["sub"].(string)

	email, _ := claims["email"].(string)
	serviceName, _ := claims["service_name"].(string)

	var identity Identity
	switch {
	case email != "":
		name, _ := claims["name"].(string)
		identity, err = NewUserIdentity(sub, email, name, claims, permissions)
	case serviceName != "":
		namespace, _ := claims["namespace"].(string)
		identity, err = NewServiceIdentity(sub, serviceName, namespace, claims, permissions)
	default:
		identity = NewBasicIdentity(sub, IdentityTypeService, claims)
	}
	if err != nil {
		wrapped := sserr.Wrap(err, sserr.CodeInvalidState, "identity: failed to build identity from token claims")
		finishTokenSpan(span, wrapped)
		return nil, wrapped
	}

	if exp, expErr := mc.GetExpirationTime(); expErr == nil && exp != nil {
		v.cache.put(hash, identity, exp.Time)
	}

	span.SetAttributes(
		attribute.String("identity.id", identity.ID()),
		attribute.String("identity.type", string(identity.Type())),
	)
	return identity, nil
}

// classifyTokenError maps golang-jwt sentinel errors onto this module's
// error taxonomy so callers can branch on errors.CodeInvalidState without
// depending on the jwt package directly.
func classifyTokenError(err error) *sserr.Error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return sserr.Wrap(err, sserr.CodeInvalidState, "identity: token has expired")
	case errors.Is(err, jwt.ErrTokenMalformed):
		return sserr.Wrap(err, sserr.CodeInvalidState, "identity: token is malformed")
	case errors.Is(err, jwt.ErrSignatureInvalid):
		return sserr.Wrap(err, sserr.CodeInvalidState, "identity: token signature is invalid")
	case errors.Is(err, jwt.ErrTokenNotValidYet):
		return sserr.Wrap(err, sserr.CodeInvalidState, "identity: token is not yet valid")
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return sserr.Wrap(err, sserr.CodeInvalidState, "identity: token audience is invalid")
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return sserr.Wrap(err, sserr.CodeInvalidState, "identity: token issuer is invalid")
	case strings.Contains(err.Error(), "no matching validator"):
		return sserr.Wrap(err, sserr.CodeInvalidState, "identity: no matching validator for token")
	default:
		return sserr.Wrap(err, sserr.CodeInvalidState, "identity: token validation failed")
	}
}

func finishTokenSpan(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
