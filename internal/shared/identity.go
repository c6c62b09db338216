package shared

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Role selects which face of the portal the caller uses.
type Role string

const (
	// RoleAdmin sees every base record and manages approvals.
	RoleAdmin Role = "admin"
	// RoleStore sees only approved records.
	RoleStore Role = "store"
)

// ParseRole accepts the canonical names plus the legacy "loja" alias.
func ParseRole(raw string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "admin", "administrador":
		return RoleAdmin, nil
	case "store", "loja":
		return RoleStore, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownRole, raw)
}

// Identity is the authenticated caller.
type Identity struct {
	UserID string
	Role   Role
}

// IsAdmin reports whether the caller uses the administrator face.
func (i Identity) IsAdmin() bool { return i.Role == RoleAdmin }

// Header names read by IdentityResolver.
const (
	HeaderUserID    = "X-User-Id"
	HeaderUserRole  = "X-User-Role"
	HeaderSessionID = "X-Session-Id"
)

// Claims are the token claims understood by the resolver.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role,omitempty"`
}

// IdentityResolver turns a request into an Identity. With a secret it
// requires an HS256 bearer token whose subject is the user id; without one it
// trusts the X-User-Id / X-User-Role headers set by an upstream gateway.
type IdentityResolver struct {
	secret      []byte
	DefaultUser string
	DefaultRole Role
}

// NewIdentityResolver constructs a resolver. An empty secret selects header
// mode.
func NewIdentityResolver(secret string) *IdentityResolver {
	r := &IdentityResolver{DefaultUser: "1", DefaultRole: RoleAdmin}
	if secret != "" {
		r.secret = []byte(secret)
	}
	return r
}

// TokenMode reports whether bearer tokens are required.
func (r *IdentityResolver) TokenMode() bool { return len(r.secret) > 0 }

// Resolve authenticates the request.
func (r *IdentityResolver) Resolve(req *http.Request) (Identity, error) {
	if r.TokenMode() {
		return r.fromToken(req)
	}
	id := Identity{UserID: strings.TrimSpace(req.Header.Get(HeaderUserID)), Role: r.DefaultRole}
	if id.UserID == "" {
		id.UserID = r.DefaultUser
	}
	if raw := req.Header.Get(HeaderUserRole); raw != "" {
		role, err := ParseRole(raw)
		if err != nil {
			return Identity{}, err
		}
		id.Role = role
	}
	return id, nil
}

func (r *IdentityResolver) fromToken(req *http.Request) (Identity, error) {
	header := req.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return Identity{}, fmt.Errorf("%w: bearer token not provided", ErrInvalidToken)
	}
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return r.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return Identity{}, ErrInvalidToken
	}
	role := r.DefaultRole
	if claims.Role != "" {
		role, err = ParseRole(claims.Role)
		if err != nil {
			return Identity{}, err
		}
	}
	return Identity{UserID: claims.Subject, Role: role}, nil
}

// SignToken issues an HS256 token for id. Used by operator tooling and tests;
// production tokens come from the identity provider.
func SignToken(secret string, id Identity, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("shared: signing secret required")
	}
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: string(id.Role),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
