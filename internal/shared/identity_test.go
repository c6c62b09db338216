package shared

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tremedam/Agendamento-Pro/internal/platform/httpx"
)

func TestParseRole(t *testing.T) {
	role, err := ParseRole("loja")
	require.NoError(t, err)
	assert.Equal(t, RoleStore, role)

	role, err = ParseRole(" Admin ")
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, role)

	_, err = ParseRole("guest")
	require.ErrorIs(t, err, httpx.ErrForbidden)
}

func TestResolveHeaderMode(t *testing.T) {
	resolver := NewIdentityResolver("")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	id, err := resolver.Resolve(req)
	require.NoError(t, err)
	assert.Equal(t, Identity{UserID: "1", Role: RoleAdmin}, id)

	req.Header.Set(HeaderUserID, "42")
	req.Header.Set(HeaderUserRole, "loja")
	id, err = resolver.Resolve(req)
	require.NoError(t, err)
	assert.Equal(t, Identity{UserID: "42", Role: RoleStore}, id)
	assert.False(t, id.IsAdmin())
}

func TestResolveTokenMode(t *testing.T) {
	const secret = "s3cret"
	resolver := NewIdentityResolver(secret)
	require.True(t, resolver.TokenMode())

	token, err := SignToken(secret, Identity{UserID: "7", Role: RoleStore}, time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	id, err := resolver.Resolve(req)
	require.NoError(t, err)
	assert.Equal(t, Identity{UserID: "7", Role: RoleStore}, id)

	// Headers are ignored once tokens are required.
	bare := httptest.NewRequest(http.MethodGet, "/", nil)
	bare.Header.Set(HeaderUserID, "7")
	_, err = resolver.Resolve(bare)
	require.ErrorIs(t, err, httpx.ErrUnauthorized)

	forged, err := SignToken("other", Identity{UserID: "7", Role: RoleAdmin}, time.Hour)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+forged)
	_, err = resolver.Resolve(req)
	require.ErrorIs(t, err, ErrInvalidToken)

	expired, err := SignToken(secret, Identity{UserID: "7"}, -time.Minute)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+expired)
	_, err = resolver.Resolve(req)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestResolveRejectsOtherAlgorithms(t *testing.T) {
	resolver := NewIdentityResolver("s3cret")
	token := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "1"}})
	raw, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	_, err = resolver.Resolve(req)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestRequireRole(t *testing.T) {
	handler := RequireRole(RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	cases := []struct {
		name string
		id   *Identity
		want int
	}{
		{"admin", &Identity{UserID: "1", Role: RoleAdmin}, http.StatusNoContent},
		{"store", &Identity{UserID: "2", Role: RoleStore}, http.StatusForbidden},
		{"anonymous", nil, http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			if tc.id != nil {
				req = req.WithContext(ContextWithIdentity(req.Context(), *tc.id))
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}
