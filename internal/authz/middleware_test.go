package authz

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/rs/zerolog"
	"github.com/spendlens/spendlens-api/internal/models"
	"github.com/spendlens/spendlens-api/internal/repository"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-signing-secret"

type memTenantRepo struct {
	tenants map[string]models.Tenant
}

func (m *memTenantRepo) CreateTenant(_ context.Context, tenant models.Tenant) (models.Tenant, error) {
	m.tenants[tenant.ID] = tenant
	return tenant, nil
}

func (m *memTenantRepo) GetTenantByID(_ context.Context, id string) (models.Tenant, error) {
	tenant, ok := m.tenants[id]
	if !ok {
		return models.Tenant{}, repository.ErrNotFound
	}
	return tenant, nil
}

func (m *memTenantRepo) UpdateSubscription(_ context.Context, id string, status models.SubscriptionStatus, tier models.SubscriptionTier) error {
	return nil
}

func (m *memTenantRepo) SetAPIKeyHash(_ context.Context, id, hash string) error { return nil }

func signToken(t *testing.T, claims jwt.MapClaims, secret string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func newTestAuthenticator(t *testing.T) (*Authenticator, *memTenantRepo) {
	t.Helper()
	repo := &memTenantRepo{tenants: make(map[string]models.Tenant)}
	return NewAuthenticator(repo, testSecret, zerolog.Nop()), repo
}

func runMiddleware(auth *Authenticator, req *http.Request) (*httptest.ResponseRecorder, string) {
	var gotTenant string
	handler := auth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTenant, _ = TenantIDFromRequest(r)
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec, gotTenant
}

func TestMiddlewareValidJWT(t *testing.T) {
	auth, _ := newTestAuthenticator(t)
	token := signToken(t, jwt.MapClaims{
		"tid": "t-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	}, testSecret)

	req := httptest.NewRequest(http.MethodGet, "/api/runs", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec, tenant := runMiddleware(auth, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "t-1", tenant)
}

func TestMiddlewareRejectsBadTokens(t *testing.T) {
	auth, _ := newTestAuthenticator(t)

	cases := map[string]string{
		"wrong secret": signToken(t, jwt.MapClaims{
			"tid": "t-1", "exp": time.Now().Add(time.Hour).Unix(),
		}, "other-secret"),
		"expired": signToken(t, jwt.MapClaims{
			"tid": "t-1", "exp": time.Now().Add(-time.Hour).Unix(),
		}, testSecret),
		"missing tenant claim": signToken(t, jwt.MapClaims{
			"exp": time.Now().Add(time.Hour).Unix(),
		}, testSecret),
		"garbage": "not.a.token",
	}
	for name, token := range cases {
		req := httptest.NewRequest(http.MethodGet, "/api/runs", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec, _ := runMiddleware(auth, req)
		require.Equal(t, http.StatusUnauthorized, rec.Code, name)
	}
}

func TestMiddlewareMissingCredentials(t *testing.T) {
	auth, _ := newTestAuthenticator(t)
	req := httptest.NewRequest(http.MethodGet, "/api/runs", nil)
	rec, _ := runMiddleware(auth, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddlewareAPIKey(t *testing.T) {
	auth, repo := newTestAuthenticator(t)

	hash, err := HashAPIKey("s3cret-material")
	require.NoError(t, err)
	repo.tenants["t-1"] = models.Tenant{ID: "t-1", APIKeyHash: hash}

	req := httptest.NewRequest(http.MethodGet, "/api/runs", nil)
	req.Header.Set("X-API-Key", "t-1.s3cret-material")
	rec, tenant := runMiddleware(auth, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "t-1", tenant)

	// Wrong secret, unknown tenant, malformed key.
	for _, key := range []string{"t-1.wrong", "t-2.s3cret-material", "no-dot-in-here-at-all", "t-1."} {
		req := httptest.NewRequest(http.MethodGet, "/api/runs", nil)
		req.Header.Set("X-API-Key", key)
		rec, _ := runMiddleware(auth, req)
		require.Equal(t, http.StatusUnauthorized, rec.Code, "key %q", key)
	}
}
