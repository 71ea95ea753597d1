package authz

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v4"
	"github.com/rs/zerolog"
	"github.com/spendlens/spendlens-api/internal/repository"
	"golang.org/x/crypto/bcrypt"
)

// Authenticator resolves the calling tenant from either a dashboard-issued
// JWT bearer token or a per-tenant API key. Both paths end with the tenant id
// on the request context; neither grants access across tenants.
type Authenticator struct {
	tenants   repository.TenantRepository
	jwtSecret []byte
	logger    zerolog.Logger
}

func NewAuthenticator(tenants repository.TenantRepository, jwtSecret string, logger zerolog.Logger) *Authenticator {
	return &Authenticator{
		tenants:   tenants,
		jwtSecret: []byte(jwtSecret),
		logger:    logger.With().Str("component", "authenticator").Logger(),
	}
}

// Middleware rejects unauthenticated requests with 401 before any handler
// runs.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if apiKey := r.Header.Get("X-API-Key"); apiKey != "" {
			tenantID, ok := a.verifyAPIKey(r.Context(), apiKey)
			if !ok {
				http.Error(w, "invalid API key", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithTenant(r.Context(), tenantID)))
			return
		}

		auth := r.Header.Get("Authorization")
		if auth == "" {
			http.Error(w, "Authorization header or X-API-Key required", http.StatusUnauthorized)
			return
		}
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, "invalid authorization format", http.StatusUnauthorized)
			return
		}
		tenantID, ok := a.verifyToken(parts[1])
		if !ok {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithTenant(r.Context(), tenantID)))
	})
}

func (a *Authenticator) verifyToken(tokenString string) (string, bool) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return a.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return "", false
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !claims.VerifyExpiresAt(jwt.TimeFunc().Unix(), true) {
		return "", false
	}
	tenantID, ok := claims["tid"].(string)
	if !ok || tenantID == "" {
		return "", false
	}
	return tenantID, true
}

// verifyAPIKey checks a "<tenant id>.<secret>" key against the tenant's
// stored bcrypt hash.
func (a *Authenticator) verifyAPIKey(ctx context.Context, apiKey string) (string, bool) {
	tenantID, secret, found := strings.Cut(apiKey, ".")
	if !found || tenantID == "" || secret == "" {
		return "", false
	}
	tenant, err := a.tenants.GetTenantByID(ctx, tenantID)
	if err != nil {
		if err != repository.ErrNotFound {
			a.logger.Error().Err(err).Msg("tenant lookup failed during API key check")
		}
		return "", false
	}
	if tenant.APIKeyHash == "" {
		return "", false
	}
	if bcrypt.CompareHashAndPassword([]byte(tenant.APIKeyHash), []byte(secret)) != nil {
		return "", false
	}
	return tenant.ID, true
}

// HashAPIKey derives the stored hash for a freshly issued API key secret.
func HashAPIKey(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
