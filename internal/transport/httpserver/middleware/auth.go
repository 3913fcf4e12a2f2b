package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"clipvault-go/internal/config"
	"clipvault-go/pkg/logger"
)

// User is the authenticated principal extracted from the request.
// Authentication itself is owned by an external account service; this
// middleware only consumes it.
type User struct {
	ID string
}

type contextKey int

const userKey contextKey = iota

// TokenAuth validates bearer tokens against the external auth service.
// With SkipAuth set it stamps every request with the configured mock
// user instead, for local development.
type TokenAuth struct {
	baseURL  string
	client   *http.Client
	skipAuth bool
	mockUser User
	log      logger.Logger
}

func NewTokenAuth(cfg config.AuthConfig, log logger.Logger) *TokenAuth {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	return &TokenAuth{
		baseURL:  strings.TrimRight(cfg.URL, "/"),
		client:   &http.Client{Timeout: timeout},
		skipAuth: cfg.SkipAuth,
		mockUser: User{ID: cfg.MockUserID},
		log:      log,
	}
}

func (a *TokenAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.skipAuth {
			next.ServeHTTP(w, r.WithContext(withUser(r.Context(), a.mockUser)))
			return
		}

		token := bearerToken(r)
		if token == "" {
			unauthorized(w)
			return
		}

		user, err := a.verify(r.Context(), token)
		if err != nil {
			a.log.BusinessError("auth: token verification failed", err)
			unauthorized(w)
			return
		}

		next.ServeHTTP(w, r.WithContext(withUser(r.Context(), user)))
	})
}

func (a *TokenAuth) verify(ctx context.Context, token string) (User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/userinfo", nil)
	if err != nil {
		return User{}, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := a.client.Do(req)
	if err != nil {
		return User{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return User{}, errStatus(resp.StatusCode)
	}

	var body struct {
		ID  string `json:"id"`
		Sub string `json:"sub"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return User{}, err
	}

	id := body.ID
	if id == "" {
		id = body.Sub
	}
	if id == "" {
		return User{}, errNoSubject
	}

	return User{ID: id}, nil
}

func UserFromContext(ctx context.Context) (User, bool) {
	user, ok := ctx.Value(userKey).(User)
	return user, ok && user.ID != ""
}

func withUser(ctx context.Context, user User) context.Context {
	return context.WithValue(ctx, userKey, user)
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		// Browsers cannot set headers on websocket dials; accept the token
		// as a query parameter there.
		return strings.TrimSpace(r.URL.Query().Get("token"))
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":{"code":"invalid_token","message":"invalid token"}}`))
}

func errStatus(code int) error {
	return fmt.Errorf("auth service returned status %d", code)
}

var errNoSubject = errors.New("auth response has no subject")
