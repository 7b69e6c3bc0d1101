package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/flowdeck/flowdeck/internal/platform/errors"
	"github.com/flowdeck/flowdeck/internal/platform/requestctx"
	"github.com/golang-jwt/jwt/v5"
)

// SessionCookie is the dashboard session cookie name.
const SessionCookie = "fd_session"

// sessionClaims is the JWT payload minted by the dashboard on login.
type sessionClaims struct {
	UserID  string `json:"user_id"`
	OrgID   string `json:"org_id"`
	OrgRole string `json:"org_role"`
	jwt.RegisteredClaims
}

// Sessions verifies dashboard session tokens for the admin surface.
type Sessions struct {
	secret []byte
}

// NewSessions creates a session verifier with the shared signing secret.
func NewSessions(secret []byte) *Sessions {
	return &Sessions{secret: secret}
}

// IssueToken mints a signed session token. The dashboard owns login; this
// exists for service tooling and tests.
func (s *Sessions) IssueToken(caller requestctx.Caller, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := sessionClaims{
		UserID:  caller.UserID,
		OrgID:   caller.OrgID,
		OrgRole: caller.OrgRole,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

func (s *Sessions) verify(token string) (requestctx.Caller, *apperrors.Error) {
	claims := &sessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid {
		return requestctx.Caller{}, apperrors.New(apperrors.CodeUnauthenticated, "invalid session token")
	}
	if claims.UserID == "" || claims.OrgID == "" {
		return requestctx.Caller{}, apperrors.New(apperrors.CodeUnauthenticated, "session token missing identity")
	}
	return requestctx.Caller{
		UserID:  claims.UserID,
		OrgID:   claims.OrgID,
		OrgRole: claims.OrgRole,
	}, nil
}

// token extracts the session token from the cookie or bearer header.
func token(r *http.Request) string {
	if cookie, err := r.Cookie(SessionCookie); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	header := r.Header.Get("Authorization")
	if rest, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(rest)
	}
	return ""
}

// Require wraps next with session authentication. The verified caller is
// stored in the request context.
func (s *Sessions) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := token(r)
		if raw == "" {
			writeAuthError(w, apperrors.New(apperrors.CodeUnauthenticated, "authentication required"))
			return
		}
		caller, err := s.verify(raw)
		if err != nil {
			writeAuthError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(requestctx.WithCaller(r.Context(), caller)))
	})
}

// RequireAdmin wraps next with session authentication and an org-admin check.
func (s *Sessions) RequireAdmin(next http.Handler) http.Handler {
	return s.Require(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller := requestctx.CallerFromContext(r.Context())
		if !caller.IsOrgAdmin() {
			writeAuthError(w, apperrors.New(apperrors.CodeForbidden, "organization admin role required"))
			return
		}
		next.ServeHTTP(w, r)
	}))
}

func writeAuthError(w http.ResponseWriter, err *apperrors.Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.Code.HTTPStatus())
	_ = json.NewEncoder(w).Encode(errorBody{
		Code:    string(err.Code),
		Message: err.Message,
	})
}
