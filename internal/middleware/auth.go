// Package middleware provides HTTP middleware for the API server.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/conseiller-portal/messagerie/internal/model"
)

// ContextKey is a type for context keys.
type ContextKey string

const (
	// CounsellorKey is the context key for the authenticated counsellor.
	CounsellorKey ContextKey = "conseiller"
	// AccessTokenKey is the context key for the raw bearer token, forwarded to the backend.
	AccessTokenKey ContextKey = "access_token"
)

// Claims represents JWT claims. The subject is the counsellor id.
type Claims struct {
	jwt.RegisteredClaims
	Structure string `json:"structure"`
	FirstName string `json:"given_name,omitempty"`
	LastName  string `json:"family_name,omitempty"`
}

// Auth creates JWT authentication middleware. EventSource clients cannot set
// headers, so the token may also come from the access_token query parameter.
func Auth(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, ok := bearerToken(r)
			if !ok {
				http.Error(w, `{"error":"missing authorization header"}`, http.StatusUnauthorized)
				return
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(jwtSecret), nil
			})

			if err != nil || !token.Valid || claims.Subject == "" {
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}

			counsellor := model.Counsellor{
				ID:        claims.Subject,
				FirstName: claims.FirstName,
				LastName:  claims.LastName,
				Structure: claims.Structure,
			}
			ctx := context.WithValue(r.Context(), CounsellorKey, counsellor)
			ctx = context.WithValue(ctx, AccessTokenKey, tokenString)
			recordCounsellor(ctx, counsellor.ID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		if t := r.URL.Query().Get("access_token"); t != "" {
			return t, true
		}
		return "", false
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// GetCounsellor gets the authenticated counsellor from context.
func GetCounsellor(ctx context.Context) (model.Counsellor, bool) {
	c, ok := ctx.Value(CounsellorKey).(model.Counsellor)
	return c, ok
}

// GetCounsellorID gets the authenticated counsellor id from context.
func GetCounsellorID(ctx context.Context) string {
	c, _ := GetCounsellor(ctx)
	return c.ID
}

// GetAccessToken gets the raw bearer token from context.
func GetAccessToken(ctx context.Context) string {
	if v, ok := ctx.Value(AccessTokenKey).(string); ok {
		return v
	}
	return ""
}
