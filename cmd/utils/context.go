package utils

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v4"
)

type contextKey string

const ProfessionalIDKey contextKey = "professionalID"

func GetProfessionalIDFromContext(r *http.Request) (uint, error) {
	id, ok := r.Context().Value(ProfessionalIDKey).(uint)
	if !ok {
		return 0, errors.New("professional ID not found in context")
	}
	return id, nil
}

// AuthMiddleware guards dashboard-only routes. Tokens are minted by the
// platform's auth service; this server only verifies them.
func AuthMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Authorization header required", http.StatusUnauthorized)
			return
		}

		tokenString := strings.Replace(authHeader, "Bearer ", "", 1)

		claims := &jwt.RegisteredClaims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
			return []byte(os.Getenv("SECRET_KEY")), nil
		})

		if err != nil || !token.Valid {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		professionalID, err := strconv.ParseUint(claims.Subject, 10, 64)
		if err != nil {
			http.Error(w, "Invalid professional ID in token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), ProfessionalIDKey, uint(professionalID))
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}
