package middleware

import (
	"net/http"
	"strings"

	"github.com/go-chi/cors"
)

// CORS returns a CORS middleware for the portal front end. An empty origin
// list refuses every cross-origin request, and credentials are only allowed
// when every origin is exact.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	opts := cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Correlation-ID"},
		ExposedHeaders:   []string{"X-Correlation-ID"},
		AllowCredentials: !hasWildcardOrigin(allowedOrigins),
		MaxAge:           300,
	}
	if len(allowedOrigins) == 0 {
		// go-chi/cors treats an empty list as "allow all".
		opts.AllowOriginFunc = func(r *http.Request, origin string) bool { return false }
	}
	return cors.Handler(opts)
}

func hasWildcardOrigin(origins []string) bool {
	for _, o := range origins {
		if strings.Contains(o, "*") {
			return true
		}
	}
	return false
}
