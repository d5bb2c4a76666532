// This is a **mock authentication service**, designed to provide JWT tokens
// for the scd service, simulating user authentication.
package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gartstein/scd/internal/scd/auth"
	"github.com/gartstein/scd/internal/scd/config"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	defaultPort    = "8081"       // Default port for the authentication service
	defaultSecret  = "jwt_secret" // Secret for signing JWT
	defaultSubject = "12345"
	tokenTTL       = 24 * time.Hour
)

// TokenResponse represents the response structure
type TokenResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expiresAt"`
}

// tokenHandler generates a JWT and returns it in JSON response
func tokenHandler(secret string, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Simulate a user ID for the token
		subject := r.URL.Query().Get("sub")
		if subject == "" {
			subject = defaultSubject
		}

		token, err := auth.GenerateToken(subject, secret, tokenTTL)
		if err != nil {
			logger.Error("Failed to generate token", zap.Error(err))
			http.Error(w, "Failed to generate token", http.StatusInternalServerError)
			return
		}

		resp := TokenResponse{Token: token, ExpiresAt: time.Now().Add(tokenTTL).Unix()}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			http.Error(w, "Failed to encode token", http.StatusInternalServerError)
		}
	}
}

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	v := viper.New()
	v.SetEnvPrefix(config.EnvPrefix)
	v.AutomaticEnv()
	v.SetDefault("AUTH_PORT", defaultPort)
	v.SetDefault("JWT_SECRET", defaultSecret)

	port := v.GetString("AUTH_PORT")
	mux := http.NewServeMux()
	mux.HandleFunc("/token", tokenHandler(v.GetString("JWT_SECRET"), logger))

	srv := &http.Server{Addr: ":" + port, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	logger.Info("Authentication service running", zap.String("port", port))
	if err := srv.ListenAndServe(); err != nil {
		logger.Fatal("Authentication service stopped", zap.Error(err))
	}
}
