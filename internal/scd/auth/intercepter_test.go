package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

func TestAuthInterceptor(t *testing.T) {
	const (
		validSecret   = "test-secret"
		invalidSecret = "wrong-secret"
		userID        = "test-user"
	)

	// Helper to generate test tokens
	generateToken := func(secret string, expiresAt time.Time) string {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"sub": userID,
			"exp": expiresAt.Unix(),
		})
		tokenString, _ := token.SignedString([]byte(secret))
		return tokenString
	}

	tests := []struct {
		name        string
		fullMethod  string
		token       string
		header      string
		wantError   bool
		expectedErr codes.Code
	}{
		{
			name:        "protected method valid token",
			fullMethod:  "/scd.v1.JobService/UpdateStatus",
			token:       generateToken(validSecret, time.Now().Add(1*time.Hour)),
			wantError:   false,
			expectedErr: codes.OK,
		},
		{
			name:        "protected method invalid token",
			fullMethod:  "/scd.v1.JobService/UpdateStatus",
			token:       generateToken(invalidSecret, time.Now().Add(1*time.Hour)),
			wantError:   true,
			expectedErr: codes.Unauthenticated,
		},
		{
			name:        "protected method expired token",
			fullMethod:  "/scd.v1.JobService/UpdateStatus",
			token:       generateToken(validSecret, time.Now().Add(-1*time.Hour)),
			wantError:   true,
			expectedErr: codes.Unauthenticated,
		},
		{
			name:        "protected method wrong scheme",
			fullMethod:  "/scd.v1.PaymentLineItemService/MarkAsPaid",
			header:      "Basic dXNlcjpwYXNz",
			wantError:   true,
			expectedErr: codes.Unauthenticated,
		},
		{
			name:        "protected method missing metadata",
			fullMethod:  "/scd.v1.JobService/UpdateStatus",
			wantError:   true,
			expectedErr: codes.Unauthenticated,
		},
		{
			name:        "unprotected method no token",
			fullMethod:  "/scd.v1.JobService/FindLatestVersionByID",
			wantError:   false,
			expectedErr: codes.OK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			interceptor := NewAuthInterceptor(validSecret, "/scd.v1.JobService/UpdateStatus", "/scd.v1.PaymentLineItemService/MarkAsPaid")
			unaryInterceptor := interceptor.Unary()

			// Create context with metadata if token is provided
			ctx := context.Background()
			header := tt.header
			if tt.token != "" {
				header = "Bearer " + tt.token
			}
			if header != "" {
				ctx = metadata.NewIncomingContext(ctx, metadata.Pairs("authorization", header))
			}

			// Mock handler that checks for claims in context
			handler := func(ctx context.Context, _ interface{}) (interface{}, error) {
				if tt.fullMethod == "/scd.v1.JobService/UpdateStatus" {
					sub, ok := Subject(ctx)
					if !ok || sub != userID {
						return nil, status.Error(codes.Unauthenticated, "claims not in context")
					}
				}
				return "response", nil
			}

			info := &grpc.UnaryServerInfo{FullMethod: tt.fullMethod}
			resp, err := unaryInterceptor(ctx, nil, info, handler)

			if tt.wantError {
				if err == nil {
					t.Fatal("expected error but got none")
				}
				if status.Code(err) != tt.expectedErr {
					t.Errorf("expected error code %v, got %v", tt.expectedErr, status.Code(err))
				}
			} else {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				if resp != "response" {
					t.Error("handler response mismatch")
				}
			}
		})
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		name      string
		header    string
		wantToken string
		wantErr   error
	}{
		{
			name:      "valid authorization header",
			header:    "Bearer valid-token",
			wantToken: "valid-token",
		},
		{
			name:    "missing authorization header",
			header:  "",
			wantErr: ErrMissingToken,
		},
		{
			name:    "malformed authorization header",
			header:  "InvalidPrefix valid-token",
			wantErr: ErrMalformedAuth,
		},
		{
			name:    "empty bearer token",
			header:  "Bearer   ",
			wantErr: ErrMalformedAuth,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := bearerToken(tt.header)

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if token != tt.wantToken {
				t.Errorf("expected token %q, got %q", tt.wantToken, token)
			}
		})
	}
}

func TestVerifier_Verify(t *testing.T) {
	const validSecret = "test-secret"
	sign := func(method jwt.SigningMethod, claims jwt.MapClaims) string {
		tokenString, _ := jwt.NewWithClaims(method, claims).SignedString([]byte(validSecret))
		return tokenString
	}
	validTokenString := sign(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user123",
		"exp": time.Now().Add(1 * time.Hour).Unix(),
	})

	tests := []struct {
		name        string
		tokenString string
		secret      string
		wantValid   bool
	}{
		{
			name:        "valid token",
			tokenString: validTokenString,
			secret:      validSecret,
			wantValid:   true,
		},
		{
			name:        "invalid signature",
			tokenString: validTokenString,
			secret:      "wrong-secret",
			wantValid:   false,
		},
		{
			name:        "expired token",
			tokenString: sign(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "user123", "exp": time.Now().Add(-1 * time.Hour).Unix()}),
			secret:      validSecret,
			wantValid:   false,
		},
		{
			name:        "no expiry",
			tokenString: sign(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "user123"}),
			secret:      validSecret,
			wantValid:   false,
		},
		{
			name:        "other algorithm",
			tokenString: sign(jwt.SigningMethodHS512, jwt.MapClaims{"sub": "user123", "exp": time.Now().Add(time.Hour).Unix()}),
			secret:      validSecret,
			wantValid:   false,
		},
		{
			name:        "malformed token",
			tokenString: "invalid.token.string",
			secret:      validSecret,
			wantValid:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := NewVerifier(tt.secret).Verify(tt.tokenString)

			if tt.wantValid {
				if err != nil {
					t.Errorf("expected valid token, got error: %v", err)
				}
				if claims["sub"] != "user123" {
					t.Error("claims not properly parsed")
				}
			} else if !errors.Is(err, ErrInvalidToken) {
				t.Errorf("expected ErrInvalidToken, got %v", err)
			}
		})
	}
}

func TestNewAuthInterceptor(t *testing.T) {
	protectedMethods := []string{
		"/scd.v1.JobService/CreateEntity",
		"/scd.v1.TimelogService/AdjustTimelog",
		"/scd.v1.PaymentLineItemService/MarkAsPaid",
	}
	interceptor := NewAuthInterceptor("test-secret", protectedMethods...)

	for _, method := range protectedMethods {
		if !interceptor.Protects(method) {
			t.Errorf("missing protected method: %s", method)
		}
	}
	if interceptor.Protects("/scd.v1.JobService/FindByUID") {
		t.Error("read methods must not be protected")
	}
}

func TestHTTPMiddleware(t *testing.T) {
	const secret = "test-secret"
	valid, err := GenerateToken("user-1", secret, time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expired, err := GenerateToken("user-1", secret, -time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var subject string
	h := HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject, _ = Subject(r.Context())
		w.WriteHeader(http.StatusOK)
	}), secret)

	tests := []struct {
		name   string
		header string
		code   int
	}{
		{"valid token", "Bearer " + valid, http.StatusOK},
		{"expired token", "Bearer " + expired, http.StatusUnauthorized},
		{"missing header", "", http.StatusUnauthorized},
		{"missing bearer prefix", valid, http.StatusUnauthorized},
		{"empty token", "Bearer ", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			subject = ""
			req := httptest.NewRequest(http.MethodPut, "/v1/jobs/job_1/status", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.code {
				t.Errorf("expected status %d, got %d", tt.code, rec.Code)
			}
			if tt.code == http.StatusUnauthorized && rec.Header().Get("WWW-Authenticate") == "" {
				t.Error("expected a WWW-Authenticate challenge")
			}
			if tt.code == http.StatusOK && subject != "user-1" {
				t.Errorf("expected subject user-1, got %q", subject)
			}
		})
	}
}

func TestGenerateToken(t *testing.T) {
	token, err := GenerateToken("svc", "secret", time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	claims, err := NewVerifier("secret").Verify(token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claims["iss"] != Issuer || claims["sub"] != "svc" {
		t.Errorf("unexpected claims %v", claims)
	}
	if _, ok := Subject(context.Background()); ok {
		t.Error("expected no subject on a bare context")
	}
}
