// Package auth provides a gRPC unary interceptor, an HTTP middleware and JWT
// token validation to secure the write methods of the entity services.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

var (
	ErrMissingToken  = errors.New("authorization header missing")
	ErrMalformedAuth = errors.New("invalid authorization format")
	ErrInvalidToken  = errors.New("invalid token")
)

const bearerPrefix = "Bearer "

// clockSkew is tolerated on exp, iat and nbf.
const clockSkew = 5 * time.Second

type contextKey string

const (
	userContextKey contextKey = "user"
)

// Verifier checks HS256 tokens signed with one secret. Tokens must carry an
// expiry.
type Verifier struct {
	secret []byte
	parser *jwt.Parser
}

func NewVerifier(jwtSecret string) *Verifier {
	return &Verifier{
		secret: []byte(jwtSecret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(clockSkew),
		),
	}
}

// Verify parses tokenString and returns its claims.
func (v *Verifier) Verify(tokenString string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	_, err := v.parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims, nil
}

// Authenticate verifies the bearer token of an Authorization header value
// and returns ctx carrying its claims.
func (v *Verifier) Authenticate(ctx context.Context, header string) (context.Context, error) {
	tokenString, err := bearerToken(header)
	if err != nil {
		return ctx, err
	}
	claims, err := v.Verify(tokenString)
	if err != nil {
		return ctx, err
	}
	return WithClaims(ctx, claims), nil
}

func bearerToken(header string) (string, error) {
	if header == "" {
		return "", ErrMissingToken
	}
	if !strings.HasPrefix(header, bearerPrefix) {
		return "", fmt.Errorf("%w: missing Bearer prefix", ErrMalformedAuth)
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix))
	if token == "" {
		return "", fmt.Errorf("%w: empty token", ErrMalformedAuth)
	}
	return token, nil
}

// Interceptor guards a fixed set of gRPC methods.
type Interceptor struct {
	verifier  *Verifier
	protected map[string]struct{}
}

// NewAuthInterceptor creates an Interceptor requiring a valid token on the
// given full method names.
func NewAuthInterceptor(jwtSecret string, protectedMethods ...string) *Interceptor {
	protected := make(map[string]struct{}, len(protectedMethods))
	for _, m := range protectedMethods {
		protected[m] = struct{}{}
	}
	return &Interceptor{verifier: NewVerifier(jwtSecret), protected: protected}
}

// Protects reports whether fullMethod requires a token.
func (i *Interceptor) Protects(fullMethod string) bool {
	_, ok := i.protected[fullMethod]
	return ok
}

// Unary returns a gRPC unary interceptor for token validation on protected methods.
func (i *Interceptor) Unary() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		if !i.Protects(info.FullMethod) {
			return handler(ctx, req)
		}

		var header string
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if values := md.Get("authorization"); len(values) > 0 {
				header = values[0]
			}
		}
		ctx, err := i.verifier.Authenticate(ctx, header)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}
		return handler(ctx, req)
	}
}

// WithClaims stores validated token claims on ctx.
func WithClaims(ctx context.Context, claims jwt.MapClaims) context.Context {
	return context.WithValue(ctx, userContextKey, claims)
}

// Subject returns the subject of the token that authorized ctx.
func Subject(ctx context.Context) (string, bool) {
	claims, ok := ctx.Value(userContextKey).(jwt.MapClaims)
	if !ok {
		return "", false
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", false
	}
	return sub, true
}
