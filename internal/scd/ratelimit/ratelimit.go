// Package ratelimit provides admission control: one token bucket per service
// name, checked before a request reaches the service layer.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	e "github.com/gartstein/scd/internal/scd/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// DefaultName is the limiter shared by every service without its own limit.
const DefaultName = "default"

// Limit configures one token bucket. A zero MaxWait rejects at once when
// the bucket is empty; otherwise a caller may wait that long for a permit.
type Limit struct {
	PermitsPerSecond float64       `yaml:"PERMITS_PER_SECOND" mapstructure:"PERMITS_PER_SECOND"`
	Burst            int           `yaml:"BURST" mapstructure:"BURST"`
	MaxWait          time.Duration `yaml:"MAX_WAIT" mapstructure:"MAX_WAIT"`
}

// Limiter is a named token bucket.
type Limiter struct {
	name    string
	bucket  *rate.Limiter
	maxWait time.Duration
	waiting atomic.Int64
}

func newLimiter(name string, l Limit) *Limiter {
	burst := l.Burst
	if burst < 1 {
		burst = max(1, int(l.PermitsPerSecond))
	}
	return &Limiter{
		name:    name,
		bucket:  rate.NewLimiter(rate.Limit(l.PermitsPerSecond), burst),
		maxWait: max(0, l.MaxWait),
	}
}

func (l *Limiter) Name() string { return l.name }

// Acquire takes one permit. Without a MaxWait it never blocks. With one it
// waits at most MaxWait, and fails at once when the next permit is due
// later than that or ctx ends first.
func (l *Limiter) Acquire(ctx context.Context) bool {
	if l.maxWait == 0 {
		return l.bucket.Allow()
	}

	l.waiting.Add(1)
	defer l.waiting.Add(-1)
	ctx, cancel := context.WithTimeout(ctx, l.maxWait)
	defer cancel()
	return l.bucket.Wait(ctx) == nil
}

// AvailablePermits reports the permits currently in the bucket.
func (l *Limiter) AvailablePermits() float64 {
	return max(0, l.bucket.Tokens())
}

// Waiting reports the callers currently blocked in Acquire.
func (l *Limiter) Waiting() int64 {
	return l.waiting.Load()
}

// Registry holds the limiters built at startup. It is never mutated after
// NewRegistry returns.
type Registry struct {
	limiters map[string]*Limiter
	fallback *Limiter
	logger   *zap.Logger
}

func NewRegistry(limits map[string]Limit, fallback Limit, logger *zap.Logger) *Registry {
	r := &Registry{
		limiters: make(map[string]*Limiter, len(limits)),
		fallback: newLimiter(DefaultName, fallback),
		logger:   logger.Named("ratelimit"),
	}
	for name, l := range limits {
		if name == DefaultName {
			r.fallback = newLimiter(DefaultName, l)
			continue
		}
		r.limiters[name] = newLimiter(name, l)
	}
	r.logger.Info("Rate limiters initialized", zap.Strings("names", r.names()))
	return r
}

// For returns the limiter of service, or the default limiter.
func (r *Registry) For(service string) *Limiter {
	if l, ok := r.limiters[service]; ok {
		return l
	}
	return r.fallback
}

// Limiters returns every limiter, the default one included, sorted by name.
func (r *Registry) Limiters() []*Limiter {
	out := make([]*Limiter, 0, len(r.limiters)+1)
	for _, l := range r.limiters {
		out = append(out, l)
	}
	out = append(out, r.fallback)
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

func (r *Registry) names() []string {
	var names []string
	for _, l := range r.Limiters() {
		names = append(names, l.name)
	}
	return names
}

// Admit takes a permit for service or fails with ErrResourceExhausted.
func (r *Registry) Admit(ctx context.Context, service string) error {
	l := r.For(service)
	if l.Acquire(ctx) {
		return nil
	}
	r.logger.Warn("Rate limit exceeded",
		zap.String("service", service),
		zap.String("limiter", l.name),
	)
	return fmt.Errorf("%w: rate limit exceeded for service %s", e.ErrResourceExhausted, service)
}

// ServiceName maps a full gRPC method such as "/scd.v1.JobService/Create"
// to its limiter name, "jobService".
func ServiceName(fullMethod string) string {
	svc := strings.TrimPrefix(fullMethod, "/")
	if i := strings.Index(svc, "/"); i >= 0 {
		svc = svc[:i]
	}
	if i := strings.LastIndex(svc, "."); i >= 0 {
		svc = svc[i+1:]
	}
	if svc == "" {
		return DefaultName
	}
	return strings.ToLower(svc[:1]) + svc[1:]
}

// Unary returns a gRPC unary interceptor rejecting calls without a permit.
func (r *Registry) Unary() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		if err := r.Admit(ctx, ServiceName(info.FullMethod)); err != nil {
			return nil, status.Error(codes.ResourceExhausted, err.Error())
		}
		return handler(ctx, req)
	}
}

// ErrorWriter renders a rejection in the transport's error format.
type ErrorWriter func(w http.ResponseWriter, err error)

// HTTPMiddleware rejects requests to service when no permit is left. reject
// writes the response; a nil reject answers a plain 429.
func (r *Registry) HTTPMiddleware(next http.Handler, service string, reject ErrorWriter) http.Handler {
	if reject == nil {
		reject = func(w http.ResponseWriter, err error) {
			http.Error(w, err.Error(), http.StatusTooManyRequests)
		}
	}
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if err := r.Admit(req.Context(), service); err != nil {
			reject(w, err)
			return
		}
		next.ServeHTTP(w, req)
	})
}
