// Package controller implements the service layer for the versioned
// entities: it validates input, drives the version-chain stores, keeps the
// cache consistent with every write and announces new versions.
package controller

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gartstein/scd/internal/scd/cache"
	"github.com/gartstein/scd/internal/scd/db"
	e "github.com/gartstein/scd/internal/scd/errors"
	"github.com/gartstein/scd/internal/scd/events"
	"github.com/gartstein/scd/internal/scd/models"
	"go.uber.org/zap"
)

type EventProducer interface {
	Produce(event events.Event)
}

// Cache is the read-through cache shared by the services.
type Cache interface {
	Get(ctx context.Context, ns cache.Namespace, key string, dest any) (bool, error)
	Set(ctx context.Context, ns cache.Namespace, key string, value any) error
	Invalidate(ctx context.Context, evictions []cache.Eviction) error
}

// Store is the version chain of one entity type.
type Store[T any] interface {
	Entity() models.EntityType
	FindLatestVersionByID(ctx context.Context, id string) (*T, error)
	FindAllVersionsByID(ctx context.Context, id string) ([]T, error)
	FindByVersion(ctx context.Context, id string, version int64) (*T, error)
	FindByUID(ctx context.Context, uid string) (*T, error)
	CreateEntity(ctx context.Context, draft *T) (*T, error)
	CreateNewVersion(ctx context.Context, latest *T, delta models.Fields) (*T, error)
	FindLatestVersionsByCriteria(ctx context.Context, criteria models.Fields) ([]T, error)
	FindLatestVersionsByIDs(ctx context.Context, ids []string) ([]T, error)
	FindLatestVersions(ctx context.Context, scopes ...db.Scope) ([]T, error)
	Where(field string, op db.Op, value any) (db.Scope, error)
	In(field string, values ...any) (db.Scope, error)
	Within(startField, endField string, start, end any) (db.Scope, error)
}

// Options carries the collaborators shared by every service.
type Options struct {
	Cache    Cache
	Producer EventProducer
	TTLs     cache.TTLs
	// Retries bounds automatic retries of a write that lost a version race.
	// Zero means one retry.
	Retries uint64
	// RetryDelay is the pause before each retry.
	RetryDelay time.Duration
	// EvictAgain repeats the evictions of a write after this delay, dropping
	// entries that a read racing the write stored from the old head. Zero
	// means 500ms; negative disables the repeat.
	EvictAgain time.Duration
	Logger     *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.Cache == nil {
		o.Cache = (*cache.Cache)(nil)
	}
	if o.Producer == nil {
		o.Producer = noopProducer{}
	}
	if o.TTLs == (cache.TTLs{}) {
		o.TTLs = cache.DefaultTTLs
	}
	if o.Retries == 0 {
		o.Retries = 1
	}
	if o.RetryDelay == 0 {
		o.RetryDelay = 10 * time.Millisecond
	}
	if o.EvictAgain == 0 {
		o.EvictAgain = 500 * time.Millisecond
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

const evictTimeout = 5 * time.Second

type noopProducer struct{}

func (noopProducer) Produce(events.Event) {}

// guard vets a delta against the latest version before it is applied.
type guard[T any] func(latest *T, delta models.Fields) error

// chain holds the operations every entity service shares.
type chain[T any, PT db.Record[T]] struct {
	store    Store[T]
	entity   models.EntityType
	cache    Cache
	producer EventProducer
	ns       namespaces
	own      entityNamespaces
	guard    guard[T]
	retries  uint64
	delay    time.Duration
	again    time.Duration
	logger   *zap.Logger
}

func newChain[T any, PT db.Record[T]](store Store[T], g guard[T], opts Options, name string) *chain[T, PT] {
	opts = opts.withDefaults()
	ns := newNamespaces(opts.TTLs)
	entity := store.Entity()
	return &chain[T, PT]{
		store:    store,
		entity:   entity,
		cache:    opts.Cache,
		producer: opts.Producer,
		ns:       ns,
		own:      ns.entity[entity.Name],
		guard:    g,
		retries:  opts.Retries,
		delay:    opts.RetryDelay,
		again:    opts.EvictAgain,
		logger:   opts.Logger.Named(name),
	}
}

func (c *chain[T, PT]) FindLatestVersionByID(ctx context.Context, id string) (*T, error) {
	if err := models.CheckID(c.entity, id); err != nil {
		return nil, err
	}
	return cached(ctx, c, c.own.latest, id, func() (*T, error) {
		return c.store.FindLatestVersionByID(ctx, id)
	}, nil)
}

// FindAllVersionsByID returns the chain newest first, or ErrNotFound for an
// unknown id.
func (c *chain[T, PT]) FindAllVersionsByID(ctx context.Context, id string) ([]T, error) {
	if err := models.CheckID(c.entity, id); err != nil {
		return nil, err
	}
	rows, err := cached(ctx, c, c.own.history, id, func() ([]T, error) {
		return c.store.FindAllVersionsByID(ctx, id)
	}, nonEmpty[T])
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, e.NotFoundf("%s %s", c.entity.Name, id)
	}
	return rows, nil
}

func (c *chain[T, PT]) FindByVersion(ctx context.Context, id string, version int64) (*T, error) {
	if err := models.CheckID(c.entity, id); err != nil {
		return nil, err
	}
	if version < 1 {
		return nil, e.Invalidf("version must be at least 1")
	}
	return c.store.FindByVersion(ctx, id, version)
}

func (c *chain[T, PT]) FindByUID(ctx context.Context, uid string) (*T, error) {
	if err := models.CheckUID(c.entity, uid); err != nil {
		return nil, err
	}
	return cached(ctx, c, c.own.byUID, uid, func() (*T, error) {
		return c.store.FindByUID(ctx, uid)
	}, nil)
}

func (c *chain[T, PT]) FindLatestVersionsByCriteria(ctx context.Context, criteria models.Fields) ([]T, error) {
	return c.store.FindLatestVersionsByCriteria(ctx, criteria)
}

// BatchGetLatest returns the latest version of every known id and the ids
// that have no chain.
func (c *chain[T, PT]) BatchGetLatest(ctx context.Context, ids []string) ([]T, []string, error) {
	for _, id := range ids {
		if err := models.CheckID(c.entity, id); err != nil {
			return nil, nil, err
		}
	}
	rows, err := c.store.FindLatestVersionsByIDs(ctx, ids)
	if err != nil {
		return nil, nil, err
	}

	found := make(map[string]struct{}, len(rows))
	for i := range rows {
		found[PT(&rows[i]).SCD().ID] = struct{}{}
	}
	var missing []string
	for _, id := range ids {
		if _, ok := found[id]; !ok {
			missing = append(missing, id)
		}
	}
	return rows, missing, nil
}

func (c *chain[T, PT]) CreateEntity(ctx context.Context, draft *T) (*T, error) {
	if draft == nil {
		return nil, e.Invalidf("%s is required", c.entity.Name)
	}
	created, err := c.store.CreateEntity(ctx, draft)
	if err != nil {
		return nil, err
	}
	c.afterWrite(ctx, created)
	return created, nil
}

// CreateNewVersion applies delta on top of the latest version of id.
func (c *chain[T, PT]) CreateNewVersion(ctx context.Context, id string, delta models.Fields) (*T, error) {
	if len(delta) == 0 {
		return nil, e.Invalidf("at least one field must change")
	}
	return c.mutate(ctx, id, func(latest *T) (models.Fields, error) {
		if c.guard != nil {
			if err := c.guard(latest, delta); err != nil {
				return nil, err
			}
		}
		return delta, nil
	})
}

// BatchUpdate writes delta as a new version of each id in turn. A failing
// id does not stop the others: its error is reported under the id. Repeated
// ids are written once.
func (c *chain[T, PT]) BatchUpdate(ctx context.Context, ids []string, delta models.Fields) ([]T, map[string]error, error) {
	if len(ids) == 0 {
		return nil, nil, e.Invalidf("at least one id is required")
	}
	if len(delta) == 0 {
		return nil, nil, e.Invalidf("at least one field must change")
	}

	var updated []T
	failed := map[string]error{}
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}

		next, err := c.CreateNewVersion(ctx, id, delta)
		if err != nil {
			failed[id] = err
			continue
		}
		updated = append(updated, *next)
	}
	if len(failed) > 0 {
		c.logger.Info("batch update partially failed",
			zap.Int("updated", len(updated)),
			zap.Int("failed", len(failed)),
		)
	}
	return updated, failed, nil
}

// mutate reads the latest version, derives a delta from it and writes the
// next version. A lost version race is retried from a fresh read.
func (c *chain[T, PT]) mutate(ctx context.Context, id string, change func(latest *T) (models.Fields, error)) (*T, error) {
	if err := models.CheckID(c.entity, id); err != nil {
		return nil, err
	}

	var written *T
	attempt := func() error {
		latest, err := c.store.FindLatestVersionByID(ctx, id)
		if err != nil {
			return backoff.Permanent(err)
		}
		delta, err := change(latest)
		if err != nil {
			return backoff.Permanent(err)
		}
		next, err := c.store.CreateNewVersion(ctx, latest, delta)
		if errors.Is(err, e.ErrConcurrentModification) {
			c.logger.Info("lost version race",
				zap.String("id", id),
				zap.Int64("version", PT(latest).SCD().Version),
			)
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		written = next
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(c.delay), c.retries), ctx)
	if err := backoff.Retry(attempt, policy); err != nil {
		return nil, err
	}
	c.afterWrite(ctx, written)
	return written, nil
}

// afterWrite evicts what the new version made stale and announces it.
// Cache failures are logged and do not fail the write.
func (c *chain[T, PT]) afterWrite(ctx context.Context, row *T) {
	h := PT(row).SCD()
	evictions := c.ns.evictions(c.entity.Name, h.ID)
	if err := c.cache.Invalidate(ctx, evictions); err != nil {
		c.logger.Warn("cache invalidation failed", zap.String("id", h.ID), zap.Error(err))
	}
	if c.again > 0 {
		id := h.ID
		time.AfterFunc(c.again, func() {
			ctx, cancel := context.WithTimeout(context.Background(), evictTimeout)
			defer cancel()
			if err := c.cache.Invalidate(ctx, evictions); err != nil {
				c.logger.Warn("repeated cache invalidation failed", zap.String("id", id), zap.Error(err))
			}
		})
	}
	c.producer.Produce(events.Event{
		Type:    events.VersionCreated,
		Entity:  c.entity.Name,
		ID:      h.ID,
		UID:     h.UID,
		Version: h.Version,
		At:      h.CreatedAt,
	})
}

// cached serves key from ns or loads and stores it. Errors are never
// cached, and neither are values rejected by keep.
func cached[V any, T any, PT db.Record[T]](
	ctx context.Context,
	c *chain[T, PT],
	ns cache.Namespace,
	key string,
	load func() (V, error),
	keep func(V) bool,
) (V, error) {
	var v V
	found, err := c.cache.Get(ctx, ns, key, &v)
	if err != nil {
		c.logger.Warn("cache read failed", zap.String("namespace", ns.Name), zap.Error(err))
	} else if found {
		return v, nil
	}

	v, err = load()
	if err != nil {
		return v, err
	}
	if keep == nil || keep(v) {
		if err := c.cache.Set(ctx, ns, key, v); err != nil {
			c.logger.Warn("cache write failed", zap.String("namespace", ns.Name), zap.Error(err))
		}
	}
	return v, nil
}

func nonEmpty[T any](rows []T) bool {
	return len(rows) > 0
}

// rawState reads a lifecycle value from a delta.
func rawState(raw any) (string, bool) {
	switch v := raw.(type) {
	case string:
		return v, true
	case models.JobStatus:
		return string(v), true
	case models.TimelogType:
		return string(v), true
	case models.PaymentStatus:
		return string(v), true
	default:
		return "", false
	}
}

func checkContractorID(id string) error {
	if !models.ValidContractorID(id) {
		return e.Invalidf("contractorId must start with %s", models.ContractorPrefix)
	}
	return nil
}

// NewInvalidator returns an event handler that evicts the cache entries a
// version written by another instance made stale. Events of origin are
// skipped: the writer already invalidated them.
func NewInvalidator(c Cache, ttl cache.TTLs, origin string, logger *zap.Logger) events.Handler {
	if ttl == (cache.TTLs{}) {
		ttl = cache.DefaultTTLs
	}
	ns := newNamespaces(ttl)
	logger = logger.Named("invalidator")
	return func(ctx context.Context, ev events.Event) error {
		if ev.Origin == origin {
			return nil
		}
		if _, ok := ns.entity[ev.Entity]; !ok {
			logger.Warn("event for unknown entity", zap.String("entity", ev.Entity))
			return nil
		}
		return c.Invalidate(ctx, ns.evictions(ev.Entity, ev.ID))
	}
}
