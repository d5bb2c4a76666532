package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	e "github.com/gartstein/scd/internal/scd/errors"
	"github.com/gartstein/scd/internal/scd/models"
	"github.com/gartstein/scd/internal/scd/uid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Record is satisfied by the pointer type of a versioned model.
type Record[T any] interface {
	*T
	models.Entity
}

// Store is the version chain of one entity type. Rows are only ever
// inserted; a change is a new row with the next version number.
type Store[T any, PT Record[T]] struct {
	db     *gorm.DB
	entity models.EntityType
	ids    *uid.Generator
	now    func() time.Time
	logger *zap.Logger
}

func NewStore[T any, PT Record[T]](db *gorm.DB, logger *zap.Logger) *Store[T, PT] {
	var zero T
	entity := PT(&zero).EntityType()
	return &Store[T, PT]{
		db:     db,
		entity: entity,
		ids:    uid.NewGenerator(),
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.Named(entity.Name),
	}
}

func (s *Store[T, PT]) Entity() models.EntityType {
	return s.entity
}

// FindLatestVersionByID returns the row holding the highest version of id.
func (s *Store[T, PT]) FindLatestVersionByID(ctx context.Context, id string) (*T, error) {
	var rows []T
	latest := s.db.Model(new(T)).Select("MAX(version)").Where("id = ?", id)
	err := s.db.WithContext(ctx).
		Where("id = ? AND version = (?)", id, latest).
		Limit(2).
		Find(&rows).Error
	if err != nil {
		return nil, translate(err, e.ErrDataIntegrity)
	}

	switch len(rows) {
	case 0:
		return nil, e.NotFoundf("%s %s", s.entity.Name, id)
	case 1:
		return &rows[0], nil
	default:
		s.logger.Error("multiple rows share the latest version",
			zap.String("id", id), zap.Int64("version", PT(&rows[0]).SCD().Version))
		return nil, fmt.Errorf("%w: %s %s has more than one latest version", e.ErrDataIntegrity, s.entity.Name, id)
	}
}

// FindAllVersionsByID returns the chain newest first. An unknown id yields an
// empty slice.
func (s *Store[T, PT]) FindAllVersionsByID(ctx context.Context, id string) ([]T, error) {
	var rows []T
	err := s.db.WithContext(ctx).
		Where("id = ?", id).
		Order("version DESC").
		Find(&rows).Error
	if err != nil {
		return nil, translate(err, e.ErrDataIntegrity)
	}
	return rows, nil
}

// FindByVersion returns one exact version of a chain.
func (s *Store[T, PT]) FindByVersion(ctx context.Context, id string, version int64) (*T, error) {
	var row T
	err := s.db.WithContext(ctx).
		Where("id = ? AND version = ?", id, version).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, e.NotFoundf("%s %s version %d", s.entity.Name, id, version)
	}
	if err != nil {
		return nil, translate(err, e.ErrDataIntegrity)
	}
	return &row, nil
}

func (s *Store[T, PT]) FindByUID(ctx context.Context, u string) (*T, error) {
	var row T
	err := s.db.WithContext(ctx).
		Where("uid = ?", u).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, e.NotFoundf("%s uid %s", s.entity.Name, u)
	}
	if err != nil {
		return nil, translate(err, e.ErrDataIntegrity)
	}
	return &row, nil
}

// CreateEntity starts a new chain from draft. The header of draft is
// replaced: version 1, a fresh uid and the current time. An id is minted
// unless draft carries a valid one.
func (s *Store[T, PT]) CreateEntity(ctx context.Context, draft *T) (*T, error) {
	row := *draft
	h := PT(&row).SCD()
	if h.ID == "" {
		h.ID = s.ids.EntityID(s.entity.Prefix)
	} else if err := models.CheckID(s.entity, h.ID); err != nil {
		return nil, err
	}
	s.stamp(h, 1)

	if err := PT(&row).Validate(); err != nil {
		return nil, err
	}

	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, translate(err, e.ErrDataIntegrity)
	}
	return &row, nil
}

// CreateNewVersion derives the next version from latest with delta applied.
// Exactly one caller can claim a given version number: a caller whose
// latest is no longer the head of the chain gets ErrConcurrentModification.
func (s *Store[T, PT]) CreateNewVersion(ctx context.Context, latest *T, delta models.Fields) (*T, error) {
	base := *PT(latest).SCD()
	next := *latest
	if err := PT(&next).Apply(delta); err != nil {
		return nil, err
	}
	h := PT(&next).SCD()
	s.stamp(h, base.Version+1)

	if err := PT(&next).Validate(); err != nil {
		return nil, err
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var head sql.NullInt64
		if err := tx.Model(new(T)).Select("MAX(version)").Where("id = ?", base.ID).Row().Scan(&head); err != nil {
			return err
		}
		if !head.Valid {
			return e.NotFoundf("%s %s", s.entity.Name, base.ID)
		}
		if head.Int64 != base.Version {
			return fmt.Errorf("%w: %s %s is at version %d, expected %d",
				e.ErrConcurrentModification, s.entity.Name, base.ID, head.Int64, base.Version)
		}
		return translate(tx.Create(&next).Error, e.ErrConcurrentModification)
	})
	if err != nil {
		return nil, err
	}
	return &next, nil
}

// FindLatestVersionsByCriteria returns the latest version of every chain
// whose latest version matches all criteria. A chain whose older versions
// match but whose head does not is excluded.
func (s *Store[T, PT]) FindLatestVersionsByCriteria(ctx context.Context, criteria models.Fields) ([]T, error) {
	scopes := make([]Scope, 0, len(criteria))
	for _, field := range criteria.Keys() {
		scope, err := s.Where(field, OpEq, criteria[field])
		if err != nil {
			return nil, err
		}
		scopes = append(scopes, scope)
	}
	return s.FindLatestVersions(ctx, scopes...)
}

// FindLatestVersionsByIDs returns the latest version of every known id.
func (s *Store[T, PT]) FindLatestVersionsByIDs(ctx context.Context, ids []string) ([]T, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	in, err := s.In("id", toAny(ids)...)
	if err != nil {
		return nil, err
	}
	return s.FindLatestVersions(ctx, in)
}

// FindLatestVersions restricts the head rows of every chain with scopes,
// most recently updated first.
func (s *Store[T, PT]) FindLatestVersions(ctx context.Context, scopes ...Scope) ([]T, error) {
	table := s.entity.Table
	q := s.db.WithContext(ctx).
		Model(new(T)).
		Where(latestOf(table, table))
	for _, scope := range scopes {
		q = q.Scopes(scope)
	}

	var rows []T
	if err := q.Order(table + ".updated_at DESC").Order(table + ".id").Find(&rows).Error; err != nil {
		return nil, translate(err, e.ErrDataIntegrity)
	}
	return rows, nil
}

func (s *Store[T, PT]) stamp(h *models.Header, version int64) {
	now := s.now()
	h.Version = version
	h.UID = s.ids.UID(s.entity.Prefix)
	h.CreatedAt = now
	h.UpdatedAt = now
}

func toAny[V any](values []V) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
