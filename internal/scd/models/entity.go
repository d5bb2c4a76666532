// Package models defines the versioned entities (Job, Timelog and
// PaymentLineItem), the lifecycle each of them follows and the field delta
// type used to derive one version from another.
package models

import (
	"time"
)

// Header is the version-chain bookkeeping shared by every entity.
type Header struct {
	// UID identifies one version and is the storage primary key.
	UID string `gorm:"primaryKey;size:64" json:"uid"`
	// ID is shared by every version of the chain.
	ID string `gorm:"size:64;not null;index:,unique,composite:id_version,priority:1" json:"id"`
	// Version starts at 1 and grows by exactly one per change.
	Version   int64     `gorm:"not null;index:,unique,composite:id_version,priority:2" json:"version"`
	CreatedAt time.Time `gorm:"not null" json:"createdAt"`
	UpdatedAt time.Time `gorm:"not null;index" json:"updatedAt"`
}

// SCD exposes the header of any entity embedding it.
func (h *Header) SCD() *Header {
	return h
}

// EntityType describes one entity type to the generic layers.
type EntityType struct {
	// Name is the cache and event namespace.
	Name string
	// Prefix starts every id and uid of the type.
	Prefix string
	Table  string
}

var (
	JobEntity             = EntityType{Name: "job", Prefix: "job", Table: "jobs"}
	TimelogEntity         = EntityType{Name: "timelog", Prefix: "tl", Table: "timelogs"}
	PaymentLineItemEntity = EntityType{Name: "payment_line_item", Prefix: "pli", Table: "payment_line_items"}
)

// IDPrefix is the expected start of an entity id, e.g. "job_".
func (t EntityType) IDPrefix() string {
	return t.Prefix + "_"
}

// UIDPrefix is the expected start of a version uid, e.g. "job_uid_".
func (t EntityType) UIDPrefix() string {
	return t.Prefix + "_uid_"
}

// Entity is implemented by the pointer type of every versioned model.
type Entity interface {
	SCD() *Header
	EntityType() EntityType
	// Apply overwrites payload fields from a delta. Header fields are rejected.
	Apply(Fields) error
	// Column resolves a criteria field to its column and typed value.
	Column(field string, value any) (string, any, error)
	// Validate checks the whole entity and reports every violation.
	Validate() error
}

// Types lists every entity type, in migration order.
func Types() []EntityType {
	return []EntityType{JobEntity, TimelogEntity, PaymentLineItemEntity}
}

// All returns one zero value per entity type, for schema migration.
func All() []any {
	return []any{&Job{}, &Timelog{}, &PaymentLineItem{}}
}
