package models

import (
	"time"

	e "github.com/gartstein/scd/internal/scd/errors"
	"github.com/gartstein/scd/internal/scd/uid"
	v "github.com/gartstein/scd/internal/scd/validation"
	"github.com/shopspring/decimal"
)

const (
	CompanyPrefix    = "comp_"
	ContractorPrefix = "cont_"

	MinTitleLength = 3
	MaxTitleLength = 100

	RateScale   = 2
	AmountScale = 2
)

// MaxRate is the exclusive upper bound of a job rate.
var MaxRate = decimal.RequireFromString("1000.00")

// MaxDuration is the exclusive upper bound of a timelog, in milliseconds.
var MaxDuration = (24 * time.Hour).Milliseconds()

// ValidID accepts non-empty ids carrying the type prefix.
func ValidID(t EntityType) v.Validator[string] {
	return v.NotBlank.And(v.HasPrefix(t.IDPrefix())).And(v.Contains(uid.Marker).Not())
}

// ValidUID accepts uids of the given type.
func ValidUID(t EntityType) v.Validator[string] {
	return v.NotBlank.And(v.HasPrefix(t.UIDPrefix()))
}

var (
	ValidCompanyID    = v.NotBlank.And(v.HasPrefix(CompanyPrefix))
	ValidContractorID = v.NotBlank.And(v.HasPrefix(ContractorPrefix))
	ValidTitle        = v.NotBlank.And(v.LengthBetween(MinTitleLength, MaxTitleLength))

	ValidRate   = v.DecimalPositive.And(v.MaxScale(RateScale)).And(v.DecimalLessThan(MaxRate))
	ValidAmount = v.DecimalPositive.And(v.MaxScale(AmountScale))

	ValidDuration  = v.Between[int64](0, MaxDuration)
	ValidTimestamp = v.Positive[int64]()
)

// CheckID validates an id before it reaches the store.
func CheckID(t EntityType, id string) error {
	return v.Check(id).Validate(ValidID(t), "invalid "+t.Name+" id: "+id).Err()
}

// CheckUID validates a version uid before it reaches the store.
func CheckUID(t EntityType, u string) error {
	return v.Check(u).Validate(ValidUID(t), "invalid "+t.Name+" uid: "+u).Err()
}

// ValidTimeRange reports whether start < end and end - start equals duration.
func ValidTimeRange(start, end, duration int64) bool {
	return start < end && end-start == duration
}

// report merges the failures of several Results into one error.
type report struct {
	messages []string
}

func collect[T any](r *report, res *v.Result[T]) {
	r.messages = append(r.messages, res.Errors()...)
}

func (r *report) check(ok bool, message string) {
	if !ok {
		r.messages = append(r.messages, message)
	}
}

func (r *report) err() error {
	if len(r.messages) == 0 {
		return nil
	}
	return e.Invalid(r.messages...)
}

func (h *Header) validate(t EntityType, r *report) {
	collect(r, v.Check(h.ID).Validate(ValidID(t), "id must start with "+t.IDPrefix()))
	collect(r, v.Check(h.UID).Validate(ValidUID(t), "uid must start with "+t.UIDPrefix()))
	collect(r, v.Check(h.Version).Validate(v.Positive[int64](), "version must be at least 1"))
}
