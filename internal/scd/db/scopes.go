package db

import (
	"errors"
	"fmt"

	e "github.com/gartstein/scd/internal/scd/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Scope narrows a latest-version query.
type Scope func(*gorm.DB) *gorm.DB

// Op is a comparison usable in a Scope.
type Op string

const (
	OpEq  Op = "="
	OpGt  Op = ">"
	OpGte Op = ">="
	OpLt  Op = "<"
	OpLte Op = "<="
)

// Where builds a comparison on field. The field is resolved through the
// entity's column whitelist and the value converted to the column type.
func (s *Store[T, PT]) Where(field string, op Op, value any) (Scope, error) {
	col, val, err := s.column(field, value)
	if err != nil {
		return nil, err
	}

	column := clause.Column{Table: clause.CurrentTable, Name: col}
	var expr clause.Expression
	switch op {
	case OpEq:
		expr = clause.Eq{Column: column, Value: val}
	case OpGt:
		expr = clause.Gt{Column: column, Value: val}
	case OpGte:
		expr = clause.Gte{Column: column, Value: val}
	case OpLt:
		expr = clause.Lt{Column: column, Value: val}
	case OpLte:
		expr = clause.Lte{Column: column, Value: val}
	default:
		return nil, e.Invalidf("unsupported operator %q", op)
	}

	return func(db *gorm.DB) *gorm.DB {
		return db.Where(expr)
	}, nil
}

// In matches field against any of values.
func (s *Store[T, PT]) In(field string, values ...any) (Scope, error) {
	converted := make([]any, 0, len(values))
	var col string
	for _, v := range values {
		c, val, err := s.column(field, v)
		if err != nil {
			return nil, err
		}
		col = c
		converted = append(converted, val)
	}
	if len(converted) == 0 {
		return func(db *gorm.DB) *gorm.DB {
			return db.Where("1 = 0")
		}, nil
	}

	column := clause.Column{Table: clause.CurrentTable, Name: col}
	return func(db *gorm.DB) *gorm.DB {
		return db.Where(clause.IN{Column: column, Values: converted})
	}, nil
}

// Within matches rows whose [startField, endField] interval lies inside
// [start, end].
func (s *Store[T, PT]) Within(startField, endField string, start, end any) (Scope, error) {
	from, err := s.Where(startField, OpGte, start)
	if err != nil {
		return nil, err
	}
	to, err := s.Where(endField, OpLte, end)
	if err != nil {
		return nil, err
	}
	return func(db *gorm.DB) *gorm.DB {
		return to(from(db))
	}, nil
}

// JobUIDsOfContractor matches rows referencing the latest version of a job
// held by contractorID.
func JobUIDsOfContractor(contractorID string) Scope {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("job_uid IN (SELECT j.uid FROM jobs j WHERE j.contractor_id = ? AND "+latestOf("jobs", "j")+")", contractorID)
	}
}

// TimelogUIDsWithin matches rows referencing the latest version of a
// timelog lying inside [start, end].
func TimelogUIDsWithin(start, end int64) Scope {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("timelog_uid IN (SELECT t.uid FROM timelogs t WHERE t.time_start >= ? AND t.time_end <= ? AND "+latestOf("timelogs", "t")+")", start, end)
	}
}

// latestOf restricts alias of table to the head row of each chain.
func latestOf(table, alias string) string {
	return fmt.Sprintf("%s.version = (SELECT MAX(v.version) FROM %s v WHERE v.id = %s.id)", alias, table, alias)
}

func (s *Store[T, PT]) column(field string, value any) (string, any, error) {
	var probe T
	col, val, err := PT(&probe).Column(field, value)
	if err != nil && !errors.Is(err, e.ErrValidation) {
		err = e.Invalid(err.Error())
	}
	return col, val, err
}
