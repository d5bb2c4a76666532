package models

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	e "github.com/gartstein/scd/internal/scd/errors"
	"github.com/shopspring/decimal"
)

// Fields maps field names to new values. Names are matched without regard
// to case or underscores, so "contractorId" and "contractor_id" are the same
// field.
type Fields map[string]any

// NormalizeField returns the canonical form used to match field names.
func NormalizeField(name string) string {
	return strings.ToLower(strings.ReplaceAll(name, "_", ""))
}

// Keys returns the field names sorted, for deterministic application.
func (f Fields) Keys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Get looks a field up by its normalized name.
func (f Fields) Get(name string) (any, bool) {
	want := NormalizeField(name)
	for k, v := range f {
		if NormalizeField(k) == want {
			return v, true
		}
	}
	return nil, false
}

func (f Fields) Has(name string) bool {
	_, ok := f.Get(name)
	return ok
}

var headerFields = map[string]struct{}{
	"id":        {},
	"uid":       {},
	"version":   {},
	"createdat": {},
	"updatedat": {},
}

// fieldErrors accumulates conversion failures across one delta.
type fieldErrors struct {
	messages []string
}

func (f *fieldErrors) addf(format string, args ...any) {
	f.messages = append(f.messages, fmt.Sprintf(format, args...))
}

func (f *fieldErrors) add(err error) {
	if err != nil {
		f.messages = append(f.messages, err.Error())
	}
}

func (f *fieldErrors) unknown(field string) {
	if _, ok := headerFields[NormalizeField(field)]; ok {
		f.addf("field %s cannot be changed", field)
		return
	}
	f.addf("unknown field %s", field)
}

func (f *fieldErrors) err() error {
	if len(f.messages) == 0 {
		return nil
	}
	return e.Invalid(f.messages...)
}

func asString(field string, v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case fmt.Stringer:
		return t.String(), nil
	default:
		return "", fmt.Errorf("%s must be a string", field)
	}
}

func asDecimal(field string, v any) (decimal.Decimal, error) {
	var (
		d   decimal.Decimal
		err error
	)
	switch t := v.(type) {
	case decimal.Decimal:
		return t, nil
	case *decimal.Decimal:
		if t == nil {
			return d, fmt.Errorf("%s is required", field)
		}
		return *t, nil
	case string:
		d, err = decimal.NewFromString(t)
	case json.Number:
		d, err = decimal.NewFromString(t.String())
	case float64:
		d = decimal.NewFromFloat(t)
	case float32:
		d = decimal.NewFromFloat32(t)
	case int:
		d = decimal.NewFromInt(int64(t))
	case int32:
		d = decimal.NewFromInt32(t)
	case int64:
		d = decimal.NewFromInt(t)
	default:
		err = fmt.Errorf("unsupported type %T", v)
	}
	if err != nil {
		return d, fmt.Errorf("%s must be a decimal number", field)
	}
	return d, nil
}

func asInt64(field string, v any) (int64, error) {
	switch t := v.(type) {
	case int64:
		return t, nil
	case int:
		return int64(t), nil
	case int32:
		return int64(t), nil
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < math.MaxInt64 {
			return int64(t), nil
		}
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n, nil
		}
	case string:
		if n, err := strconv.ParseInt(t, 10, 64); err == nil {
			return n, nil
		}
	}
	return 0, fmt.Errorf("%s must be an integer", field)
}

// headerColumn resolves the criteria fields every entity shares.
func headerColumn(field string, value any) (string, any, bool, error) {
	switch NormalizeField(field) {
	case "id":
		s, err := asString(field, value)
		return "id", s, true, err
	case "uid":
		s, err := asString(field, value)
		return "uid", s, true, err
	case "version":
		n, err := asInt64(field, value)
		return "version", n, true, err
	}
	return "", nil, false, nil
}

func unknownCriteria(field string) error {
	return e.Invalidf("unknown criteria field %s", field)
}
