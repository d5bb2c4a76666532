// Package validation provides composable predicates over field values and an
// accumulator that reports every failing check of a value in one pass.
//
// The zero value of a type is its absent value: Required and NotEmpty reject
// it, while a negated emptiness check accepts it.
package validation

import (
	"regexp"
	"strings"
	"unicode"

	e "github.com/gartstein/scd/internal/scd/errors"
	"github.com/shopspring/decimal"
)

// Validator reports whether a value is acceptable.
type Validator[T any] func(T) bool

// And accepts values both validators accept.
func (v Validator[T]) And(other Validator[T]) Validator[T] {
	return func(value T) bool { return v(value) && other(value) }
}

// Or accepts values either validator accepts.
func (v Validator[T]) Or(other Validator[T]) Validator[T] {
	return func(value T) bool { return v(value) || other(value) }
}

// Not inverts v.
func (v Validator[T]) Not() Validator[T] {
	return func(value T) bool { return !v(value) }
}

// Valid is a convenience for calling v.
func (v Validator[T]) Valid(value T) bool {
	return v(value)
}

// All combines validators with And. An empty list accepts everything.
func All[T any](vs ...Validator[T]) Validator[T] {
	return func(value T) bool {
		for _, v := range vs {
			if !v(value) {
				return false
			}
		}
		return true
	}
}

// Required rejects the zero value.
func Required[T comparable]() Validator[T] {
	return func(value T) bool {
		var zero T
		return value != zero
	}
}

// OneOf accepts only the listed values.
func OneOf[T comparable](allowed ...T) Validator[T] {
	set := make(map[T]struct{}, len(allowed))
	for _, a := range allowed {
		set[a] = struct{}{}
	}
	return func(value T) bool {
		_, ok := set[value]
		return ok
	}
}

// Strings.

var (
	NotEmpty     Validator[string] = func(s string) bool { return s != "" }
	NotBlank     Validator[string] = func(s string) bool { return strings.TrimSpace(s) != "" }
	Alphanumeric                   = Matches(`[a-zA-Z0-9]*`)

	ContainsUppercase Validator[string] = func(s string) bool { return strings.IndexFunc(s, unicode.IsUpper) >= 0 }
	ContainsLowercase Validator[string] = func(s string) bool { return strings.IndexFunc(s, unicode.IsLower) >= 0 }
	ContainsDigit     Validator[string] = func(s string) bool { return strings.IndexFunc(s, unicode.IsDigit) >= 0 }
)

// MinLength counts runes.
func MinLength(n int) Validator[string] {
	return func(s string) bool { return len([]rune(s)) >= n }
}

// MaxLength counts runes.
func MaxLength(n int) Validator[string] {
	return func(s string) bool { return len([]rune(s)) <= n }
}

func LengthBetween(min, max int) Validator[string] {
	return MinLength(min).And(MaxLength(max))
}

// Matches accepts values the pattern matches in full. It panics if pattern
// does not compile.
func Matches(pattern string) Validator[string] {
	re := regexp.MustCompile(`^(?:` + pattern + `)$`)
	return func(s string) bool { return re.MatchString(s) }
}

func ContainsAny(chars string) Validator[string] {
	return func(s string) bool { return strings.ContainsAny(s, chars) }
}

func HasPrefix(prefix string) Validator[string] {
	return func(s string) bool { return strings.HasPrefix(s, prefix) }
}

func Contains(substr string) Validator[string] {
	return func(s string) bool { return strings.Contains(s, substr) }
}

// Integers.

type Integer interface {
	~int | ~int32 | ~int64
}

func Positive[T Integer]() Validator[T] {
	return func(v T) bool { return v > 0 }
}

func NonNegative[T Integer]() Validator[T] {
	return func(v T) bool { return v >= 0 }
}

func GreaterThan[T Integer](min T) Validator[T] {
	return func(v T) bool { return v > min }
}

func LessThan[T Integer](max T) Validator[T] {
	return func(v T) bool { return v < max }
}

// Between is exclusive on both ends.
func Between[T Integer](min, max T) Validator[T] {
	return GreaterThan(min).And(LessThan(max))
}

// Decimals.

var (
	DecimalPositive    Validator[decimal.Decimal] = func(d decimal.Decimal) bool { return d.IsPositive() }
	DecimalNonNegative Validator[decimal.Decimal] = func(d decimal.Decimal) bool { return !d.IsNegative() }
)

func DecimalGreaterThan(min decimal.Decimal) Validator[decimal.Decimal] {
	return func(d decimal.Decimal) bool { return d.GreaterThan(min) }
}

func DecimalLessThan(max decimal.Decimal) Validator[decimal.Decimal] {
	return func(d decimal.Decimal) bool { return d.LessThan(max) }
}

func DecimalBetween(min, max decimal.Decimal) Validator[decimal.Decimal] {
	return DecimalGreaterThan(min).And(DecimalLessThan(max))
}

func DecimalEqual(target decimal.Decimal) Validator[decimal.Decimal] {
	return func(d decimal.Decimal) bool { return d.Equal(target) }
}

// MaxScale accepts values with at most n significant fractional digits.
func MaxScale(n int32) Validator[decimal.Decimal] {
	return func(d decimal.Decimal) bool { return d.Equal(d.Round(n)) }
}

// MaxPrecision accepts values with at most n significant digits, ignoring
// trailing zeros.
func MaxPrecision(n int) Validator[decimal.Decimal] {
	return func(d decimal.Decimal) bool {
		digits := strings.TrimRight(d.Abs().Coefficient().String(), "0")
		if digits == "" {
			digits = "0"
		}
		return len(digits) <= n
	}
}

// Result runs one value through a sequence of checks and keeps every failure.
type Result[T any] struct {
	value  T
	errors []string
}

// Check starts a Result for value.
func Check[T any](value T) *Result[T] {
	return &Result[T]{value: value}
}

// Validate records message when v rejects the value. Later checks still run.
func (r *Result[T]) Validate(v Validator[T], message string) *Result[T] {
	if !v(r.value) {
		r.errors = append(r.errors, message)
	}
	return r
}

func (r *Result[T]) Valid() bool {
	return len(r.errors) == 0
}

// Errors returns the failed messages in the order the checks were added.
func (r *Result[T]) Errors() []string {
	out := make([]string, len(r.errors))
	copy(out, r.errors)
	return out
}

func (r *Result[T]) Value() T {
	return r.value
}

// Err returns a *errors.ValidationError holding every failure, or nil.
func (r *Result[T]) Err() error {
	if r.Valid() {
		return nil
	}
	return e.Invalid(r.Errors()...)
}
