package models

import (
	"fmt"

	v "github.com/gartstein/scd/internal/scd/validation"
)

// Timelog is one version of a block of work logged against a job snapshot.
// Times are unix milliseconds and Duration is in milliseconds.
type Timelog struct {
	Header
	Duration  int64       `gorm:"not null" json:"duration"`
	TimeStart int64       `gorm:"not null;index" json:"timeStart"`
	TimeEnd   int64       `gorm:"not null;index" json:"timeEnd"`
	Type      TimelogType `gorm:"size:16;not null" json:"type"`
	JobUID    string      `gorm:"size:64;not null;index" json:"jobUid"`
}

func (Timelog) TableName() string { return TimelogEntity.Table }

func (t *Timelog) EntityType() EntityType { return TimelogEntity }

func (t *Timelog) Apply(f Fields) error {
	errs := &fieldErrors{}
	for _, key := range f.Keys() {
		raw := f[key]
		switch NormalizeField(key) {
		case "duration":
			n, err := asInt64(key, raw)
			errs.add(err)
			if err == nil {
				t.Duration = n
			}
		case "timestart":
			n, err := asInt64(key, raw)
			errs.add(err)
			if err == nil {
				t.TimeStart = n
			}
		case "timeend":
			n, err := asInt64(key, raw)
			errs.add(err)
			if err == nil {
				t.TimeEnd = n
			}
		case "type":
			typ, err := timelogType(key, raw)
			errs.add(err)
			if err == nil {
				t.Type = typ
			}
		case "jobuid":
			s, err := asString(key, raw)
			errs.add(err)
			if err == nil {
				t.JobUID = s
			}
		default:
			errs.unknown(key)
		}
	}
	return errs.err()
}

func (t *Timelog) Column(field string, value any) (string, any, error) {
	if col, val, ok, err := headerColumn(field, value); ok {
		return col, val, err
	}
	switch NormalizeField(field) {
	case "duration":
		n, err := asInt64(field, value)
		return "duration", n, err
	case "timestart":
		n, err := asInt64(field, value)
		return "time_start", n, err
	case "timeend":
		n, err := asInt64(field, value)
		return "time_end", n, err
	case "type":
		typ, err := timelogType(field, value)
		return "type", string(typ), err
	case "jobuid":
		s, err := asString(field, value)
		return "job_uid", s, err
	}
	return "", nil, unknownCriteria(field)
}

func (t *Timelog) Validate() error {
	r := &report{}
	t.Header.validate(TimelogEntity, r)
	_, known := ParseTimelogType(string(t.Type))
	r.check(known, fmt.Sprintf("invalid timelog type %q", t.Type))
	collect(r, v.Check(t.Duration).Validate(ValidDuration, "duration must be between 0 and 24 hours"))
	collect(r, v.Check(t.TimeStart).Validate(ValidTimestamp, "timeStart must be positive"))
	collect(r, v.Check(t.TimeEnd).Validate(ValidTimestamp, "timeEnd must be positive"))
	r.check(ValidTimeRange(t.TimeStart, t.TimeEnd, t.Duration),
		"timeStart must precede timeEnd and timeEnd - timeStart must equal duration")
	collect(r, v.Check(t.JobUID).Validate(ValidUID(JobEntity), "jobUid must start with "+JobEntity.UIDPrefix()))
	return r.err()
}

func timelogType(field string, raw any) (TimelogType, error) {
	if s, ok := raw.(TimelogType); ok {
		raw = string(s)
	}
	str, err := asString(field, raw)
	if err != nil {
		return "", err
	}
	t, ok := ParseTimelogType(str)
	if !ok {
		return "", fmt.Errorf("invalid timelog type %q", str)
	}
	return t, nil
}
