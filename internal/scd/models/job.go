package models

import (
	"fmt"

	v "github.com/gartstein/scd/internal/scd/validation"
	"github.com/shopspring/decimal"
)

// Job is one version of a contract between a company and a contractor.
type Job struct {
	Header
	Status       JobStatus       `gorm:"size:16;not null;index" json:"status"`
	Rate         decimal.Decimal `gorm:"type:numeric(10,2);not null" json:"rate"`
	Title        string          `gorm:"size:100;not null" json:"title"`
	CompanyID    string          `gorm:"size:64;not null;index" json:"companyId"`
	ContractorID string          `gorm:"size:64;not null;index" json:"contractorId"`
}

func (Job) TableName() string { return JobEntity.Table }

func (j *Job) EntityType() EntityType { return JobEntity }

func (j *Job) Apply(f Fields) error {
	errs := &fieldErrors{}
	for _, key := range f.Keys() {
		raw := f[key]
		switch NormalizeField(key) {
		case "status":
			s, err := jobStatus(key, raw)
			errs.add(err)
			if err == nil {
				j.Status = s
			}
		case "rate":
			d, err := asDecimal(key, raw)
			errs.add(err)
			if err == nil {
				j.Rate = d
			}
		case "title":
			s, err := asString(key, raw)
			errs.add(err)
			if err == nil {
				j.Title = s
			}
		case "companyid":
			s, err := asString(key, raw)
			errs.add(err)
			if err == nil {
				j.CompanyID = s
			}
		case "contractorid":
			s, err := asString(key, raw)
			errs.add(err)
			if err == nil {
				j.ContractorID = s
			}
		default:
			errs.unknown(key)
		}
	}
	return errs.err()
}

func (j *Job) Column(field string, value any) (string, any, error) {
	if col, val, ok, err := headerColumn(field, value); ok {
		return col, val, err
	}
	switch NormalizeField(field) {
	case "status":
		s, err := jobStatus(field, value)
		return "status", string(s), err
	case "rate":
		d, err := asDecimal(field, value)
		return "rate", d, err
	case "title":
		s, err := asString(field, value)
		return "title", s, err
	case "companyid":
		s, err := asString(field, value)
		return "company_id", s, err
	case "contractorid":
		s, err := asString(field, value)
		return "contractor_id", s, err
	}
	return "", nil, unknownCriteria(field)
}

func (j *Job) Validate() error {
	r := &report{}
	j.Header.validate(JobEntity, r)
	_, known := ParseJobStatus(string(j.Status))
	r.check(known, fmt.Sprintf("invalid job status %q", j.Status))
	collect(r, v.Check(j.Rate).
		Validate(v.DecimalPositive, "rate must be positive").
		Validate(v.MaxScale(RateScale), "rate must have at most 2 decimal places").
		Validate(v.DecimalLessThan(MaxRate), "rate must be below 1000.00"))
	collect(r, v.Check(j.Title).
		Validate(v.NotBlank, "title is required").
		Validate(v.LengthBetween(MinTitleLength, MaxTitleLength), "title must be between 3 and 100 characters"))
	collect(r, v.Check(j.CompanyID).Validate(ValidCompanyID, "companyId must start with "+CompanyPrefix))
	collect(r, v.Check(j.ContractorID).Validate(ValidContractorID, "contractorId must start with "+ContractorPrefix))
	return r.err()
}

func jobStatus(field string, raw any) (JobStatus, error) {
	if s, ok := raw.(JobStatus); ok {
		raw = string(s)
	}
	str, err := asString(field, raw)
	if err != nil {
		return "", err
	}
	s, ok := ParseJobStatus(str)
	if !ok {
		return "", fmt.Errorf("invalid job status %q", str)
	}
	return s, nil
}
