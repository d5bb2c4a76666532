package models

import (
	"fmt"

	v "github.com/gartstein/scd/internal/scd/validation"
	"github.com/shopspring/decimal"
)

// PaymentLineItem is one version of the amount owed for a timelog snapshot.
type PaymentLineItem struct {
	Header
	JobUID     string          `gorm:"size:64;not null;index" json:"jobUid"`
	TimelogUID string          `gorm:"size:64;not null;index" json:"timelogUid"`
	Amount     decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"amount"`
	Status     PaymentStatus   `gorm:"size:16;not null;index" json:"status"`
}

func (PaymentLineItem) TableName() string { return PaymentLineItemEntity.Table }

func (p *PaymentLineItem) EntityType() EntityType { return PaymentLineItemEntity }

func (p *PaymentLineItem) Apply(f Fields) error {
	errs := &fieldErrors{}
	for _, key := range f.Keys() {
		raw := f[key]
		switch NormalizeField(key) {
		case "jobuid":
			s, err := asString(key, raw)
			errs.add(err)
			if err == nil {
				p.JobUID = s
			}
		case "timeloguid":
			s, err := asString(key, raw)
			errs.add(err)
			if err == nil {
				p.TimelogUID = s
			}
		case "amount":
			d, err := asDecimal(key, raw)
			errs.add(err)
			if err == nil {
				p.Amount = d
			}
		case "status":
			s, err := paymentStatus(key, raw)
			errs.add(err)
			if err == nil {
				p.Status = s
			}
		default:
			errs.unknown(key)
		}
	}
	return errs.err()
}

func (p *PaymentLineItem) Column(field string, value any) (string, any, error) {
	if col, val, ok, err := headerColumn(field, value); ok {
		return col, val, err
	}
	switch NormalizeField(field) {
	case "jobuid":
		s, err := asString(field, value)
		return "job_uid", s, err
	case "timeloguid":
		s, err := asString(field, value)
		return "timelog_uid", s, err
	case "amount":
		d, err := asDecimal(field, value)
		return "amount", d, err
	case "status":
		s, err := paymentStatus(field, value)
		return "status", string(s), err
	}
	return "", nil, unknownCriteria(field)
}

func (p *PaymentLineItem) Validate() error {
	r := &report{}
	p.Header.validate(PaymentLineItemEntity, r)
	_, known := ParsePaymentStatus(string(p.Status))
	r.check(known, fmt.Sprintf("invalid payment status %q", p.Status))
	collect(r, v.Check(p.Amount).
		Validate(v.DecimalPositive, "amount must be positive").
		Validate(v.MaxScale(AmountScale), "amount must have at most 2 decimal places"))
	collect(r, v.Check(p.JobUID).Validate(ValidUID(JobEntity), "jobUid must start with "+JobEntity.UIDPrefix()))
	collect(r, v.Check(p.TimelogUID).Validate(ValidUID(TimelogEntity), "timelogUid must start with "+TimelogEntity.UIDPrefix()))
	return r.err()
}

func paymentStatus(field string, raw any) (PaymentStatus, error) {
	if s, ok := raw.(PaymentStatus); ok {
		raw = string(s)
	}
	str, err := asString(field, raw)
	if err != nil {
		return "", err
	}
	s, ok := ParsePaymentStatus(str)
	if !ok {
		return "", fmt.Errorf("invalid payment status %q", str)
	}
	return s, nil
}
