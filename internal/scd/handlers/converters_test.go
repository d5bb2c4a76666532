package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	e "github.com/gartstein/scd/internal/scd/errors"
	"github.com/gartstein/scd/internal/scd/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

func TestStructToArgs(t *testing.T) {
	in, err := structpb.NewStruct(map[string]any{
		"id":       "tl_1",
		"duration": float64(5400000),
		"fields": map[string]any{
			"timeStart": float64(1700000000000),
		},
		"ids": []any{"job_1", "job_2"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	a, err := structToArgs(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	duration, err := a.int64("duration")
	if err != nil || duration != 5400000 {
		t.Errorf("expected duration 5400000, got %d (%v)", duration, err)
	}
	fields, err := a.fields("fields")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var tl models.Timelog
	if err := tl.Apply(models.Fields{"timeStart": fields["timeStart"]}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tl.TimeStart != 1700000000000 {
		t.Errorf("expected timeStart to survive the struct round trip, got %d", tl.TimeStart)
	}
	ids, err := a.strings("ids")
	if err != nil || len(ids) != 2 || ids[1] != "job_2" {
		t.Errorf("unexpected ids %v (%v)", ids, err)
	}

	empty, err := structToArgs(nil)
	if err != nil || len(empty) != 0 {
		t.Errorf("expected empty args for a nil message, got %v (%v)", empty, err)
	}
}

func TestArgs(t *testing.T) {
	a, err := decodeArgs([]byte(`{"rate":"45.50","amount":12.25,"version":"3","ratio":1.5,"title":7,"job":{"title":"Backend","rate":"50.00"}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rate, err := a.decimal("rate")
	if err != nil || !rate.Equal(decimal.RequireFromString("45.5")) {
		t.Errorf("expected rate 45.5, got %s (%v)", rate, err)
	}
	amount, err := a.decimal("amount")
	if err != nil || !amount.Equal(decimal.RequireFromString("12.25")) {
		t.Errorf("expected amount 12.25, got %s (%v)", amount, err)
	}
	version, err := a.int64("version")
	if err != nil || version != 3 {
		t.Errorf("expected version 3, got %d (%v)", version, err)
	}

	failures := map[string]error{
		"fractional integer": func() error { _, err := a.int64("ratio"); return err }(),
		"number as string":   func() error { _, err := a.str("title"); return err }(),
		"missing string":     func() error { _, err := a.str("id"); return err }(),
		"missing decimal":    func() error { _, err := a.decimal("minRate"); return err }(),
		"missing fields":     func() error { _, err := a.fields("fields"); return err }(),
		"missing ids":        func() error { _, err := a.strings("ids"); return err }(),
		"missing entity":     a.decode("timelog", &models.Timelog{}),
	}
	for name, err := range failures {
		if !errors.Is(err, e.ErrValidation) {
			t.Errorf("%s: expected a validation error, got %v", name, err)
		}
	}

	var job models.Job
	if err := a.decode("job", &job); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.Title != "Backend" || !job.Rate.Equal(decimal.NewFromInt(50)) {
		t.Errorf("unexpected job %+v", job)
	}

	if _, err := decodeArgs([]byte(`{"id":`)); !errors.Is(err, e.ErrValidation) {
		t.Errorf("expected malformed body to be a validation error, got %v", err)
	}
}

func TestToStruct(t *testing.T) {
	s, err := toStruct(items([]models.Job(nil)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	list := s.GetFields()["items"].GetListValue()
	if list == nil || len(list.GetValues()) != 0 {
		t.Errorf("expected an empty list, got %v", s.GetFields()["items"])
	}

	s, err = toStruct(&models.Job{Header: models.Header{ID: "job_1", Version: 2}, Rate: decimal.RequireFromString("50.00")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := s.GetFields()["id"].GetStringValue(); got != "job_1" {
		t.Errorf("expected id job_1, got %q", got)
	}
	if got := s.GetFields()["version"].GetNumberValue(); got != 2 {
		t.Errorf("expected version 2, got %v", got)
	}
}

func TestMapServiceError(t *testing.T) {
	h := &Handler{logger: zaptest.NewLogger(t)}

	tests := []struct {
		name string
		err  error
		code codes.Code
		kind e.Kind
	}{
		{"not found", e.NotFoundf("job job_1"), codes.NotFound, e.KindNotFound},
		{"validation", e.Invalid("rate must be positive", "title must be between 3 and 100 characters"), codes.InvalidArgument, e.KindValidation},
		{"transition", &e.TransitionError{From: "paid", To: "paid"}, codes.FailedPrecondition, e.KindInvalidTransition},
		{"concurrent", fmt.Errorf("write job_1: %w", e.ErrConcurrentModification), codes.Aborted, e.KindConcurrentModification},
		{"exhausted", e.ErrResourceExhausted, codes.ResourceExhausted, e.KindResourceExhausted},
		{"integrity", e.ErrDataIntegrity, codes.Internal, e.KindDataIntegrity},
		{"unknown", errors.New("connection reset by peer"), codes.Internal, e.KindInternal},
		{"deadline", context.DeadlineExceeded, codes.DeadlineExceeded, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, _ := status.FromError(h.mapServiceError(tt.err))
			if st.Code() != tt.code {
				t.Errorf("expected code %v, got %v", tt.code, st.Code())
			}
			if got := kindOf(st); got != string(tt.kind) {
				t.Errorf("expected kind %q, got %q", tt.kind, got)
			}
		})
	}

	t.Run("internal details stay private", func(t *testing.T) {
		st, _ := status.FromError(h.mapServiceError(errors.New("pq: password authentication failed")))
		if strings.Contains(st.Message(), "password") {
			t.Errorf("internal detail leaked: %q", st.Message())
		}
		if !strings.Contains(st.Message(), "correlation id") {
			t.Errorf("expected a correlation id, got %q", st.Message())
		}
	})

	t.Run("validation messages are kept", func(t *testing.T) {
		st, _ := status.FromError(h.mapServiceError(e.Invalid("rate must be positive", "title must be between 3 and 100 characters")))
		if !strings.Contains(st.Message(), "rate must be positive; title must be between 3 and 100 characters") {
			t.Errorf("unexpected message %q", st.Message())
		}
	})

	t.Run("statuses pass through", func(t *testing.T) {
		in := status.Error(codes.Unauthenticated, "token expired")
		if got := h.mapServiceError(in); status.Code(got) != codes.Unauthenticated {
			t.Errorf("expected Unauthenticated, got %v", status.Code(got))
		}
	})
}
