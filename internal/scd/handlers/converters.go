package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	e "github.com/gartstein/scd/internal/scd/errors"
	"github.com/gartstein/scd/internal/scd/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// args are the decoded fields of a request. Numbers are kept as json.Number
// so millisecond timestamps and decimals survive the trip.
type args map[string]any

func decodeArgs(raw []byte) (args, error) {
	a := args{}
	if len(bytes.TrimSpace(raw)) == 0 {
		return a, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&a); err != nil {
		return nil, e.Invalidf("malformed request body: %v", err)
	}
	return a, nil
}

// structToArgs converts a gRPC request message.
func structToArgs(s *structpb.Struct) (args, error) {
	if s == nil {
		return args{}, nil
	}
	raw, err := json.Marshal(s.AsMap())
	if err != nil {
		return nil, e.Invalidf("malformed request: %v", err)
	}
	return decodeArgs(raw)
}

// toStruct converts a response value into a gRPC response message.
func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

func (a args) str(name string) (string, error) {
	raw, ok := a[name]
	if !ok || raw == nil {
		return "", e.Invalidf("%s is required", name)
	}
	s, ok := raw.(string)
	if !ok {
		return "", e.Invalidf("%s must be a string", name)
	}
	return s, nil
}

func (a args) int64(name string) (int64, error) {
	raw, ok := a[name]
	if !ok || raw == nil {
		return 0, e.Invalidf("%s is required", name)
	}
	var n json.Number
	switch v := raw.(type) {
	case json.Number:
		n = v
	case string:
		n = json.Number(v)
	default:
		return 0, e.Invalidf("%s must be an integer", name)
	}
	i, err := n.Int64()
	if err != nil {
		f, ferr := n.Float64()
		if ferr != nil || f != float64(int64(f)) {
			return 0, e.Invalidf("%s must be an integer", name)
		}
		i = int64(f)
	}
	return i, nil
}

func (a args) decimal(name string) (decimal.Decimal, error) {
	raw, ok := a[name]
	if !ok || raw == nil {
		return decimal.Zero, e.Invalidf("%s is required", name)
	}
	var s string
	switch v := raw.(type) {
	case json.Number:
		s = v.String()
	case string:
		s = v
	default:
		return decimal.Zero, e.Invalidf("%s must be a decimal", name)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, e.Invalidf("%s must be a decimal", name)
	}
	return d, nil
}

func (a args) strings(name string) ([]string, error) {
	raw, ok := a[name].([]any)
	if !ok {
		return nil, e.Invalidf("%s must be a list of strings", name)
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		s, ok := item.(string)
		if !ok {
			return nil, e.Invalidf("%s must be a list of strings", name)
		}
		out = append(out, s)
	}
	return out, nil
}

func (a args) fields(name string) (models.Fields, error) {
	raw, ok := a[name].(map[string]any)
	if !ok {
		return nil, e.Invalidf("%s must be an object", name)
	}
	return models.Fields(raw), nil
}

// decode re-reads one argument into dst, an entity or other JSON target.
func (a args) decode(name string, dst any) error {
	raw, ok := a[name]
	if !ok || raw == nil {
		return e.Invalidf("%s is required", name)
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return e.Invalidf("%s is malformed: %v", name, err)
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return e.Invalidf("%s is malformed: %v", name, err)
	}
	return nil
}

// items wraps a list response. An empty list is encoded as [] not null.
func items[T any](rows []T) map[string]any {
	if rows == nil {
		rows = []T{}
	}
	return map[string]any{"items": rows}
}

// batchError is the per-id failure of a batch write.
type batchError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// batchErrors keeps the detail of internal failures out of the response.
func batchErrors(failed map[string]error) map[string]batchError {
	out := make(map[string]batchError, len(failed))
	for id, err := range failed {
		kind := e.KindOf(err)
		msg := err.Error()
		if kind == e.KindInternal || kind == e.KindDataIntegrity {
			msg = "internal error"
		}
		out[id] = batchError{Kind: string(kind), Message: msg}
	}
	return out
}

// mapServiceError maps domain errors to gRPC statuses. The error kind is
// attached as an ErrorInfo detail.
func (h *Handler) mapServiceError(err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	}

	kind := e.KindOf(err)
	var code codes.Code
	msg := err.Error()
	switch kind {
	case e.KindNotFound:
		code = codes.NotFound
	case e.KindInvalidTransition:
		code = codes.FailedPrecondition
	case e.KindValidation:
		code = codes.InvalidArgument
	case e.KindConcurrentModification:
		code = codes.Aborted
	case e.KindResourceExhausted:
		code = codes.ResourceExhausted
	case e.KindDataIntegrity:
		id := uuid.NewString()
		h.logger.Error("Data integrity violation", zap.String("correlation_id", id), zap.Error(err))
		code, msg = codes.Internal, fmt.Sprintf("data integrity violation (correlation id %s)", id)
	default:
		id := uuid.NewString()
		h.logger.Error("Internal server error", zap.String("correlation_id", id), zap.Error(err))
		code, msg = codes.Internal, fmt.Sprintf("internal server error (correlation id %s)", id)
	}

	st := status.New(code, msg)
	if detailed, derr := st.WithDetails(&errdetails.ErrorInfo{Reason: string(kind), Domain: "scd"}); derr == nil {
		st = detailed
	}
	return st.Err()
}

// kindOf reads the error kind back from a status produced by mapServiceError.
func kindOf(st *status.Status) string {
	for _, d := range st.Details() {
		if info, ok := d.(*errdetails.ErrorInfo); ok {
			return info.Reason
		}
	}
	return ""
}
