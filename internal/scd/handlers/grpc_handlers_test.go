package handlers

import (
	"context"
	"errors"
	"net"
	"testing"

	e "github.com/gartstein/scd/internal/scd/errors"
	"github.com/gartstein/scd/internal/scd/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

// mockJobController overrides the calls a test needs. Anything else panics
// on the nil embedded interface.
type mockJobController struct {
	JobController
	createEntityFunc          func(ctx context.Context, draft *models.Job) (*models.Job, error)
	findLatestVersionByIDFunc func(ctx context.Context, id string) (*models.Job, error)
	findLatestByCriteriaFunc  func(ctx context.Context, criteria models.Fields) ([]models.Job, error)
	batchGetLatestFunc        func(ctx context.Context, ids []string) ([]models.Job, []string, error)
	batchUpdateFunc           func(ctx context.Context, ids []string, delta models.Fields) ([]models.Job, map[string]error, error)
	createNewVersionFunc      func(ctx context.Context, id string, delta models.Fields) (*models.Job, error)
	updateStatusFunc          func(ctx context.Context, id, status string) (*models.Job, error)
	updateRateFunc            func(ctx context.Context, id string, rate decimal.Decimal) (*models.Job, error)
}

func (m *mockJobController) CreateEntity(ctx context.Context, draft *models.Job) (*models.Job, error) {
	return m.createEntityFunc(ctx, draft)
}

func (m *mockJobController) FindLatestVersionByID(ctx context.Context, id string) (*models.Job, error) {
	return m.findLatestVersionByIDFunc(ctx, id)
}

func (m *mockJobController) FindLatestVersionsByCriteria(ctx context.Context, criteria models.Fields) ([]models.Job, error) {
	return m.findLatestByCriteriaFunc(ctx, criteria)
}

func (m *mockJobController) BatchGetLatest(ctx context.Context, ids []string) ([]models.Job, []string, error) {
	return m.batchGetLatestFunc(ctx, ids)
}

func (m *mockJobController) BatchUpdate(ctx context.Context, ids []string, delta models.Fields) ([]models.Job, map[string]error, error) {
	return m.batchUpdateFunc(ctx, ids, delta)
}

func (m *mockJobController) CreateNewVersion(ctx context.Context, id string, delta models.Fields) (*models.Job, error) {
	return m.createNewVersionFunc(ctx, id, delta)
}

func (m *mockJobController) UpdateStatus(ctx context.Context, id, status string) (*models.Job, error) {
	return m.updateStatusFunc(ctx, id, status)
}

func (m *mockJobController) UpdateRate(ctx context.Context, id string, rate decimal.Decimal) (*models.Job, error) {
	return m.updateRateFunc(ctx, id, rate)
}

type mockTimelogController struct {
	TimelogController
	findTimelogsForContractorFunc func(ctx context.Context, contractorID string, start, end int64) ([]models.Timelog, error)
	adjustTimelogFunc             func(ctx context.Context, id string, duration int64) (*models.Timelog, error)
}

func (m *mockTimelogController) FindTimelogsForContractor(ctx context.Context, contractorID string, start, end int64) ([]models.Timelog, error) {
	return m.findTimelogsForContractorFunc(ctx, contractorID, start, end)
}

func (m *mockTimelogController) AdjustTimelog(ctx context.Context, id string, duration int64) (*models.Timelog, error) {
	return m.adjustTimelogFunc(ctx, id, duration)
}

type mockPaymentLineItemController struct {
	PaymentLineItemController
	markAsPaidFunc                  func(ctx context.Context, id string) (*models.PaymentLineItem, error)
	getTotalAmountForContractorFunc func(ctx context.Context, contractorID string, start, end int64) (decimal.Decimal, error)
}

func (m *mockPaymentLineItemController) MarkAsPaid(ctx context.Context, id string) (*models.PaymentLineItem, error) {
	return m.markAsPaidFunc(ctx, id)
}

func (m *mockPaymentLineItemController) GetTotalAmountForContractor(ctx context.Context, contractorID string, start, end int64) (decimal.Decimal, error) {
	return m.getTotalAmountForContractorFunc(ctx, contractorID, start, end)
}

// dial serves h on an in-memory listener and returns a client connection.
func dial(t *testing.T, h *Handler, opts ...grpc.ServerOption) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	s := NewServer(0, 0, zaptest.NewLogger(t), opts...)
	s.RegisterGRPCHandler(h)
	go func() { _ = s.grpcServer.Serve(lis) }()
	t.Cleanup(s.grpcServer.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func invoke(conn *grpc.ClientConn, method string, req map[string]any) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	err = conn.Invoke(context.Background(), method, in, out)
	return out, err
}

func TestHandler_MethodTable(t *testing.T) {
	h := NewHandler(&mockJobController{}, &mockTimelogController{}, &mockPaymentLineItemController{}, zaptest.NewLogger(t))

	seen := map[string]bool{}
	routes := map[string]bool{}
	for _, m := range h.Methods() {
		if seen[m.FullMethod()] {
			t.Errorf("duplicate method %s", m.FullMethod())
		}
		seen[m.FullMethod()] = true
		route := m.Verb + " " + m.Path
		if routes[route] {
			t.Errorf("duplicate route %s", route)
		}
		routes[route] = true
	}
	for _, want := range []string{
		"/scd.v1.JobService/FindActiveJobsForCompany",
		"/scd.v1.TimelogService/FindByUID",
		"/scd.v1.PaymentLineItemService/GetTotalAmountForContractor",
	} {
		if !seen[want] {
			t.Errorf("missing method %s", want)
		}
	}

	protected := map[string]bool{}
	for _, m := range h.ProtectedMethods() {
		protected[m] = true
	}
	if len(protected) != 13 {
		t.Errorf("expected 13 protected methods, got %d: %v", len(protected), h.ProtectedMethods())
	}
	if !protected["/scd.v1.PaymentLineItemService/MarkAsPaid"] || protected["/scd.v1.JobService/FindLatestVersionByID"] {
		t.Errorf("unexpected protected set %v", h.ProtectedMethods())
	}

	if descs := h.ServiceDescs(); len(descs) != 3 || descs[0].ServiceName != "scd.v1.JobService" {
		t.Errorf("unexpected service descriptors")
	}
}

func TestHandler_BatchUpdateOverGRPC(t *testing.T) {
	jobs := &mockJobController{
		batchUpdateFunc: func(_ context.Context, ids []string, delta models.Fields) ([]models.Job, map[string]error, error) {
			if delta["status"] != "extended" {
				return nil, nil, e.Invalidf("unexpected delta %v", delta)
			}
			return []models.Job{{Header: models.Header{ID: ids[0], Version: 2}, Status: models.JobExtended}},
				map[string]error{
					ids[1]: e.NotFoundf("job %s", ids[1]),
					ids[2]: errors.New("connection reset"),
				}, nil
		},
	}
	h := NewHandler(jobs, &mockTimelogController{}, &mockPaymentLineItemController{}, zaptest.NewLogger(t))
	conn := dial(t, h)

	resp, err := invoke(conn, "/scd.v1.JobService/BatchUpdate", map[string]any{
		"ids":    []any{"job_1", "job_2", "job_3"},
		"fields": map[string]any{"status": "extended"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fields := resp.GetFields()
	if got := fields["successCount"].GetNumberValue(); got != 1 {
		t.Errorf("expected successCount 1, got %v", got)
	}
	if got := fields["failureCount"].GetNumberValue(); got != 2 {
		t.Errorf("expected failureCount 2, got %v", got)
	}
	if got := len(fields["items"].GetListValue().GetValues()); got != 1 {
		t.Errorf("expected 1 item, got %d", got)
	}

	errs := fields["errors"].GetStructValue().GetFields()
	missing := errs["job_2"].GetStructValue().GetFields()
	if got := missing["kind"].GetStringValue(); got != string(e.KindNotFound) {
		t.Errorf("expected kind %s, got %q", e.KindNotFound, got)
	}
	broken := errs["job_3"].GetStructValue().GetFields()
	if got := broken["message"].GetStringValue(); got != "internal error" {
		t.Errorf("internal failure leaked: %q", got)
	}

	_, err = invoke(conn, "/scd.v1.JobService/BatchUpdate", map[string]any{"ids": []any{"job_1"}})
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("expected InvalidArgument without fields, got %v", err)
	}
}

func TestHandler_UpdateStatusOverGRPC(t *testing.T) {
	jobs := &mockJobController{
		updateStatusFunc: func(_ context.Context, id, status string) (*models.Job, error) {
			if status != "extended" {
				return nil, &e.TransitionError{From: "extended", To: status}
			}
			return &models.Job{Header: models.Header{ID: id, Version: 2}, Status: models.JobExtended}, nil
		},
	}
	h := NewHandler(jobs, &mockTimelogController{}, &mockPaymentLineItemController{}, zaptest.NewLogger(t))

	var intercepted []string
	conn := dial(t, h, grpc.UnaryInterceptor(func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		intercepted = append(intercepted, info.FullMethod)
		return handler(ctx, req)
	}))

	resp, err := invoke(conn, "/scd.v1.JobService/UpdateStatus", map[string]any{"id": "job_1", "status": "extended"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := resp.GetFields()["status"].GetStringValue(); got != "extended" {
		t.Errorf("expected status extended, got %q", got)
	}
	if got := resp.GetFields()["version"].GetNumberValue(); got != 2 {
		t.Errorf("expected version 2, got %v", got)
	}

	_, err = invoke(conn, "/scd.v1.JobService/UpdateStatus", map[string]any{"id": "job_1", "status": "active"})
	if status.Code(err) != codes.FailedPrecondition {
		t.Errorf("expected FailedPrecondition, got %v", err)
	}

	_, err = invoke(conn, "/scd.v1.JobService/UpdateStatus", map[string]any{"id": "job_1"})
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("expected InvalidArgument for a missing status, got %v", err)
	}

	if len(intercepted) != 3 || intercepted[0] != "/scd.v1.JobService/UpdateStatus" {
		t.Errorf("expected every call to pass the interceptor, got %v", intercepted)
	}
}

func TestHandler_CreateEntityOverGRPC(t *testing.T) {
	jobs := &mockJobController{
		createEntityFunc: func(_ context.Context, draft *models.Job) (*models.Job, error) {
			if !draft.Rate.Equal(decimal.RequireFromString("50.00")) || draft.ContractorID != "cont_1" {
				return nil, errors.New("unexpected draft")
			}
			draft.ID, draft.UID, draft.Version = "job_1", "job_uid_1", 1
			return draft, nil
		},
	}
	conn := dial(t, NewHandler(jobs, &mockTimelogController{}, &mockPaymentLineItemController{}, zaptest.NewLogger(t)))

	resp, err := invoke(conn, "/scd.v1.JobService/CreateEntity", map[string]any{
		"job": map[string]any{
			"status":       "active",
			"rate":         "50.00",
			"title":        "Backend engineer",
			"companyId":    "comp_1",
			"contractorId": "cont_1",
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := resp.GetFields()["rate"].GetStringValue(); got != "50" {
		t.Errorf("expected rate \"50\", got %q", got)
	}
	if got := resp.GetFields()["uid"].GetStringValue(); got != "job_uid_1" {
		t.Errorf("expected uid job_uid_1, got %q", got)
	}

	_, err = invoke(conn, "/scd.v1.JobService/CreateEntity", map[string]any{})
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("expected InvalidArgument without a job, got %v", err)
	}
}

func TestHandler_ContractorQueriesOverGRPC(t *testing.T) {
	timelogs := &mockTimelogController{
		findTimelogsForContractorFunc: func(_ context.Context, contractorID string, start, end int64) ([]models.Timelog, error) {
			if contractorID != "cont_1" || start != 1700000000000 || end != 1700086400000 {
				return nil, e.Invalidf("unexpected window")
			}
			return nil, nil
		},
	}
	payments := &mockPaymentLineItemController{
		getTotalAmountForContractorFunc: func(context.Context, string, int64, int64) (decimal.Decimal, error) {
			return decimal.RequireFromString("120.5"), nil
		},
		markAsPaidFunc: func(context.Context, string) (*models.PaymentLineItem, error) {
			return nil, &e.TransitionError{From: "paid", To: "paid"}
		},
	}
	conn := dial(t, NewHandler(&mockJobController{}, timelogs, payments, zaptest.NewLogger(t)))
	window := map[string]any{"contractorId": "cont_1", "start": float64(1700000000000), "end": float64(1700086400000)}

	resp, err := invoke(conn, "/scd.v1.TimelogService/FindTimelogsForContractor", window)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if list := resp.GetFields()["items"].GetListValue(); list == nil || len(list.GetValues()) != 0 {
		t.Errorf("expected an empty item list, got %v", resp)
	}

	resp, err = invoke(conn, "/scd.v1.PaymentLineItemService/GetTotalAmountForContractor", window)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := resp.GetFields()["total"].GetStringValue(); got != "120.50" {
		t.Errorf("expected total 120.50, got %q", got)
	}

	_, err = invoke(conn, "/scd.v1.PaymentLineItemService/MarkAsPaid", map[string]any{"id": "pli_1"})
	st, _ := status.FromError(err)
	if st.Code() != codes.FailedPrecondition || kindOf(st) != string(e.KindInvalidTransition) {
		t.Errorf("expected an invalid transition, got %v", err)
	}
}
