package handlers

import (
	"context"
	"net/http"

	"github.com/gartstein/scd/internal/scd/auth"
	"github.com/gartstein/scd/internal/scd/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// Package is the protobuf package of every service served here.
const Package = "scd.v1"

// VersionedService is the operation set every entity service shares.
type VersionedService[T any] interface {
	CreateEntity(ctx context.Context, draft *T) (*T, error)
	FindLatestVersionByID(ctx context.Context, id string) (*T, error)
	FindAllVersionsByID(ctx context.Context, id string) ([]T, error)
	FindByVersion(ctx context.Context, id string, version int64) (*T, error)
	FindByUID(ctx context.Context, uid string) (*T, error)
	FindLatestVersionsByCriteria(ctx context.Context, criteria models.Fields) ([]T, error)
	BatchGetLatest(ctx context.Context, ids []string) ([]T, []string, error)
	BatchUpdate(ctx context.Context, ids []string, delta models.Fields) ([]T, map[string]error, error)
	CreateNewVersion(ctx context.Context, id string, delta models.Fields) (*T, error)
}

type JobController interface {
	VersionedService[models.Job]
	FindActiveJobsForCompany(ctx context.Context, companyID string) ([]models.Job, error)
	FindActiveJobsForContractor(ctx context.Context, contractorID string) ([]models.Job, error)
	FindJobsWithRateAbove(ctx context.Context, minRate decimal.Decimal) ([]models.Job, error)
	UpdateStatus(ctx context.Context, id, status string) (*models.Job, error)
	UpdateRate(ctx context.Context, id string, rate decimal.Decimal) (*models.Job, error)
}

type TimelogController interface {
	VersionedService[models.Timelog]
	FindTimelogsForJob(ctx context.Context, jobUID string) ([]models.Timelog, error)
	FindTimelogsForContractor(ctx context.Context, contractorID string, start, end int64) ([]models.Timelog, error)
	FindTimelogsWithDurationAbove(ctx context.Context, minDuration int64) ([]models.Timelog, error)
	AdjustTimelog(ctx context.Context, id string, duration int64) (*models.Timelog, error)
}

type PaymentLineItemController interface {
	VersionedService[models.PaymentLineItem]
	FindPaymentLineItemsForJob(ctx context.Context, jobUID string) ([]models.PaymentLineItem, error)
	FindPaymentLineItemsForTimelog(ctx context.Context, timelogUID string) ([]models.PaymentLineItem, error)
	FindPaymentLineItemsForContractor(ctx context.Context, contractorID string, start, end int64) ([]models.PaymentLineItem, error)
	MarkAsPaid(ctx context.Context, id string) (*models.PaymentLineItem, error)
	GetTotalAmountForContractor(ctx context.Context, contractorID string, start, end int64) (decimal.Decimal, error)
}

// Method is one operation, served over gRPC and REST alike.
type Method struct {
	Service string
	Name    string
	Verb    string
	Path    string
	// Query names the argument collecting the REST query string. Empty means
	// query parameters become top-level arguments.
	Query string
	// Protected methods require a bearer token.
	Protected bool
	call      func(ctx context.Context, a args) (any, error)
}

// FullMethod is the gRPC method name, e.g. "/scd.v1.JobService/UpdateStatus".
func (m Method) FullMethod() string {
	return "/" + Package + "." + m.Service + "/" + m.Name
}

// Handler serves the job, timelog and payment line item services.
type Handler struct {
	methods []Method
	logger  *zap.Logger
}

func NewHandler(jobs JobController, timelogs TimelogController, payments PaymentLineItemController, logger *zap.Logger) *Handler {
	var methods []Method
	methods = append(methods, jobMethods(jobs)...)
	methods = append(methods, timelogMethods(timelogs)...)
	methods = append(methods, paymentMethods(payments)...)
	return &Handler{
		methods: methods,
		logger:  logger.Named("handler"),
	}
}

func (h *Handler) Methods() []Method {
	return h.methods
}

// ProtectedMethods lists the full names of the methods requiring a token.
func (h *Handler) ProtectedMethods() []string {
	var out []string
	for _, m := range h.methods {
		if m.Protected {
			out = append(out, m.FullMethod())
		}
	}
	return out
}

// ServiceDescs describes the services for grpc.Server.RegisterService.
// Every message is a google.protobuf.Struct.
func (h *Handler) ServiceDescs() []*grpc.ServiceDesc {
	var descs []*grpc.ServiceDesc
	byService := map[string]*grpc.ServiceDesc{}
	for _, m := range h.methods {
		desc, ok := byService[m.Service]
		if !ok {
			desc = &grpc.ServiceDesc{
				ServiceName: Package + "." + m.Service,
				HandlerType: (*interface{})(nil),
				Metadata:    "scd/v1/" + m.Service + ".proto",
			}
			byService[m.Service] = desc
			descs = append(descs, desc)
		}
		desc.Methods = append(desc.Methods, grpc.MethodDesc{
			MethodName: m.Name,
			Handler:    h.grpcHandler(m),
		})
	}
	return descs
}

func (h *Handler) grpcHandler(m Method) grpc.MethodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		serve := func(ctx context.Context, req interface{}) (interface{}, error) {
			return h.serveGRPC(ctx, m, req.(*structpb.Struct))
		}
		if interceptor == nil {
			return serve(ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: m.FullMethod()}
		return interceptor(ctx, in, info, serve)
	}
}

func (h *Handler) serveGRPC(ctx context.Context, m Method, in *structpb.Struct) (*structpb.Struct, error) {
	a, err := structToArgs(in)
	if err != nil {
		return nil, h.mapServiceError(err)
	}
	out, err := h.call(ctx, m, a)
	if err != nil {
		return nil, h.mapServiceError(err)
	}
	resp, err := toStruct(out)
	if err != nil {
		return nil, h.mapServiceError(err)
	}
	return resp, nil
}

// call runs m for either transport.
func (h *Handler) call(ctx context.Context, m Method, a args) (any, error) {
	if sub, ok := auth.Subject(ctx); ok && m.Protected {
		h.logger.Debug("Write requested", zap.String("method", m.FullMethod()), zap.String("subject", sub))
	}
	return m.call(ctx, a)
}

// routes names the REST collections of one entity type.
type routes struct {
	// collection holds chains by id, e.g. /v1/jobs/{id}.
	collection string
	// versions holds single versions by uid, e.g. /v1/job-versions/{uid}.
	versions string
	// key is the request field carrying a new entity.
	key string
}

// versionedMethods builds the operations every entity service shares.
func versionedMethods[T any](svc VersionedService[T], service string, r routes) []Method {
	return []Method{
		{
			Service: service, Name: "CreateEntity", Verb: http.MethodPost, Path: r.collection, Protected: true,
			call: func(ctx context.Context, a args) (any, error) {
				var draft T
				if err := a.decode(r.key, &draft); err != nil {
					return nil, err
				}
				return svc.CreateEntity(ctx, &draft)
			},
		},
		{
			Service: service, Name: "FindLatestVersionByID", Verb: http.MethodGet, Path: r.collection + "/{id}",
			call: func(ctx context.Context, a args) (any, error) {
				id, err := a.str("id")
				if err != nil {
					return nil, err
				}
				return svc.FindLatestVersionByID(ctx, id)
			},
		},
		{
			Service: service, Name: "FindAllVersionsByID", Verb: http.MethodGet, Path: r.collection + "/{id}/versions",
			call: func(ctx context.Context, a args) (any, error) {
				id, err := a.str("id")
				if err != nil {
					return nil, err
				}
				rows, err := svc.FindAllVersionsByID(ctx, id)
				if err != nil {
					return nil, err
				}
				return items(rows), nil
			},
		},
		{
			Service: service, Name: "FindByVersion", Verb: http.MethodGet, Path: r.collection + "/{id}/versions/{version}",
			call: func(ctx context.Context, a args) (any, error) {
				id, err := a.str("id")
				if err != nil {
					return nil, err
				}
				version, err := a.int64("version")
				if err != nil {
					return nil, err
				}
				return svc.FindByVersion(ctx, id, version)
			},
		},
		{
			Service: service, Name: "FindByUID", Verb: http.MethodGet, Path: r.versions + "/{uid}",
			call: func(ctx context.Context, a args) (any, error) {
				uid, err := a.str("uid")
				if err != nil {
					return nil, err
				}
				return svc.FindByUID(ctx, uid)
			},
		},
		{
			Service: service, Name: "FindLatestVersionsByCriteria", Verb: http.MethodGet, Path: r.collection, Query: "criteria",
			call: func(ctx context.Context, a args) (any, error) {
				criteria, err := a.fields("criteria")
				if err != nil {
					return nil, err
				}
				rows, err := svc.FindLatestVersionsByCriteria(ctx, criteria)
				if err != nil {
					return nil, err
				}
				return items(rows), nil
			},
		},
		{
			Service: service, Name: "BatchGetLatest", Verb: http.MethodPost, Path: r.collection + "/batch",
			call: func(ctx context.Context, a args) (any, error) {
				ids, err := a.strings("ids")
				if err != nil {
					return nil, err
				}
				rows, missing, err := svc.BatchGetLatest(ctx, ids)
				if err != nil {
					return nil, err
				}
				resp := items(rows)
				if missing == nil {
					missing = []string{}
				}
				resp["missing"] = missing
				return resp, nil
			},
		},
		{
			Service: service, Name: "BatchUpdate", Verb: http.MethodPost, Path: r.collection + "/batch-update", Protected: true,
			call: func(ctx context.Context, a args) (any, error) {
				ids, err := a.strings("ids")
				if err != nil {
					return nil, err
				}
				delta, err := a.fields("fields")
				if err != nil {
					return nil, err
				}
				rows, failed, err := svc.BatchUpdate(ctx, ids, delta)
				if err != nil {
					return nil, err
				}
				resp := items(rows)
				resp["errors"] = batchErrors(failed)
				resp["successCount"] = len(rows)
				resp["failureCount"] = len(failed)
				return resp, nil
			},
		},
		{
			Service: service, Name: "CreateNewVersion", Verb: http.MethodPatch, Path: r.collection + "/{id}", Protected: true,
			call: func(ctx context.Context, a args) (any, error) {
				id, err := a.str("id")
				if err != nil {
					return nil, err
				}
				delta, err := a.fields("fields")
				if err != nil {
					return nil, err
				}
				return svc.CreateNewVersion(ctx, id, delta)
			},
		},
	}
}

// window reads the contractor and time window of a contractor query.
func window(a args) (string, int64, int64, error) {
	contractorID, err := a.str("contractorId")
	if err != nil {
		return "", 0, 0, err
	}
	start, err := a.int64("start")
	if err != nil {
		return "", 0, 0, err
	}
	end, err := a.int64("end")
	if err != nil {
		return "", 0, 0, err
	}
	return contractorID, start, end, nil
}

func jobMethods(jobs JobController) []Method {
	const service = "JobService"
	return append(versionedMethods[models.Job](jobs, service, routes{"/v1/jobs", "/v1/job-versions", "job"}),
		Method{
			Service: service, Name: "FindActiveJobsForCompany", Verb: http.MethodGet, Path: "/v1/companies/{companyId}/jobs",
			call: func(ctx context.Context, a args) (any, error) {
				companyID, err := a.str("companyId")
				if err != nil {
					return nil, err
				}
				rows, err := jobs.FindActiveJobsForCompany(ctx, companyID)
				if err != nil {
					return nil, err
				}
				return items(rows), nil
			},
		},
		Method{
			Service: service, Name: "FindActiveJobsForContractor", Verb: http.MethodGet, Path: "/v1/contractors/{contractorId}/jobs",
			call: func(ctx context.Context, a args) (any, error) {
				contractorID, err := a.str("contractorId")
				if err != nil {
					return nil, err
				}
				rows, err := jobs.FindActiveJobsForContractor(ctx, contractorID)
				if err != nil {
					return nil, err
				}
				return items(rows), nil
			},
		},
		Method{
			Service: service, Name: "FindJobsWithRateAbove", Verb: http.MethodGet, Path: "/v1/jobs/rate-above/{minRate}",
			call: func(ctx context.Context, a args) (any, error) {
				minRate, err := a.decimal("minRate")
				if err != nil {
					return nil, err
				}
				rows, err := jobs.FindJobsWithRateAbove(ctx, minRate)
				if err != nil {
					return nil, err
				}
				return items(rows), nil
			},
		},
		Method{
			Service: service, Name: "UpdateStatus", Verb: http.MethodPut, Path: "/v1/jobs/{id}/status", Protected: true,
			call: func(ctx context.Context, a args) (any, error) {
				id, err := a.str("id")
				if err != nil {
					return nil, err
				}
				status, err := a.str("status")
				if err != nil {
					return nil, err
				}
				return jobs.UpdateStatus(ctx, id, status)
			},
		},
		Method{
			Service: service, Name: "UpdateRate", Verb: http.MethodPut, Path: "/v1/jobs/{id}/rate", Protected: true,
			call: func(ctx context.Context, a args) (any, error) {
				id, err := a.str("id")
				if err != nil {
					return nil, err
				}
				rate, err := a.decimal("rate")
				if err != nil {
					return nil, err
				}
				return jobs.UpdateRate(ctx, id, rate)
			},
		},
	)
}

func timelogMethods(timelogs TimelogController) []Method {
	const service = "TimelogService"
	return append(versionedMethods[models.Timelog](timelogs, service, routes{"/v1/timelogs", "/v1/timelog-versions", "timelog"}),
		Method{
			Service: service, Name: "FindTimelogsForJob", Verb: http.MethodGet, Path: "/v1/job-versions/{jobUid}/timelogs",
			call: func(ctx context.Context, a args) (any, error) {
				jobUID, err := a.str("jobUid")
				if err != nil {
					return nil, err
				}
				rows, err := timelogs.FindTimelogsForJob(ctx, jobUID)
				if err != nil {
					return nil, err
				}
				return items(rows), nil
			},
		},
		Method{
			Service: service, Name: "FindTimelogsForContractor", Verb: http.MethodGet, Path: "/v1/contractors/{contractorId}/timelogs",
			call: func(ctx context.Context, a args) (any, error) {
				contractorID, start, end, err := window(a)
				if err != nil {
					return nil, err
				}
				rows, err := timelogs.FindTimelogsForContractor(ctx, contractorID, start, end)
				if err != nil {
					return nil, err
				}
				return items(rows), nil
			},
		},
		Method{
			Service: service, Name: "FindTimelogsWithDurationAbove", Verb: http.MethodGet, Path: "/v1/timelogs/duration-above/{minDuration}",
			call: func(ctx context.Context, a args) (any, error) {
				minDuration, err := a.int64("minDuration")
				if err != nil {
					return nil, err
				}
				rows, err := timelogs.FindTimelogsWithDurationAbove(ctx, minDuration)
				if err != nil {
					return nil, err
				}
				return items(rows), nil
			},
		},
		Method{
			Service: service, Name: "AdjustTimelog", Verb: http.MethodPut, Path: "/v1/timelogs/{id}/duration", Protected: true,
			call: func(ctx context.Context, a args) (any, error) {
				id, err := a.str("id")
				if err != nil {
					return nil, err
				}
				duration, err := a.int64("duration")
				if err != nil {
					return nil, err
				}
				return timelogs.AdjustTimelog(ctx, id, duration)
			},
		},
	)
}

func paymentMethods(payments PaymentLineItemController) []Method {
	const service = "PaymentLineItemService"
	return append(versionedMethods[models.PaymentLineItem](payments, service,
		routes{"/v1/payment-line-items", "/v1/payment-line-item-versions", "paymentLineItem"}),
		Method{
			Service: service, Name: "FindPaymentLineItemsForJob", Verb: http.MethodGet, Path: "/v1/job-versions/{jobUid}/payment-line-items",
			call: func(ctx context.Context, a args) (any, error) {
				jobUID, err := a.str("jobUid")
				if err != nil {
					return nil, err
				}
				rows, err := payments.FindPaymentLineItemsForJob(ctx, jobUID)
				if err != nil {
					return nil, err
				}
				return items(rows), nil
			},
		},
		Method{
			Service: service, Name: "FindPaymentLineItemsForTimelog", Verb: http.MethodGet, Path: "/v1/timelog-versions/{timelogUid}/payment-line-items",
			call: func(ctx context.Context, a args) (any, error) {
				timelogUID, err := a.str("timelogUid")
				if err != nil {
					return nil, err
				}
				rows, err := payments.FindPaymentLineItemsForTimelog(ctx, timelogUID)
				if err != nil {
					return nil, err
				}
				return items(rows), nil
			},
		},
		Method{
			Service: service, Name: "FindPaymentLineItemsForContractor", Verb: http.MethodGet, Path: "/v1/contractors/{contractorId}/payment-line-items",
			call: func(ctx context.Context, a args) (any, error) {
				contractorID, start, end, err := window(a)
				if err != nil {
					return nil, err
				}
				rows, err := payments.FindPaymentLineItemsForContractor(ctx, contractorID, start, end)
				if err != nil {
					return nil, err
				}
				return items(rows), nil
			},
		},
		Method{
			Service: service, Name: "MarkAsPaid", Verb: http.MethodPost, Path: "/v1/payment-line-items/{id}/pay", Protected: true,
			call: func(ctx context.Context, a args) (any, error) {
				id, err := a.str("id")
				if err != nil {
					return nil, err
				}
				return payments.MarkAsPaid(ctx, id)
			},
		},
		Method{
			Service: service, Name: "GetTotalAmountForContractor", Verb: http.MethodGet, Path: "/v1/contractors/{contractorId}/payment-total",
			call: func(ctx context.Context, a args) (any, error) {
				contractorID, start, end, err := window(a)
				if err != nil {
					return nil, err
				}
				total, err := payments.GetTotalAmountForContractor(ctx, contractorID, start, end)
				if err != nil {
					return nil, err
				}
				return map[string]any{
					"contractorId": contractorID,
					"total":        total.StringFixed(2),
				}, nil
			},
		},
	)
}
