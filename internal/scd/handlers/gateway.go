package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"go.uber.org/zap"
	"google.golang.org/grpc/status"
)

// Middleware wraps the REST handler of one method.
type Middleware func(m Method, next http.Handler) http.Handler

type pathParamsKey struct{}

// Gateway builds the REST routes of every method on a grpc-gateway mux.
func (h *Handler) Gateway(wrap Middleware) (*runtime.ServeMux, error) {
	mux := runtime.NewServeMux()
	for _, m := range h.methods {
		m := m
		var next http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h.serveHTTP(w, r, m)
		})
		if wrap != nil {
			next = wrap(m, next)
		}
		err := mux.HandlePath(m.Verb, m.Path, func(w http.ResponseWriter, r *http.Request, params map[string]string) {
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), pathParamsKey{}, params)))
		})
		if err != nil {
			return nil, err
		}
	}
	return mux, nil
}

// restArgs merges the JSON body, the path parameters and the query string.
func restArgs(r *http.Request, m Method) (args, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	a, err := decodeArgs(body)
	if err != nil {
		return nil, err
	}

	query := r.URL.Query()
	if m.Query != "" {
		collected := map[string]any{}
		for k := range query {
			collected[k] = query.Get(k)
		}
		a[m.Query] = collected
	} else {
		for k := range query {
			a[k] = query.Get(k)
		}
	}

	params, _ := r.Context().Value(pathParamsKey{}).(map[string]string)
	for k, v := range params {
		a[k] = v
	}
	return a, nil
}

type errorBody struct {
	Code    string `json:"code"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message"`
}

func (h *Handler) serveHTTP(w http.ResponseWriter, r *http.Request, m Method) {
	a, err := restArgs(r, m)
	if err != nil {
		h.WriteError(w, err)
		return
	}
	out, err := h.call(r.Context(), m, a)
	if err != nil {
		h.WriteError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if m.Name == "CreateEntity" {
		w.WriteHeader(http.StatusCreated)
	}
	if err := json.NewEncoder(w).Encode(out); err != nil {
		h.logger.Error("Failed to encode response", zap.String("method", m.FullMethod()), zap.Error(err))
	}
}

// WriteError answers err as a JSON errorBody with the HTTP status of its
// gRPC code.
func (h *Handler) WriteError(w http.ResponseWriter, err error) {
	st, _ := status.FromError(h.mapServiceError(err))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(runtime.HTTPStatusFromCode(st.Code()))
	_ = json.NewEncoder(w).Encode(errorBody{
		Code:    st.Code().String(),
		Kind:    kindOf(st),
		Message: st.Message(),
	})
}
