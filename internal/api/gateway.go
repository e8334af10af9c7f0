package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

const maxRequestBody = 8 << 20

// NewGateway returns the HTTP router exposing the RCA engine over JSON:
// POST /api/v1/analyze, POST /api/v1/explain, GET /healthz and GET /metrics.
func NewGateway(service RCAEngineServer, gatherer prometheus.Gatherer, logger *slog.Logger) *mux.Router {
	if logger == nil {
		logger = slog.Default()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	g := &gateway{service: service, logger: logger}

	r := mux.NewRouter()
	r.HandleFunc("/api/v1/analyze", g.analyze).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/explain", g.explain).Methods(http.MethodPost)
	r.HandleFunc("/healthz", g.health).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	return r
}

type gateway struct {
	service RCAEngineServer
	logger  *slog.Logger
}

type unaryCall func(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)

func (g *gateway) analyze(w http.ResponseWriter, r *http.Request) {
	g.serve(w, r, "analyze", g.service.AnalyzeIncident)
}

func (g *gateway) explain(w http.ResponseWriter, r *http.Request) {
	g.serve(w, r, "explain", g.service.ExplainHypothesis)
}

func (g *gateway) serve(w http.ResponseWriter, r *http.Request, name string, call unaryCall) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	req := &structpb.Struct{}
	if err := protojson.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, "request body must be a JSON object")
		return
	}

	resp, err := call(r.Context(), req)
	if err != nil {
		st := status.Convert(err)
		code := HTTPStatus(st.Code())
		if code >= http.StatusInternalServerError {
			g.logger.Error(name+" request failed", slog.Any("error", err))
		}
		writeError(w, code, st.Message())
		return
	}
	writeStruct(w, http.StatusOK, resp)
}

func (g *gateway) health(w http.ResponseWriter, r *http.Request) {
	resp, err := g.service.HealthCheck(r.Context(), &structpb.Struct{})
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, status.Convert(err).Message())
		return
	}
	writeStruct(w, http.StatusOK, resp)
}

// HTTPStatus maps a gRPC status code onto the gateway's HTTP status.
func HTTPStatus(code codes.Code) int {
	switch code {
	case codes.OK:
		return http.StatusOK
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.NotFound:
		return http.StatusNotFound
	case codes.DeadlineExceeded, codes.Canceled:
		return http.StatusGatewayTimeout
	case codes.FailedPrecondition, codes.Unavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeStruct(w http.ResponseWriter, code int, payload *structpb.Struct) {
	data, err := protojson.Marshal(payload)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "encode response")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
