package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"lexroute/api/internal/docstore"
	"lexroute/api/internal/fusion"
	"lexroute/api/internal/routing"
	"lexroute/api/internal/trace"
	"lexroute/api/internal/util"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		s.handleReady(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/fusion/analyze" {
		s.handleAnalyze(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/routing/classify" {
		s.handleClassify(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/memory/precedents/query" {
		s.handleQueryPrecedents(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/memory/precedents" {
		s.handleStorePrecedent(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/trace/generate" {
		s.handleGenerateTrace(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/inference/usage" {
		writeJSON(w, http.StatusOK, s.service.InferenceUsage())
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/inference/usage/reset" {
		writeJSON(w, http.StatusOK, s.service.ResetInferenceUsage())
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/inference/health" {
		status := s.service.InferenceHealth(r.Context())
		code := http.StatusOK
		if status.Status != "healthy" {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, status)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}

	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}

	// Object store unavailability degrades analysis but does not block
	// readiness; report it alongside.
	if bucket, err := s.service.ObjectStoreHealth(ctx); err != nil {
		checks["object_store"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	} else if bucket.Bucket != "" {
		checks["object_store"] = map[string]any{
			"status": "ok",
			"bucket": bucket.Bucket,
		}
	}

	// Configuration-level check only; a real generation probe spends
	// tokens and lives at /api/inference/health.
	usage := s.service.InferenceUsage()
	checks["inference"] = map[string]any{
		"status":         "configured",
		"model_id":       s.service.InferenceModelID(),
		"total_requests": usage.TotalRequests,
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var input AnalyzeInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	analysis, err := s.service.Analyze(r.Context(), input)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, analysis)
}

type classifyRequest struct {
	FusionAnalysis   fusion.Analysis  `json:"fusion_analysis"`
	ContractMetadata routing.Metadata `json:"contract_metadata"`
}

func (s *HTTPServer) handleClassify(w http.ResponseWriter, r *http.Request) {
	var req classifyRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	decision, err := s.service.Classify(r.Context(), req.FusionAnalysis, req.ContractMetadata)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

func (s *HTTPServer) handleQueryPrecedents(w http.ResponseWriter, r *http.Request) {
	var query PrecedentQuery
	if err := decodeBody(r, &query); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	result, err := s.service.QueryPrecedents(r.Context(), query)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleStorePrecedent(w http.ResponseWriter, r *http.Request) {
	var decision docstore.PrecedentDecision
	if err := decodeBody(r, &decision); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	id, err := s.service.StorePrecedent(r.Context(), decision)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": id, "decision_id": decision.DecisionID})
}

type traceRequest struct {
	ContractID      string                    `json:"contract_id"`
	ContractType    string                    `json:"contract_type"`
	Jurisdiction    string                    `json:"jurisdiction"`
	FusionAnalysis  fusion.Analysis           `json:"fusion_analysis"`
	RoutingDecision routing.Decision          `json:"routing_decision"`
	Precedents      []fusion.HistoricalSignal `json:"precedents,omitempty"`
}

func (s *HTTPServer) handleGenerateTrace(w http.ResponseWriter, r *http.Request) {
	var req traceRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	out, err := s.service.GenerateTrace(r.Context(), trace.Input{
		ContractID:   req.ContractID,
		ContractType: req.ContractType,
		Jurisdiction: req.Jurisdiction,
		Analysis:     req.FusionAnalysis,
		Decision:     req.RoutingDecision,
		Precedents:   req.Precedents,
	})
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = util.NewID("")
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
