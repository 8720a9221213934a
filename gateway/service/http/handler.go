package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	core "graintrust/gateway/service/core"
)

// BatchHandler encapsulates the logic for handling HTTP trigger requests
type BatchHandler struct {
	svc    *core.Service
	logger *log.Logger
}

// NewBatchHandler creates a new BatchHandler
func NewBatchHandler(s *core.Service, l *log.Logger) *BatchHandler {
	return &BatchHandler{svc: s, logger: l}
}

// Register attaches the handler's routes to the mux
func (h *BatchHandler) Register(mux *http.ServeMux, healthPath string) {
	mux.HandleFunc("POST /webhook/batch-updated", h.Webhook)
	mux.HandleFunc("POST /v1/batches/{id}/process", h.ProcessBatch)
	mux.HandleFunc("GET /v1/batches/{id}/status", h.BatchStatus)
	mux.HandleFunc("GET /v1/batches/{id}/history", h.BatchHistory)
	mux.HandleFunc("POST /v1/batches/process-all", h.ProcessAll)
	mux.HandleFunc("GET /v1/certificates/{id}", h.Certificate)
	if healthPath == "" {
		healthPath = "/health"
	}
	mux.HandleFunc("GET "+healthPath, h.HealthCheck)
}

// Webhook handles POST /webhook/batch-updated requests. The application
// database fires it on every evidence upload; the payload carries only the
// batch id.
func (h *BatchHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Content-Type") != "application/json" {
		h.respondError(w, "Content-Type must be application/json", http.StatusBadRequest)
		return
	}
	if r.ContentLength > 1024*1024 { // 1MB limit
		h.respondError(w, "Request body too large", http.StatusRequestEntityTooLarge)
		return
	}

	var reqPayload struct {
		BatchID string `json:"batch_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&reqPayload); err != nil {
		h.logger.Printf("HTTP Handler: Failed to parse JSON request: %v", err)
		h.respondError(w, "Bad Request: Invalid JSON format", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if reqPayload.BatchID == "" {
		h.respondError(w, "batch_id is required", http.StatusBadRequest)
		return
	}

	h.trigger(w, r, reqPayload.BatchID, "webhook")
}

// ProcessBatch handles POST /v1/batches/{id}/process requests
func (h *BatchHandler) ProcessBatch(w http.ResponseWriter, r *http.Request) {
	batchID := r.PathValue("id")
	if batchID == "" {
		h.respondError(w, "batch id is required", http.StatusBadRequest)
		return
	}
	h.trigger(w, r, batchID, "manual")
}

func (h *BatchHandler) trigger(w http.ResponseWriter, r *http.Request, batchID, source string) {
	result, err := h.svc.TriggerBatch(r.Context(), batchID, source)
	if err != nil {
		if errors.Is(err, core.ErrBatchNotFound) {
			h.respondError(w, "batch not found", http.StatusNotFound)
			return
		}
		h.logger.Printf("HTTP Handler: Trigger failed for batch %s: %v", batchID, err)
		h.respondError(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	// 202 only when a trigger was actually published; a declined trigger is
	// a definitive 200 so the caller never mistakes it for acceptance.
	status := http.StatusOK
	if result.Accepted {
		status = http.StatusAccepted
	}
	h.respondJSON(w, result, status)
}

// BatchHistory handles GET /v1/batches/{id}/history requests
func (h *BatchHandler) BatchHistory(w http.ResponseWriter, r *http.Request) {
	batchID := r.PathValue("id")
	if batchID == "" {
		h.respondError(w, "batch id is required", http.StatusBadRequest)
		return
	}

	result, err := h.svc.BatchHistory(r.Context(), batchID)
	if err != nil {
		if errors.Is(err, core.ErrBatchNotFound) {
			h.respondError(w, "batch not found", http.StatusNotFound)
			return
		}
		h.logger.Printf("HTTP Handler: History lookup failed for batch %s: %v", batchID, err)
		h.respondError(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	h.respondJSON(w, result, http.StatusOK)
}

// BatchStatus handles GET /v1/batches/{id}/status requests
func (h *BatchHandler) BatchStatus(w http.ResponseWriter, r *http.Request) {
	batchID := r.PathValue("id")
	if batchID == "" {
		h.respondError(w, "batch id is required", http.StatusBadRequest)
		return
	}

	result, err := h.svc.BatchStatus(r.Context(), batchID)
	if err != nil {
		if errors.Is(err, core.ErrBatchNotFound) {
			h.respondError(w, "batch not found", http.StatusNotFound)
			return
		}
		h.logger.Printf("HTTP Handler: Status lookup failed for batch %s: %v", batchID, err)
		h.respondError(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	h.respondJSON(w, result, http.StatusOK)
}

// ProcessAll handles POST /v1/batches/process-all requests
func (h *BatchHandler) ProcessAll(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.SweepPending(r.Context())
	if err != nil {
		h.logger.Printf("HTTP Handler: Sweep failed: %v", err)
		h.respondError(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	h.respondJSON(w, result, http.StatusOK)
}

// Certificate handles GET /v1/certificates/{id} requests
func (h *BatchHandler) Certificate(w http.ResponseWriter, r *http.Request) {
	certificateID := r.PathValue("id")
	if certificateID == "" {
		h.respondError(w, "certificate id is required", http.StatusBadRequest)
		return
	}

	cert, err := h.svc.Certificate(r.Context(), certificateID)
	if err != nil {
		if errors.Is(err, core.ErrCertificateNotFound) {
			h.respondError(w, "certificate not found", http.StatusNotFound)
			return
		}
		h.logger.Printf("HTTP Handler: Certificate lookup failed for %s: %v", certificateID, err)
		h.respondError(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	respPayload := map[string]interface{}{
		"certificate_id": cert.CertificateID,
		"batch_id":       cert.BatchID,
		"content_hash":   cert.ContentHash,
		"qr_url":         cert.QRURL,
		"issued_at":      cert.IssuedAt.Format(time.RFC3339),
		"payload":        json.RawMessage(cert.Payload),
	}
	h.respondJSON(w, respPayload, http.StatusOK)
}

// HealthCheck handles GET /health requests
func (h *BatchHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339Nano),
		"service":   "trigger-gateway",
	}

	h.respondJSON(w, resp, http.StatusOK)
}

// respondJSON sends JSON response
func (h *BatchHandler) respondJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Printf("HTTP Handler: Failed to encode JSON response: %v", err)
		// Cannot send error to client at this point
	}
}

// respondError sends error response
func (h *BatchHandler) respondError(w http.ResponseWriter, message string, statusCode int) {
	errorResp := map[string]interface{}{
		"error":   message,
		"status":  statusCode,
		"message": http.StatusText(statusCode),
	}

	h.respondJSON(w, errorResp, statusCode)
}
