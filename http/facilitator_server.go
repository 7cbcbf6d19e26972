package http

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	x402 "github.com/x402labs/x402-go"
)

// FacilitatorHandler exposes a local facilitator over the REST surface
// FacilitatorHTTPClient consumes: POST /verify, POST /settle, and
// GET /supported.
func FacilitatorHandler(f *x402.Facilitator, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &facilitatorHandler{facilitator: f, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /verify", h.verify)
	mux.HandleFunc("POST /settle", h.settle)
	mux.HandleFunc("GET /supported", h.supported)
	return mux
}

type facilitatorHandler struct {
	facilitator *x402.Facilitator
	logger      *slog.Logger
}

func (h *facilitatorHandler) verify(w http.ResponseWriter, r *http.Request) {
	req, ok := h.readRequest(w, r)
	if !ok {
		return
	}
	resp, err := h.facilitator.Verify(r.Context(), req.PaymentPayload, req.PaymentRequirements)
	if err != nil {
		h.logger.Warn("verify errored", "scheme", req.PaymentRequirements.Scheme,
			"network", req.PaymentRequirements.Network, "error", err)
	}
	// Rejections travel in the body with a 200; only transport-level
	// problems get an error status.
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *facilitatorHandler) settle(w http.ResponseWriter, r *http.Request) {
	req, ok := h.readRequest(w, r)
	if !ok {
		return
	}
	resp, err := h.facilitator.Settle(r.Context(), req.PaymentPayload, req.PaymentRequirements)
	if err != nil {
		h.logger.Warn("settle errored", "scheme", req.PaymentRequirements.Scheme,
			"network", req.PaymentRequirements.Network, "error", err)
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *facilitatorHandler) supported(w http.ResponseWriter, r *http.Request) {
	resp, err := h.facilitator.GetSupported(r.Context())
	if err != nil {
		h.logger.Error("supported errored", "error", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": x402.Reason(err)})
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *facilitatorHandler) readRequest(w http.ResponseWriter, r *http.Request) (x402.VerifyRequest, bool) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxChallengeBytes))
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": x402.ErrInvalidPayload})
		return x402.VerifyRequest{}, false
	}
	var req x402.VerifyRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": x402.ErrInvalidPayload})
		return x402.VerifyRequest{}, false
	}
	return req, true
}

func (h *facilitatorHandler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("response encode failed", "error", err)
	}
}
