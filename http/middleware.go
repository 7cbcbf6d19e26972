package http

import (
	"bufio"
	"net"
	"net/http"

	x402 "github.com/x402labs/x402-go"
)

// Middleware gates handler behind the service's route table. The
// payment flow is: unpaid or invalid requests get a 402 challenge;
// verified requests run the downstream handler with the payment
// headers stripped; settlement happens when the downstream response
// commits with a success status, so a failed handler never bills the
// payer.
func Middleware(svc *Service, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				svc.logger.Error("handler panicked", "path", r.URL.Path, "panic", rec)
				writeResponse(w, Response{
					Status:      http.StatusInternalServerError,
					ContentType: "application/json",
					Body:        []byte(`{"error":"internal_error"}`),
				})
			}
		}()

		result := svc.Evaluate(r.Context(), requestView(r))
		switch result.Kind {
		case ResultPassthrough:
			handler.ServeHTTP(w, r)
		case ResultRespond:
			writeResponse(w, result.Response)
		case ResultProceed:
			// The downstream handler must not see or trust payment
			// headers; the gate already consumed them.
			r.Header.Del(x402.PaymentHeader)

			interceptor := &settleWriter{
				ResponseWriter: w,
				svc:            svc,
				result:         result,
				request:        r,
			}
			handler.ServeHTTP(interceptor, r)
			interceptor.finish()
		}
	})
}

func requestView(r *http.Request) Request {
	url := r.URL.String()
	if r.URL.Host == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		url = scheme + "://" + r.Host + r.URL.RequestURI()
	}
	payments := r.Header.Values(x402.PaymentHeader)
	payment := ""
	if len(payments) > 0 {
		payment = payments[0]
	}
	return Request{
		Method:           r.Method,
		Path:             r.URL.Path,
		URL:              url,
		PaymentHeader:    payment,
		DuplicatePayment: len(payments) > 1,
		Accept:           r.Header.Get("Accept"),
		UserAgent:        r.Header.Get("User-Agent"),
	}
}

func writeResponse(w http.ResponseWriter, resp Response) {
	if resp.ContentType != "" {
		w.Header().Set("Content-Type", resp.ContentType)
	}
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}

// settleWriter defers settlement to the moment the downstream response
// commits. A success status settles first and attaches the receipt
// header; on settlement failure the downstream response is discarded
// and replaced with a 402 re-challenge. An error status passes through
// untouched and the payer is never billed.
type settleWriter struct {
	http.ResponseWriter
	svc     *Service
	result  Result
	request *http.Request

	committed bool
	discard   bool
}

func (sw *settleWriter) WriteHeader(status int) {
	if sw.committed {
		return
	}
	sw.committed = true

	if status >= http.StatusBadRequest {
		sw.ResponseWriter.WriteHeader(status)
		return
	}

	header, _, err := sw.svc.Settle(sw.request.Context(), sw.result)
	if err != nil {
		reason := x402.Reason(err)
		sw.svc.logger.Warn("settlement failed after successful handler",
			"path", sw.request.URL.Path, "reason", reason, "error", err)
		sw.discard = true
		// The re-challenge still carries the failed receipt so the
		// payer can see what the facilitator reported.
		if header != "" {
			sw.Header().Set(x402.PaymentResponseHeader, header)
		}
		writeResponse(sw.ResponseWriter, sw.svc.SettleFailedResponse(sw.result, reason))
		return
	}

	sw.Header().Set(x402.PaymentResponseHeader, header)
	sw.ResponseWriter.WriteHeader(status)
}

func (sw *settleWriter) Write(b []byte) (int, error) {
	if !sw.committed {
		sw.WriteHeader(http.StatusOK)
	}
	if sw.discard {
		// Pretend the bytes were written so the handler completes
		// normally; the replacement 402 is already on the wire.
		return len(b), nil
	}
	return sw.ResponseWriter.Write(b)
}

// finish commits a response the handler never started. An empty 200
// still settles.
func (sw *settleWriter) finish() {
	if !sw.committed {
		sw.WriteHeader(http.StatusOK)
	}
}

func (sw *settleWriter) Flush() {
	if f, ok := sw.ResponseWriter.(http.Flusher); ok && !sw.discard {
		f.Flush()
	}
}

func (sw *settleWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sw.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, http.ErrNotSupported
}

func (sw *settleWriter) Push(target string, opts *http.PushOptions) error {
	if p, ok := sw.ResponseWriter.(http.Pusher); ok {
		return p.Push(target, opts)
	}
	return http.ErrNotSupported
}
