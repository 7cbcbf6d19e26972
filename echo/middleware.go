// Package echo adapts the x402 payment gate to labstack/echo
// middleware chains.
package echo

import (
	"net/http"

	"github.com/labstack/echo/v4"

	x402 "github.com/x402labs/x402-go"
	x402http "github.com/x402labs/x402-go/http"
)

// Middleware gates echo routes behind svc. Handler errors propagate to
// echo's error handler without billing the payer; successful responses
// settle at commit time and carry the receipt header.
func Middleware(svc *x402http.Service) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			payments := req.Header.Values(x402.PaymentHeader)
			payment := ""
			if len(payments) > 0 {
				payment = payments[0]
			}
			result := svc.Evaluate(req.Context(), x402http.Request{
				Method:           req.Method,
				Path:             req.URL.Path,
				URL:              c.Scheme() + "://" + req.Host + req.URL.RequestURI(),
				PaymentHeader:    payment,
				DuplicatePayment: len(payments) > 1,
				Accept:           req.Header.Get("Accept"),
				UserAgent:        req.Header.Get("User-Agent"),
			})

			switch result.Kind {
			case x402http.ResultPassthrough:
				return next(c)
			case x402http.ResultRespond:
				return c.Blob(result.Response.Status, result.Response.ContentType, result.Response.Body)
			}

			req.Header.Del(x402.PaymentHeader)

			// Settlement commits when the handler's response does, so
			// echo's Response must write through the interceptor. On
			// settlement failure the handler's body is discarded and
			// the 402 re-challenge goes out instead.
			response := c.Response()
			writer := &settleWriter{ResponseWriter: response.Writer, svc: svc, req: req, result: result}
			response.Writer = writer

			if err := next(c); err != nil {
				// Unwritten responses stay unbilled; echo's error
				// handler takes over, and the interceptor refuses to
				// settle its error status.
				return err
			}
			if !response.Committed {
				// Handler returned without writing; an empty 200 still
				// bills.
				if err := c.NoContent(http.StatusOK); err != nil {
					return err
				}
			}
			return nil
		}
	}
}

// settleWriter settles at response commit time, mirroring the net/http
// middleware: success statuses settle and gain the receipt header,
// error statuses pass through unbilled, and settlement failure
// replaces the response with a 402 re-challenge carrying the failed
// receipt.
type settleWriter struct {
	http.ResponseWriter
	svc    *x402http.Service
	req    *http.Request
	result x402http.Result

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

	header, _, err := sw.svc.Settle(sw.req.Context(), sw.result)
	if err != nil {
		sw.discard = true
		failed := sw.svc.SettleFailedResponse(sw.result, x402.Reason(err))
		if header != "" {
			sw.Header().Set(x402.PaymentResponseHeader, header)
		}
		sw.Header().Set("Content-Type", failed.ContentType)
		sw.ResponseWriter.WriteHeader(failed.Status)
		_, _ = sw.ResponseWriter.Write(failed.Body)
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

func (sw *settleWriter) Flush() {
	if f, ok := sw.ResponseWriter.(http.Flusher); ok && !sw.discard {
		f.Flush()
	}
}
