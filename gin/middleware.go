// Package gin adapts the x402 payment gate to gin-gonic handler
// chains.
package gin

import (
	"github.com/gin-gonic/gin"

	x402 "github.com/x402labs/x402-go"
	x402http "github.com/x402labs/x402-go/http"
)

// Middleware gates gin routes behind svc. Verified requests run the
// rest of the chain with payment headers stripped; settlement happens
// when the response commits with a success status.
func Middleware(svc *x402http.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		payments := c.Request.Header.Values(x402.PaymentHeader)
		payment := ""
		if len(payments) > 0 {
			payment = payments[0]
		}
		result := svc.Evaluate(c.Request.Context(), x402http.Request{
			Method:           c.Request.Method,
			Path:             c.Request.URL.Path,
			URL:              requestURL(c),
			PaymentHeader:    payment,
			DuplicatePayment: len(payments) > 1,
			Accept:           c.GetHeader("Accept"),
			UserAgent:        c.GetHeader("User-Agent"),
		})

		switch result.Kind {
		case x402http.ResultPassthrough:
			c.Next()
		case x402http.ResultRespond:
			c.Data(result.Response.Status, result.Response.ContentType, result.Response.Body)
			c.Abort()
		case x402http.ResultProceed:
			c.Request.Header.Del(x402.PaymentHeader)

			writer := &settleWriter{ResponseWriter: c.Writer, svc: svc, c: c, result: result}
			c.Writer = writer
			c.Next()
			writer.finish()
		}
	}
}

func requestURL(c *gin.Context) string {
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + c.Request.Host + c.Request.URL.RequestURI()
}

// settleWriter settles at response commit time, mirroring the net/http
// middleware: success statuses settle and gain the receipt header,
// error statuses pass through unbilled, and settlement failure
// replaces the response with a 402 re-challenge.
type settleWriter struct {
	gin.ResponseWriter
	svc    *x402http.Service
	c      *gin.Context
	result x402http.Result

	committed bool
	discard   bool
}

func (sw *settleWriter) WriteHeader(status int) {
	if sw.committed {
		return
	}
	sw.committed = true

	if status >= 400 {
		sw.ResponseWriter.WriteHeader(status)
		return
	}

	header, _, err := sw.svc.Settle(sw.c.Request.Context(), sw.result)
	if err != nil {
		sw.discard = true
		resp := sw.svc.SettleFailedResponse(sw.result, x402.Reason(err))
		if header != "" {
			sw.Header().Set(x402.PaymentResponseHeader, header)
		}
		sw.Header().Set("Content-Type", resp.ContentType)
		sw.ResponseWriter.WriteHeader(resp.Status)
		_, _ = sw.ResponseWriter.Write(resp.Body)
		return
	}

	sw.Header().Set(x402.PaymentResponseHeader, header)
	sw.ResponseWriter.WriteHeader(status)
}

func (sw *settleWriter) Write(b []byte) (int, error) {
	if !sw.committed {
		sw.WriteHeader(sw.Status())
	}
	if sw.discard {
		return len(b), nil
	}
	return sw.ResponseWriter.Write(b)
}

func (sw *settleWriter) WriteString(s string) (int, error) {
	return sw.Write([]byte(s))
}

func (sw *settleWriter) finish() {
	if !sw.committed {
		sw.WriteHeader(sw.Status())
	}
}
