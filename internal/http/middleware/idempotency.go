package middleware

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/sandeepkv93/feature-flag-control-plane/internal/http/response"
	"github.com/sandeepkv93/feature-flag-control-plane/internal/service"
)

const (
	IdempotencyKeyHeader      = "Idempotency-Key"
	idempotencyReplayedHeader = "X-Idempotency-Replayed"
	maxIdempotencyKeyLength   = 128
	maxIdempotentBodyBytes    = 1 << 20
)

// Idempotency replays the stored response when a write is retried with the
// same Idempotency-Key. Requests without the header pass through. Server
// errors are not stored, so a retry after a 5xx runs again.
func Idempotency(store service.IdempotencyStore, scope string, ttl time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
			if store == nil || key == "" || isReadOnlyMethod(r.Method) {
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > maxIdempotencyKeyLength {
				response.Error(w, r, http.StatusBadRequest, response.CodeBadRequest, "Idempotency-Key is too long", nil)
				return
			}
			body, err := io.ReadAll(io.LimitReader(r.Body, maxIdempotentBodyBytes+1))
			if err != nil || len(body) > maxIdempotentBodyBytes {
				response.Error(w, r, http.StatusBadRequest, response.CodeBadRequest, "request body could not be read", nil)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			fingerprint := requestFingerprint(r, body)

			ctx := r.Context()
			begin, err := store.Begin(ctx, scope, key, fingerprint, ttl)
			if err != nil {
				slog.WarnContext(ctx, "idempotency store unavailable, processing request", "scope", scope, "error", err.Error())
				next.ServeHTTP(w, r)
				return
			}
			switch begin.State {
			case service.IdempotencyStateReplay:
				w.Header().Set(idempotencyReplayedHeader, "true")
				if begin.Cached.ContentType != "" {
					w.Header().Set("Content-Type", begin.Cached.ContentType)
				}
				w.WriteHeader(begin.Cached.StatusCode)
				_, _ = w.Write(begin.Cached.Body)
				return
			case service.IdempotencyStateConflict:
				response.Error(w, r, http.StatusConflict, response.CodeConflict, "Idempotency-Key was already used for a different request", nil)
				return
			case service.IdempotencyStateInProgress:
				w.Header().Set("Retry-After", "1")
				response.Error(w, r, http.StatusConflict, response.CodeConflict, "a request with this Idempotency-Key is still in progress", nil)
				return
			}

			rec := &capturingWriter{ResponseWriter: w, status: http.StatusOK}
			func() {
				// A panicking handler must not leave the key in progress.
				defer func() {
					if p := recover(); p != nil {
						if err := store.Abandon(context.WithoutCancel(ctx), scope, key, fingerprint); err != nil {
							slog.WarnContext(ctx, "idempotency abandon failed", "scope", scope, "error", err.Error())
						}
						panic(p)
					}
				}()
				next.ServeHTTP(rec, r)
			}()

			if rec.status >= http.StatusInternalServerError {
				if err := store.Abandon(ctx, scope, key, fingerprint); err != nil {
					slog.WarnContext(ctx, "idempotency abandon failed", "scope", scope, "error", err.Error())
				}
				return
			}
			if err := store.Complete(ctx, scope, key, fingerprint, service.CachedHTTPResponse{
				StatusCode:  rec.status,
				ContentType: rec.Header().Get("Content-Type"),
				Body:        rec.body.Bytes(),
			}, ttl); err != nil {
				slog.WarnContext(ctx, "idempotency complete failed", "scope", scope, "error", err.Error())
			}
		})
	}
}

// requestFingerprint binds a key to one request: method, path, the acting
// identity and the body.
func requestFingerprint(r *http.Request, body []byte) string {
	d := xxhash.New()
	_, _ = d.WriteString(r.Method)
	_, _ = d.WriteString("\n")
	_, _ = d.WriteString(r.URL.RequestURI())
	_, _ = d.WriteString("\n")
	_, _ = d.WriteString(ActorOrIPKey(r))
	_, _ = d.WriteString("\n")
	_, _ = d.Write(body)
	return strconv.FormatUint(d.Sum64(), 16)
}

type capturingWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func (c *capturingWriter) WriteHeader(status int) {
	if !c.wroteHeader {
		c.status = status
		c.wroteHeader = true
	}
	c.ResponseWriter.WriteHeader(status)
}

func (c *capturingWriter) Write(p []byte) (int, error) {
	if !c.wroteHeader {
		c.WriteHeader(http.StatusOK)
	}
	c.body.Write(p)
	return c.ResponseWriter.Write(p)
}
