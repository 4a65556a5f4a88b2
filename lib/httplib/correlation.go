/*
 * Authen Gateway
 * Copyright (C) 2026  Authen Authors
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

package httplib

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	gateway "github.com/Johnie198946/Authen-sub000"
)

type contextKey string

const requestIDKey contextKey = "gateway.request_id"

// RequestIDFromContext returns the correlation id generated for this
// request, or empty when called outside the correlation middleware.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// ContextWithRequestID stores a correlation id, used by tests that
// exercise handlers directly.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// ResponseRecorder wraps a ResponseWriter and remembers the status code
// so completion hooks can observe it.
type ResponseRecorder struct {
	http.ResponseWriter
	status int
	wrote  bool
}

// NewResponseRecorder wraps w.
func NewResponseRecorder(w http.ResponseWriter) *ResponseRecorder {
	return &ResponseRecorder{ResponseWriter: w, status: http.StatusOK}
}

// WriteHeader implements http.ResponseWriter.
func (r *ResponseRecorder) WriteHeader(status int) {
	if !r.wrote {
		r.status = status
		r.wrote = true
	}
	r.ResponseWriter.WriteHeader(status)
}

// Write implements http.ResponseWriter.
func (r *ResponseRecorder) Write(b []byte) (int, error) {
	r.wrote = true
	return r.ResponseWriter.Write(b)
}

// Status returns the status code sent to the client.
func (r *ResponseRecorder) Status() int {
	return r.status
}

// CompletionInfo describes one finished request to the completion hook.
type CompletionInfo struct {
	// RequestID is the correlation id the response carried.
	RequestID string
	// Status is the HTTP status sent.
	Status int
	// Elapsed is the wall time the request took.
	Elapsed time.Duration
}

// CorrelationConfig configures the correlation middleware.
type CorrelationConfig struct {
	// Handler is the wrapped handler.
	Handler http.Handler
	// Clock measures elapsed time.
	Clock clockwork.Clock
	// Logger receives panic reports.
	Logger *slog.Logger
	// OnComplete, optional, runs after every request, success or failure.
	OnComplete func(r *http.Request, info CompletionInfo)
}

// NewCorrelationHandler wraps a handler with request correlation and a
// last-resort panic recovery. Every response carries an X-Request-Id
// header with a gateway-generated UUID; the id is never read from
// inbound headers. Panics become a 500 with the fixed internal message,
// never the panic text.
func NewCorrelationHandler(cfg CorrelationConfig) http.Handler {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := cfg.Clock.Now()
		requestID := uuid.NewString()
		ctx := ContextWithRequestID(r.Context(), requestID)
		r = r.WithContext(ctx)

		w.Header().Set(gateway.HeaderRequestID, requestID)
		recorder := NewResponseRecorder(w)

		defer func() {
			if p := recover(); p != nil {
				cfg.Logger.ErrorContext(ctx, "panic serving request",
					"panic", p, "path", r.URL.Path, "request_id", requestID)
				if !recorder.wrote {
					ReplyJSON(recorder, http.StatusInternalServerError, ErrorResponse{
						ErrorCode: gateway.CodeInternalError,
						Message:   "gateway internal error",
						RequestID: requestID,
					})
				}
			}
			if cfg.OnComplete != nil {
				cfg.OnComplete(r, CompletionInfo{
					RequestID: requestID,
					Status:    recorder.Status(),
					Elapsed:   cfg.Clock.Now().Sub(start),
				})
			}
		}()

		cfg.Handler.ServeHTTP(recorder, r)
	})
}
