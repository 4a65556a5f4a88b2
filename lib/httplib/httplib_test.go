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
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"

	"github.com/gravitational/trace"
	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/require"

	gateway "github.com/Johnie198946/Authen-sub000"
)

var uuidRE = regexp.MustCompile(`^[0-9a-f-]{36}$`)

func TestCorrelationHandler(t *testing.T) {
	t.Parallel()

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The id must be available to handlers through the context.
		require.NotEmpty(t, RequestIDFromContext(r.Context()))
		w.WriteHeader(http.StatusTeapot)
	})

	var completed []CompletionInfo
	handler := NewCorrelationHandler(CorrelationConfig{
		Handler: inner,
		OnComplete: func(r *http.Request, info CompletionInfo) {
			completed = append(completed, info)
		},
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	// Inbound correlation headers are ignored; the gateway is the origin.
	req.Header.Set(gateway.HeaderRequestID, "spoofed")
	handler.ServeHTTP(rec, req)

	id := rec.Header().Get(gateway.HeaderRequestID)
	require.Regexp(t, uuidRE, id)
	require.NotEqual(t, "spoofed", id)

	require.Len(t, completed, 1)
	require.Equal(t, id, completed[0].RequestID)
	require.Equal(t, http.StatusTeapot, completed[0].Status)
}

func TestCorrelationHandlerRecoversPanics(t *testing.T) {
	t.Parallel()

	handler := NewCorrelationHandler(CorrelationConfig{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("secret stack detail")
		}),
	})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, gateway.CodeInternalError, body.ErrorCode)
	require.Equal(t, "gateway internal error", body.Message)
	require.NotContains(t, rec.Body.String(), "secret stack detail")
}

func TestMakeHandlerEnvelope(t *testing.T) {
	t.Parallel()

	tts := []struct {
		name       string
		fn         HandlerFunc
		wantStatus int
		wantCode   string
		wantMsg    string
	}{
		{
			name: "tagged error keeps status and code",
			fn: func(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
				return nil, NewError(http.StatusForbidden, gateway.CodeUserNotBound, "user is not bound to this application")
			},
			wantStatus: http.StatusForbidden,
			wantCode:   gateway.CodeUserNotBound,
			wantMsg:    "user is not bound to this application",
		},
		{
			name: "wrapped tagged error keeps status and code",
			fn: func(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
				return nil, trace.Wrap(NewError(http.StatusTooManyRequests, gateway.CodeRateLimitExceeded, "rate limit exceeded"))
			},
			wantStatus: http.StatusTooManyRequests,
			wantCode:   gateway.CodeRateLimitExceeded,
			wantMsg:    "rate limit exceeded",
		},
		{
			name: "access denied maps to invalid credentials",
			fn: func(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
				return nil, trace.AccessDenied("bad secret for app 12345")
			},
			wantStatus: http.StatusUnauthorized,
			wantCode:   gateway.CodeInvalidCredentials,
			wantMsg:    "invalid application credentials",
		},
		{
			name: "arbitrary errors are opaque internal failures",
			fn: func(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
				return nil, trace.Errorf("pq: connection reset by peer")
			},
			wantStatus: http.StatusInternalServerError,
			wantCode:   gateway.CodeInternalError,
			wantMsg:    "gateway internal error",
		},
	}

	for _, tt := range tts {
		t.Run(tt.name, func(t *testing.T) {
			router := httprouter.New()
			router.GET("/x", MakeHandler(tt.fn))

			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/x", nil)
			req = req.WithContext(ContextWithRequestID(req.Context(), "req-1"))
			router.ServeHTTP(rec, req)

			require.Equal(t, tt.wantStatus, rec.Code)
			var body ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			require.Equal(t, tt.wantCode, body.ErrorCode)
			require.Equal(t, tt.wantMsg, body.Message)
			require.Equal(t, "req-1", body.RequestID)

			// The envelope has exactly three fields.
			var generic map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &generic))
			require.Len(t, generic, 3)
		})
	}
}

func TestMakeHandlerRawResponse(t *testing.T) {
	t.Parallel()

	router := httprouter.New()
	router.GET("/x", MakeHandler(func(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error) {
		return &RawResponse{Status: http.StatusCreated, Body: json.RawMessage(`{"user_id":"u1"}`)}, nil
	}))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))

	require.Equal(t, http.StatusCreated, rec.Code)
	require.JSONEq(t, `{"user_id":"u1"}`, rec.Body.String())
}

func TestCodeForStatus(t *testing.T) {
	t.Parallel()

	require.Equal(t, gateway.CodeLoginMethodDisabled, CodeForStatus(400))
	require.Equal(t, gateway.CodeInvalidCredentials, CodeForStatus(401))
	require.Equal(t, gateway.CodeAppDisabled, CodeForStatus(403))
	require.Equal(t, gateway.CodeNotFound, CodeForStatus(404))
	require.Equal(t, gateway.CodeValidationError, CodeForStatus(422))
	require.Equal(t, gateway.CodeRateLimitExceeded, CodeForStatus(429))
	require.Equal(t, gateway.CodeInternalError, CodeForStatus(500))
	require.Equal(t, gateway.CodeUpstreamError, CodeForStatus(502))
	require.Equal(t, gateway.CodeServiceUnavailable, CodeForStatus(503))
}
