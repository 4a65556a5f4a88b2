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

// Package httplib implements common utility functions for the gateway's
// HTTP handlers: the unified error envelope, request correlation and the
// handler adapter that turns tagged results into wire responses.
package httplib

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gravitational/trace"
	"github.com/julienschmidt/httprouter"

	gateway "github.com/Johnie198946/Authen-sub000"
)

// Error is the tagged failure result every pipeline stage returns. It is
// converted to the wire envelope exactly once, at the outermost adapter.
type Error struct {
	// Status is the HTTP status to reply with.
	Status int
	// Code is one of the closed gateway error code set.
	Code string
	// Message is the human readable description. For 5xx failures it is
	// always a generic string; downstream detail never leaks.
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%v %v: %v", e.Status, e.Code, e.Message)
}

// NewError returns a tagged gateway error.
func NewError(status int, code, message string) *Error {
	return &Error{Status: status, Code: code, Message: message}
}

// CodeForStatus supplies the default machine-readable code when a failure
// arrives without one.
func CodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return gateway.CodeLoginMethodDisabled
	case http.StatusUnauthorized:
		return gateway.CodeInvalidCredentials
	case http.StatusForbidden:
		return gateway.CodeAppDisabled
	case http.StatusNotFound:
		return gateway.CodeNotFound
	case http.StatusUnprocessableEntity:
		return gateway.CodeValidationError
	case http.StatusTooManyRequests:
		return gateway.CodeRateLimitExceeded
	case http.StatusBadGateway:
		return gateway.CodeUpstreamError
	case http.StatusServiceUnavailable:
		return gateway.CodeServiceUnavailable
	default:
		return gateway.CodeInternalError
	}
}

// ErrorResponse is the wire form of every failure: exactly three fields,
// no more.
type ErrorResponse struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
}

// RawResponse carries a downstream body to the client untouched.
type RawResponse struct {
	// Status is the HTTP status to reply with.
	Status int
	// Body is a well-formed JSON document.
	Body json.RawMessage
}

// HandlerFunc is an HTTP handler function that returns a result or an
// error. A *RawResponse result is passed through verbatim; any other
// non-nil result is marshalled with status 200.
type HandlerFunc func(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error)

// MakeHandler returns a new httprouter.Handle from a handler func.
func MakeHandler(fn HandlerFunc) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		out, err := fn(w, r, p)
		if err != nil {
			ReplyError(w, r, err)
			return
		}
		switch body := out.(type) {
		case *RawResponse:
			ReplyRaw(w, body.Status, body.Body)
		case nil:
			w.WriteHeader(http.StatusNoContent)
		default:
			ReplyJSON(w, http.StatusOK, out)
		}
	}
}

// ReadJSON reads the request body and unmarshals it into val. The body
// must be a JSON object; validation failures never echo field names back.
func ReadJSON(r *http.Request, val any) error {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return trace.Wrap(err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, val); err != nil {
		return NewError(http.StatusUnprocessableEntity, gateway.CodeValidationError, "malformed request body")
	}
	return nil
}

// ReadJSONObject reads the request body into a generic JSON object,
// tolerating an empty body.
func ReadJSONObject(r *http.Request) (map[string]any, error) {
	body := map[string]any{}
	if err := ReadJSON(r, &body); err != nil {
		return nil, trace.Wrap(err)
	}
	return body, nil
}

// ReplyJSON marshals out and writes it with the given status.
func ReplyJSON(w http.ResponseWriter, status int, out any) {
	data, err := json.Marshal(out)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprintf(w, `{"error_code":%q,"message":"gateway internal error","request_id":""}`, gateway.CodeInternalError)
		return
	}
	ReplyRaw(w, status, data)
}

// ReplyRaw writes a preserialized JSON body.
func ReplyRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}

// ReplyError converts err to the unified envelope and writes it. Tagged
// *Error values keep their status and code; trace-typed errors get a
// conservative mapping; anything else is an internal error with a fixed
// message so unexpected failure text never reaches the caller.
func ReplyError(w http.ResponseWriter, r *http.Request, err error) {
	gwErr := ConvertError(err)
	ReplyJSON(w, gwErr.Status, ErrorResponse{
		ErrorCode: gwErr.Code,
		Message:   gwErr.Message,
		RequestID: RequestIDFromContext(r.Context()),
	})
}

// ConvertError normalizes any error into a tagged gateway error.
func ConvertError(err error) *Error {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr
	}
	switch {
	case trace.IsNotFound(err):
		return NewError(http.StatusNotFound, gateway.CodeNotFound, "not found")
	case trace.IsAccessDenied(err):
		return NewError(http.StatusUnauthorized, gateway.CodeInvalidCredentials, "invalid application credentials")
	case trace.IsBadParameter(err):
		return NewError(http.StatusUnprocessableEntity, gateway.CodeValidationError, "invalid request")
	case trace.IsLimitExceeded(err):
		return NewError(http.StatusTooManyRequests, gateway.CodeRateLimitExceeded, "rate limit exceeded")
	default:
		return NewError(http.StatusInternalServerError, gateway.CodeInternalError, "gateway internal error")
	}
}
