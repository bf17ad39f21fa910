// Package apierr defines the gateway error taxonomy and renders every error
// as a JSON body of the form {"detail": "<message>"}.
package apierr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	InternalError Kind = iota
	InvalidToken
	Forbidden
	RateLimited
	UnknownService
	NotFound
	MethodNotAllowed
	Overloaded
	DownstreamTimeout
	DownstreamUnreachable
)

type kindInfo struct {
	name    string
	status  int
	message string
}

var kinds = map[Kind]kindInfo{
	InternalError:         {"internal_error", http.StatusInternalServerError, "Internal server error"},
	InvalidToken:          {"invalid_token", http.StatusUnauthorized, "Could not validate credentials"},
	Forbidden:             {"forbidden", http.StatusForbidden, "Insufficient permissions"},
	RateLimited:           {"rate_limited", http.StatusTooManyRequests, "Rate limit exceeded"},
	UnknownService:        {"unknown_service", http.StatusNotFound, "Service not found"},
	NotFound:              {"not_found", http.StatusNotFound, "Not Found"},
	MethodNotAllowed:      {"method_not_allowed", http.StatusMethodNotAllowed, "Method Not Allowed"},
	Overloaded:            {"overloaded", http.StatusServiceUnavailable, "Service overloaded"},
	DownstreamTimeout:     {"downstream_timeout", http.StatusGatewayTimeout, "Service timeout"},
	DownstreamUnreachable: {"downstream_unreachable", http.StatusBadGateway, "Service unavailable"},
}

func (k Kind) String() string {
	if info, ok := kinds[k]; ok {
		return info.name
	}
	return kinds[InternalError].name
}

// Status returns the HTTP status code for the kind.
func (k Kind) Status() int {
	if info, ok := kinds[k]; ok {
		return info.status
	}
	return http.StatusInternalServerError
}

// Message returns the default client-facing message for the kind.
func (k Kind) Message() string {
	if info, ok := kinds[k]; ok {
		return info.message
	}
	return kinds[InternalError].message
}

// Error is a classified gateway error. Detail is what the client sees; Err is
// the cause and is only ever logged.
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

func New(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

func Wrap(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

func (e *Error) Error() string {
	msg := e.detail()
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) detail() string {
	if e.Detail != "" && e.Kind != InternalError {
		return e.Detail
	}
	return e.Kind.Message()
}

// KindOf reports the kind of err, InternalError for anything unclassified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return InternalError
}

type body struct {
	Detail string `json:"detail"`
}

// Write renders err as a JSON response. Unclassified errors become a generic
// 500 so no internal detail leaks to the caller.
func Write(w http.ResponseWriter, err error) {
	var e *Error
	if !errors.As(err, &e) {
		e = Wrap(InternalError, err)
	}
	WriteStatus(w, e.Kind.Status(), e.detail())
}

// WriteKind renders the default message for kind.
func WriteKind(w http.ResponseWriter, kind Kind) {
	WriteStatus(w, kind.Status(), kind.Message())
}

func WriteStatus(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Del("Content-Length")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body{Detail: detail})
}
