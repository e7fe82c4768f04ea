package controller

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/mesh-intelligence/crudkit/pkg/types"
)

// Result is the outcome of a controller operation: an HTTP status and the
// value to serialize as the response body.
type Result struct {
	Status int
	Body   any
}

// OK reports whether the operation succeeded.
func (r Result) OK() bool { return r.Status >= 200 && r.Status < 300 }

// ErrorBody is the payload of every failed operation. Object echoes the
// input that was being saved, when there was one.
type ErrorBody struct {
	Error  string `json:"error"`
	Object any    `json:"object,omitempty"`
}

// ClassifySaveError maps a failed save to a response. Constraint violations
// and concurrency failures (anything matching types.ErrConflict) are 409;
// everything else is 500. The body carries the failure message and object.
func ClassifySaveError(err error, object any) Result {
	status := http.StatusInternalServerError
	if errors.Is(err, types.ErrConflict) {
		status = http.StatusConflict
	}
	return Result{Status: status, Body: ErrorBody{Error: err.Error(), Object: object}}
}

func notFound(entity, key string) Result {
	return Result{
		Status: http.StatusNotFound,
		Body:   ErrorBody{Error: fmt.Sprintf("The %s record could not be found for key: %s", entity, key)},
	}
}

// maxEcho bounds how much of a rejected payload is echoed back.
const maxEcho = 200

func unprocessable(entity string, payload []byte) Result {
	echo := []rune(string(payload))
	s := string(echo)
	if len(echo) > maxEcho {
		s = string(echo[:maxEcho]) + "..."
	}
	return Result{
		Status: http.StatusUnprocessableEntity,
		Body:   ErrorBody{Error: fmt.Sprintf("Cannot update %s with %s", entity, s)},
	}
}

func failure(status int, err error, object any) Result {
	return Result{Status: status, Body: ErrorBody{Error: err.Error(), Object: object}}
}
