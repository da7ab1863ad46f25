package httpclient

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	apperrors "github.com/utafrali/cartsync/pkg/errors"
)

// errorEnvelope is the httputil error body.
type errorEnvelope struct {
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// ParseResponseError consumes and closes a non-2xx response and returns the
// matching AppError. A structured body keeps its code and message; any
// other body becomes the message under a code derived from the status.
func ParseResponseError(resp *http.Response, upstream string) error {
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%s returned status %d (failed to read body: %w)", upstream, resp.StatusCode, err)
	}

	code, msg := "", string(raw)
	var env errorEnvelope
	if json.Unmarshal(raw, &env) == nil && env.Error != nil {
		code, msg = env.Error.Code, env.Error.Message
	}
	msg = upstream + ": " + msg

	// Session loss must stay detectable whatever the body says.
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return apperrors.Unauthorized(msg)
	case http.StatusForbidden:
		return apperrors.Forbidden(msg)
	case http.StatusConflict:
		return apperrors.Conflict(msg)
	}

	sentinel, fallback := classify(resp.StatusCode)
	if code == "" {
		code = fallback
	}
	return &apperrors.AppError{Code: code, Message: msg, Status: resp.StatusCode, Err: sentinel}
}

func classify(status int) (error, string) {
	switch {
	case status == http.StatusNotFound:
		return apperrors.ErrNotFound, "NOT_FOUND"
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		return apperrors.ErrInvalidInput, "INVALID_INPUT"
	case status == http.StatusTooManyRequests, status >= 500:
		return apperrors.ErrServiceUnavail, "SERVICE_UNAVAILABLE"
	}
	return nil, "UPSTREAM_ERROR"
}
