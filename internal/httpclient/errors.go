package httpclient

import (
	"encoding/json"
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindTimeout ErrorKind = "timeout"
	KindNetwork ErrorKind = "network"
	KindStatus  ErrorKind = "status"
)

type HTTPError struct {
	Kind       ErrorKind
	Method     string
	Path       string
	StatusCode int
	Body       []byte
	Err        error
}

func (e *HTTPError) Error() string {
	if e.Kind == KindStatus {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: %s: %v", e.Method, e.Path, e.Kind, e.Err)
}

func (e *HTTPError) Unwrap() error { return e.Err }

// ServerMessage extracts the "error"/"message" field of a JSON error body.
func (e *HTTPError) ServerMessage() string {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(e.Body, &body) != nil {
		return ""
	}
	if body.Error != "" {
		return body.Error
	}
	return body.Message
}

// ServerCode extracts the machine-readable "code" field of a JSON error body.
func (e *HTTPError) ServerCode() string {
	var body struct {
		Code string `json:"code"`
	}
	if json.Unmarshal(e.Body, &body) != nil {
		return ""
	}
	return body.Code
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.StatusCode
	}
	return 0
}

func IsStatus(err error, status int) bool {
	return status != 0 && StatusCode(err) == status
}
