package httpapi

import "errors"

var (
	// ErrHeaderTimeout is returned when the init-header slot does not
	// become ready within the bounded wait.
	ErrHeaderTimeout = errors.New("httpapi: header timeout")

	// ErrChannelNotFound is returned when a request names an unknown
	// channel id.
	ErrChannelNotFound = errors.New("httpapi: channel not found")

	// ErrPathRejected is returned when a requested HLS segment name
	// fails the path-safety check.
	ErrPathRejected = errors.New("httpapi: path rejected")
)
