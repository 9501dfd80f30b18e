// Package client implements the consumer side of the diary protocol: the
// mutation client for writes and the reconnecting subscriber that mirrors the
// server's entry list from the event stream.
package client

import (
	"fmt"
	"io"
	"net/http"
)

// ClientRequestError reports a 4xx response: the request itself was wrong and
// retrying it unchanged will not help.
type ClientRequestError struct {
	StatusCode int
	Body       string
}

func (e *ClientRequestError) Error() string {
	return fmt.Sprintf("client request rejected with status %d: %s", e.StatusCode, e.Body)
}

// ServerResponseError reports a 5xx response: the server failed to process an
// otherwise well-formed request.
type ServerResponseError struct {
	StatusCode int
	Body       string
}

func (e *ServerResponseError) Error() string {
	return fmt.Sprintf("server failed with status %d: %s", e.StatusCode, e.Body)
}

// TransportError reports a network-level failure before any HTTP status was
// received: connection refused, timeout, interrupted stream.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport failure during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// classifyResponse maps an HTTP status outside the 2xx range onto the typed
// error taxonomy, consuming the body for diagnostics.
func classifyResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return &ClientRequestError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return &ServerResponseError{StatusCode: resp.StatusCode, Body: string(body)}
}
