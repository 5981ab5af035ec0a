package executor

import "context"

// Request is the rendered form of an endpoint iteration's method, URL,
// headers, and body, ready for dispatch.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
}

// Response is what the external HTTP client hands back. On failure to
// connect, on timeout, or on any non-HTTP-response failure, Transport.Do
// returns a non-nil error instead of a Response.
type Response struct {
	Status  int
	Headers map[string]string
	Body    []byte
}

// Transport dispatches one rendered request and awaits its response.
// The concrete HTTP client is an external collaborator; pewpew's core
// only depends on this function-shaped boundary.
type Transport interface {
	Do(ctx context.Context, req Request) (Response, error)
}
