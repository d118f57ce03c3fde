package transport

import "errors"

// ErrTLSRefused is returned when the server responds to an SSLRequest
// with 'N', declining to negotiate TLS.
var ErrTLSRefused = errors.New("transport: server refused TLS negotiation")

// ErrGSSRefused is returned when the server responds to a
// GSSENCRequest with 'N'.
var ErrGSSRefused = errors.New("transport: server refused GSS encryption negotiation")
