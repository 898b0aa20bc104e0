package certexchange

import "errors"

var (
	// ErrCsrExchangeFailed wraps every SubmitCSR failure.
	ErrCsrExchangeFailed = errors.New("certexchange: csr exchange failed")

	// ErrTransport indicates the request did not complete (DNS, TCP, TLS, timeout).
	ErrTransport = errors.New("certexchange: transport error")

	// ErrProtocol indicates an unexpected status or a malformed response body.
	ErrProtocol = errors.New("certexchange: protocol error")
)
