// Package certexchange submits the device CSR to the backend and stores the
// signed certificate pair.
//
// The request carries the device id, the fixed CSR baked into the image and
// the provisioning token; the backend derives the owning user from the token.
// Every failure, whatever its cause, is reported as ErrCsrExchangeFailed so
// the orchestrator can simply retry. The cause stays in the chain
// (ErrTransport or ErrProtocol) for logging.
package certexchange
