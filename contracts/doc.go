// Package contracts provides the request, response and event types shared by
// the JSONP bridge, the interceptor pipeline and the relay.
//
// This package defines:
//   - Request: an immutable description of one outgoing request
//   - Response: the success envelope (URL, status, status text, body)
//   - ErrorResponse: the failure envelope, which also implements error
//   - Event: the tagged union emitted by an exchange (Sent, Success, Error)
//   - FetchRequest / FetchReply: the wire envelopes used by the relay
//
// The error texts of the JSONP sentinel errors are part of the observable
// contract and must not change.
package contracts
