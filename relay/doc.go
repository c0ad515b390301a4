// Package relay performs JSONP fetches on behalf of AMQP clients.
//
// A Relay consumes contracts.FetchRequest messages from a queue, runs each one
// through an interceptors.Handler and publishes a contracts.FetchReply to the
// request's ReplyTo queue under the same correlation id. Malformed requests
// are rejected without requeue. Requests interrupted by shutdown are requeued.
package relay
