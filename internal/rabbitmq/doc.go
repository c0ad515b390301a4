// Package rabbitmq manages the broker connection used by the JSONP relay.
//
// ConnectionManager dials RabbitMQ, opens channels on the live connection and
// reconnects with exponential backoff when the broker drops it. Listeners can
// follow the connection state.
package rabbitmq
