// Package broker is the message-queue ingress side channel (part of
// C7): it launches the same executions pkg/ingress's HTTP surface
// does, but from a named queue instead of an HTTP request. No AMQP,
// STOMP, or Kafka client exists anywhere in the retrieved example
// repos' go.mod files, so this package is deliberately interface-only:
// Listener is the seam a real broker client would implement without
// pkg/engine or pkg/ingress knowing the difference. ChannelListener is
// the in-process stand-in used until one is wired up.
package broker
