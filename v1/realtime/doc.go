// Package realtime keeps a team calendar subscribed to its change topic over a
// reconnecting WebSocket connection.
//
// A Channel speaks the minimal STOMP framing of package frame: it sends
// CONNECT on open, SUBSCRIBE once CONNECTED arrives and hands every MESSAGE
// payload whose calendarId matches the subscription to the update callback.
// Transport failures are never surfaced; a closed connection schedules a
// reconnect with capped exponential backoff for as long as the channel lives.
//
// Notifications carry no ordering guarantee across transport messages. They
// mean "re-validate against the source of truth", not "apply this delta".
package realtime
