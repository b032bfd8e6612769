// Package teamtest provides in-process stand-ins for the services the team
// calendar client talks to: a lock service answering the lease endpoints and
// a STOMP-over-WebSocket broker publishing calendar updates.
//
// They implement just enough server behaviour to exercise the client end to
// end and are meant for tests and local tooling only.
package teamtest
