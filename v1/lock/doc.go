// Package lock coordinates the exclusive edit lease of one team calendar
// target.
//
// The lease lives on the server. A Coordinator acquires it, renews it with a
// fixed five second heartbeat, re-checks ownership right before a save and
// releases it when editing ends. Conflicts and infrastructure failures are
// reported through Status, never as returned errors, and every ambiguous
// outcome fails closed: the caller is told it cannot safely proceed.
//
// Lost, Blocked and Error are terminal until AcquireForEdit is called again;
// the coordinator never recovers on its own.
package lock
