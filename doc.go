// Package credentiald is the client library for a local authentication
// daemon that mints and validates short-lived, signed, host-scoped
// credentials encoding a process's effective user and group identity
// (spec.md §1/§6 "Library entry points"). Callers build a Context,
// then call Encode to mint a credential or Decode to validate one; both
// calls dial the daemon's local socket, exchange one framed request/
// response pair, and return a typed Error on any rejection.
//
// The daemon itself lives in credentiald/internal/daemon; this package
// is the thin client half of the same protocol.
package credentiald
