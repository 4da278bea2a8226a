// Package token issues and verifies the signed session tokens handed to
// HTTP frontends after a successful sign-in. A token carries the session id,
// user id, and home datacenter as claims, letting edges route and reject
// requests without a store round trip before the full session validation.
package token
