// Package auth holds the room authorization policy and the bearer-token
// verifier.
//
// CanJoin is a pure function deciding whether an identity may join a room
// name; it enforces the fixed room grammar and the private-room rule
// (user:<id> is joinable only by user <id>). TokenVerifier resolves
// HMAC-signed JWTs into identities at handshake time.
package auth
