// Package session owns refresh tokens: their opaque wire form, the persisted
// record and the stores that rotate them.
//
// # Token format
//
// A refresh token is 32 random bytes, base64url encoded without padding.
// Stores never see the token itself, only its SHA-256 hex digest.
//
// # Rotation
//
// Presenting a token to [Store.Rotate] revokes it and persists its successor
// in one atomic step. Concurrent rotations of the same token have exactly one
// winner. Every successor keeps the family id of the token it replaced, so
// one login yields one lineage with at most one live token.
//
// # Architecture boundaries
//
// This package does not parse access tokens or evaluate permissions. Those
// belong to the Engine.
package session
