// Package password implements credential hashing and verification.
//
// # Output format
//
// New hashes are argon2id in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Hashes written by older deployments in bcrypt format ($2a$, $2b$, $2y$) are
// still verified. [Hasher.NeedsUpgrade] reports true for them, and for argon2id
// hashes made with weaker parameters, so the caller can re-hash on the next
// successful login.
//
// # Architecture boundaries
//
// This package owns hashing and verification only. It never stores passwords
// and never logs plaintext or hash material.
package password
