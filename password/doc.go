// Package password hashes and verifies credentials with Argon2id.
//
// Hashes are PHC strings:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// When a stored hash was produced with weaker parameters than the current
// Config, [Hasher.NeedsRehash] reports true so the caller can upgrade it after
// the next successful verification.
//
// This package never stores or logs passwords.
package password
