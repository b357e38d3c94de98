// Package revocation holds the live refresh-token records, keyed by jti.
//
// A refresh token is valid only while its record exists. Deleting the record
// revokes the token; Redis TTL retires records once the token would have
// expired anyway. Every mutation is a single atomic round trip, so concurrent
// callers across processes observe exactly one successful Take per jti.
package revocation
