// Package token encodes and decodes the signed claim sets used for access,
// refresh, verification and password-reset credentials.
//
// The signing algorithm is fixed per Codec. Decode rejects any token whose
// header asserts a different algorithm, including "none".
package token
