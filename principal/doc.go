// Package principal defines the account state the session engine reads on
// every verification and rotation: the password hash, the token version and
// the time the password last changed.
//
// The engine never caches principals; each check reads the store so a
// password change takes effect on the next request.
package principal
