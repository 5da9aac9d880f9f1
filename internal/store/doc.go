// Package store provides the secure local key cache and the record-store
// adapters.
//
// KeyCache is the at-rest side of the session: key material and the private
// identity key, wrapped under a passphrase-derived master key before they
// touch disk. Memory is the in-process record store used by tests; HTTP is
// the client for the hosted record store.
package store
