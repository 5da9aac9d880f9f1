// Package server implements the development backend: the record-store REST
// API and the realtime broadcast hub the client's adapters talk to.
//
// It stands in for the hosted backend behind the same wire surface. It never
// sees key material in the clear; session-key records carry handshake
// metadata only and transfer records carry RSA-wrapped blobs.
package server
