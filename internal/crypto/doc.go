// Package crypto composes the platform primitives used by frostchat.
//
// Contents
//
//   - AEAD envelope sealing/opening with AES-256-GCM (Seal, Open) and the
//     authenticated message form that binds sender and timestamp into the
//     plaintext (SealMessage, OpenMessage)
//   - Session-key and RSA-2048 identity generation (NewSessionKey,
//     NewIdentityKeyPair)
//   - RSA-OAEP key wrapping for exchange (WrapKey, UnwrapKey)
//   - Master-key derivation from a passphrase (DeriveMasterKey) and the
//     deterministic bootstrap key (BootstrapKey)
//   - Short public-key fingerprints for display/logging (Fingerprint)
//
// # Notes
//
// No cipher primitive is implemented here; everything is a thin composition
// of crypto/aes, crypto/cipher, crypto/rsa and golang.org/x/crypto. Callers
// should treat returned secrets as sensitive and rely on memzero.Zero when
// practical to reduce lifetime in memory.
package crypto
