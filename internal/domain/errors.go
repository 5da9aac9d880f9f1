package domain

import "errors"

var (
	// ErrGenerationFailure indicates the platform CSPRNG or key generator is
	// unavailable. Fatal: no secure session can be started.
	ErrGenerationFailure = errors.New("key generation failed")

	// ErrWrapFailure indicates a session key could not be encrypted under the
	// recipient's public key. Recoverable by re-fetching the peer's identity.
	ErrWrapFailure = errors.New("key wrap failed")

	// ErrUnwrapFailure indicates a wrapped key could not be decrypted with the
	// local private key.
	ErrUnwrapFailure = errors.New("key unwrap failed")

	// ErrAuthenticationFailure indicates an envelope failed tag verification:
	// wrong key, corruption, or tampering. Never retried with the same inputs.
	ErrAuthenticationFailure = errors.New("envelope authentication failed")

	// ErrDeliveryTimeout indicates neither the relay race nor the fallback
	// store delivered the wrapped key. The whole handshake may be retried.
	ErrDeliveryTimeout = errors.New("key delivery timed out on all paths")

	// ErrCacheIntegrity indicates a cached key failed to decrypt under the
	// supplied master key.
	ErrCacheIntegrity = errors.New("key cache integrity check failed")

	// ErrNoKey is the sentinel returned to a non-initiator whose chat has no
	// usable key yet. Callers surface a "waiting for secure channel" state.
	ErrNoKey = errors.New("no usable key for chat")

	// ErrConflict is returned by conditional store updates when the record is
	// not in the expected status.
	ErrConflict = errors.New("record not in expected status")

	// ErrKeyNotFound indicates the referenced session key record does not exist.
	ErrKeyNotFound = errors.New("session key not found")

	// ErrExchangeInFlight indicates a handshake for the chat is already
	// pending or sent; the caller coalesces with it instead of starting a
	// second one.
	ErrExchangeInFlight = errors.New("key exchange already in flight for chat")

	// ErrStaleAck indicates an acknowledgment for an unknown or already
	// expired key. Ignored, never reapplied.
	ErrStaleAck = errors.New("stale key acknowledgment")

	// ErrMalformedEvent indicates a relay payload that failed boundary parsing.
	ErrMalformedEvent = errors.New("malformed relay event")

	// ErrRelayUnavailable indicates no relay endpoint acknowledged a publish
	// within the deadline.
	ErrRelayUnavailable = errors.New("no relay endpoint acknowledged")
)
