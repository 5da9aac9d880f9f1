// Package channel is the facade other subsystems call into the secure
// channel through. The message composer and the calling subsystem get a
// usable key and envelope operations from here and from nowhere else, so
// key lookup and the AEAD call stay atomic from the caller's perspective.
package channel
