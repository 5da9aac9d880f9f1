// Package rotation periodically replaces aged session keys.
//
// The scheduler is an interval check, not a precise timer: rotation landing
// somewhat after the configured age is expected when the process slept.
// Only the initiating party of a chat rotates; the role-based tie-break is
// what keeps the two participants from racing to mint conflicting keys.
package rotation
