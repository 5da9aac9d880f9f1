// Package identity manages the device's long-term RSA key pair: generated
// at most once per identity per device, private half sealed into the local
// cache, public half published to the directory for key wrapping.
package identity
