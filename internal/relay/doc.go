// Package relay implements the broadcast channel used to move wrapped keys
// between parties in real time.
//
// Endpoint speaks the websocket frame protocol to one relay server. Group
// fans a publish out to every configured endpoint and succeeds as soon as
// one of them acknowledges; redundancy tolerates endpoint flakiness, nothing
// more. Hub is an in-process implementation for tests.
//
// Delivery is at-least-once with no ordering guarantee. Group de-duplicates
// subscribed events by event ID.
package relay
