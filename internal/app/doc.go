// Package app wires the client's dependency graph and owns the login
// session.
//
// Wire builds the concrete cache, record-store client, relay group and
// services from Config before any command runs. Session is the login-scoped
// runtime: relay subscriptions, the transfer polling loop and the rotation
// scheduler all live exactly as long as it does.
package app
