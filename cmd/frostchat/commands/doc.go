// Package commands defines the frostchat CLI and wires dependencies for
// subcommands.
//
// Commands
//
//   - init         Create the device identity and publish its public half
//   - fingerprint  Print an identity fingerprint (local or a peer's)
//   - start-chat   Register a chat and run the key handshake as initiator
//   - send         Seal a message under the chat's active key
//   - open         Decrypt a sealed envelope
//   - listen       Run the session: key events, transfer sweep, rotation
//   - status       Show a chat's key records and local cache state
//   - rotate       Force a key rotation for a chat
//   - logout       Wipe the local key cache
//
// # Implementation
//
// The root command unlocks the key cache and builds the dependency graph
// (cache, record-store client, relay group, services) before any subcommand
// runs, so handlers share one app context. A wrong passphrase fails here,
// before anything touches the network.
package commands
