// Package main runs the development backend used by frostchat during local
// work and tests. It serves the record-store REST API over sqlite and the
// realtime broadcast hub the client's key-exchange events flow through.
//
// HTTP API
//
//	POST /v1/keys
//	    Store a new session-key record (handshake metadata, no material).
//
//	POST /v1/keys/{id}/transition
//	    Conditionally advance a record. The request names the status the
//	    caller expects; if the row has moved on the server answers 409 and
//	    changes nothing.
//
//	GET  /v1/keys/{id}
//	DELETE /v1/keys/{id}
//	GET  /v1/chats/{chat_id}/keys[?status=active]
//
//	POST /v1/transfers
//	    Store a fallback key transfer (RSA-wrapped blob) for a recipient.
//
//	GET  /v1/transfers/pending?recipient={user}
//	    List live pending transfers; expiry is judged by the server clock.
//
//	POST /v1/transfers/{id}/receive
//	    Consume a transfer. Exactly one caller wins; the rest get 409.
//
//	PUT  /v1/directory/{user_id}
//	GET  /v1/directory/{user_id}
//	    Publish and fetch a user's public identity key.
//
//	GET  /v1/realtime
//	    Websocket hub. Frames are subscribe/publish/ack/event; a publish is
//	    acked after fan-out to current subscribers of the topic.
//
// Configuration comes from the environment (RELAY_ADDR, RELAY_DB, LOG_LEVEL,
// OTEL_ENABLED, OTEL_ENDPOINT, OTEL_SERVICE_NAME), with an optional .env
// file. The server never sees plaintext messages or unwrapped key material.
package main
