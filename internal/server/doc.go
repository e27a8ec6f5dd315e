// Package server implements the HTTP and WebSocket surface of the chat relay.
//
// The polling API, the push hub, socket clients, routing, middleware and
// configuration live in separate files. Session state itself is owned by
// package relay; this package only translates between the wire and relay
// operations and delivers relay events to sockets.
package server
