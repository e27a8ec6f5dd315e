// Package relay holds all state of the chat relay: the session registry, the
// per-session and global message logs, and the cleanup scheduler that tears
// down empty sessions after a grace period.
//
// A Relay is the single owner of that state. Every operation runs under one
// mutex; live push deliveries are collected while the lock is held and handed
// to the attached Deliverer only after it has been released.
package relay
