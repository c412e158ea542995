// Package loader serves the bootstrap loader protocol on a local socket.
//
// Ownership boundary:
// - command dispatch (ping, memload, memget, jump)
// - per-connection frame loop
// - listener lifecycle, socket file cleanup, connection tracking
// - optional admin HTTP surface
//
// Lifecycle order:
// - sanity read -> listen -> accept until signal -> close and unlink
//
// Every connection shares one guest memory bridge. Command-local failures
// (short payloads, checksum mismatch or truncated blocks, unknown opcodes)
// keep the connection open; transport and memory failures, and memget
// lengths whose reply cannot be framed, close it.
package loader
