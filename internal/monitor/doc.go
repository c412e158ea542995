// Package monitor talks to the emulator's human monitor socket.
//
// Ownership boundary:
// - one short-lived connection per query
// - gpa2hva request/response handling
//
// The monitor speaks free text. Only the "host virtual address ... is <hex>"
// line of a gpa2hva answer is interpreted.
package monitor
