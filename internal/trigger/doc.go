// Package trigger redirects target execution through the emulator's debug stub.
//
// Ownership boundary:
// - gdb batch invocation (set $pc, continue)
// - native remote-serial protocol client for the same sequence
// - one-shot background queue so callers never wait on the outcome
package trigger
