// Package guestmem reads and writes emulated guest-physical memory through
// the emulator process's own address space.
//
// Ownership boundary:
// - guest page -> host base translation cache (process lifetime, shared)
// - page-split positioned writes, single positioned reads
// - /proc/<pid>/mem access
//
// One Bridge is shared by every loader connection.
package guestmem
