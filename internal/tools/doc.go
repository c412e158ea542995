// Package tools provides host command execution helpers.
//
// Ownership boundary:
// - synchronous command runs with captured output
//
// - detached command starts with background reaping
package tools
