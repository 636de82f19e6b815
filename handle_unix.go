//go:build linux || darwin

package evh

// InvalidHandle is negative on POSIX.
const InvalidHandle Handle = -1
