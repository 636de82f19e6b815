//go:build windows

package evh

import "math"

// InvalidHandle is the maximum representable value on Windows.
const InvalidHandle Handle = math.MaxInt64
