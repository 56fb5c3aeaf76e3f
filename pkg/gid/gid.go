// Package gid reports the calling goroutine's id, which the runtime uses to
// key goroutine-local state and lock ownership.
package gid

import (
	"bytes"
	"runtime"
	"strconv"
)

var prefix = []byte("goroutine ")

// Current returns the calling goroutine's id. Ids are positive and never
// reused while the goroutine runs.
func Current() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	// Stack starts with "goroutine <id> [...]"
	s := bytes.TrimPrefix(buf[:n], prefix)
	if i := bytes.IndexByte(s, ' '); i > 0 {
		s = s[:i]
	}
	id, err := strconv.ParseInt(string(s), 10, 64)
	if err != nil {
		panic("gid: unexpected stack header: " + string(buf[:n]))
	}
	return id
}
