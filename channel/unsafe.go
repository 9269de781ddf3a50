// File: channel/unsafe.go
// Author: momentics <momentics@gmail.com>

package channel

import "unsafe"

// bytesAsUint32 views the first 4 bytes of b as a volatile uint32, the
// same cast shm.Ring uses over its header fields.
func bytesAsUint32(b []byte) *uint32 {
	return (*uint32)(unsafe.Pointer(&b[0]))
}
