package crypto

import "runtime"

// Wipe zeroes b in place. Best effort; the noinline pragma and the
// KeepAlive keep the compiler from eliding the stores.
//
//go:noinline
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(&b)
}

// WipeKey zeroes a fixed-size key in place.
func WipeKey(k *[32]byte) {
	Wipe(k[:])
}
