// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package zero clears seeds and key material from memory once they are no
// longer needed.
package zero

// Bytes sets all bytes of b to zero.
func Bytes(b []byte) {
	clear(b)
}

// Bytea32 clears a 32 byte array such as a serialized private key.
func Bytea32(b *[32]byte) {
	*b = [32]byte{}
}
