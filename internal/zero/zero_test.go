// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package zero

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBytes(t *testing.T) {
	t.Parallel()

	for _, n := range []int{0, 1, 31, 32, 33, 64, 129} {
		b := bytes.Repeat([]byte{0xff}, n)
		Bytes(b)
		require.Equal(t, make([]byte, n), b)
	}
}

func TestBytea32(t *testing.T) {
	t.Parallel()

	var b [32]byte
	copy(b[:], bytes.Repeat([]byte{0xff}, 32))
	Bytea32(&b)
	require.Equal(t, [32]byte{}, b)
}
