// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package keychain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
)

// ErrInvalidPath is returned for a malformed derivation path.
var ErrInvalidPath = errors.New("invalid derivation path")

// ParsePath parses a derivation path such as "m/84'/0'/0'/1/7".  Hardened
// indexes are marked with ' or h.  The leading "m" is optional.
func ParsePath(s string) ([]uint32, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "m")
	s = strings.TrimPrefix(s, "/")
	if s == "" {
		return []uint32{}, nil
	}

	parts := strings.Split(s, "/")
	path := make([]uint32, 0, len(parts))
	for _, part := range parts {
		var offset uint32
		if strings.HasSuffix(part, "'") || strings.HasSuffix(part, "h") {
			offset = hdkeychain.HardenedKeyStart
			part = part[:len(part)-1]
		}

		index, err := strconv.ParseUint(part, 10, 31)
		if err != nil {
			return nil, fmt.Errorf("%w %q: %v", ErrInvalidPath, s, err)
		}
		path = append(path, uint32(index)+offset)
	}

	return path, nil
}

// FormatPath returns the textual form of path, hardened indexes marked
// with '.
func FormatPath(path []uint32) string {
	var b strings.Builder
	b.WriteString("m")
	for _, index := range path {
		b.WriteByte('/')
		if index >= hdkeychain.HardenedKeyStart {
			b.WriteString(strconv.FormatUint(
				uint64(index-hdkeychain.HardenedKeyStart), 10,
			))
			b.WriteByte('\'')
			continue
		}
		b.WriteString(strconv.FormatUint(uint64(index), 10))
	}

	return b.String()
}
