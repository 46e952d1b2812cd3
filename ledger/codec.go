// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ledger

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/lightningnetwork/lnd/tlv"
	"github.com/shopspring/decimal"
)

// encodeStream writes the records as a single TLV stream.  The records must
// be sorted by ascending type.
func encodeStream(w io.Writer, records ...tlv.Record) error {
	// Decoding refuses larger records, so they are never written.
	for _, r := range records {
		if r.Size() > tlv.MaxRecordSize {
			return fmt.Errorf("%w: type %d has %d bytes",
				tlv.ErrRecordTooLarge, r.Type(), r.Size())
		}
	}

	stream, err := tlv.NewStream(records...)
	if err != nil {
		return err
	}

	return stream.Encode(w)
}

// encodeBytes is encodeStream into a fresh byte slice, used for nested
// records.
func encodeBytes(records ...tlv.Record) ([]byte, error) {
	var b bytes.Buffer
	if err := encodeStream(&b, records...); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// decodeStream reads a TLV stream into the records and returns the set of
// types that were present.
func decodeStream(r io.Reader, records ...tlv.Record) (tlv.TypeMap, error) {
	stream, err := tlv.NewStream(records...)
	if err != nil {
		return nil, err
	}

	return stream.DecodeWithParsedTypes(r)
}

// parsed reports whether a known type was present in a decoded stream.
func parsed(types tlv.TypeMap, typ tlv.Type) bool {
	v, ok := types[typ]
	return ok && v == nil
}

// unixNano converts t for storage, mapping the zero time to zero.
func unixNano(t time.Time) uint64 {
	if t.IsZero() {
		return 0
	}
	return uint64(t.UnixNano())
}

// fromUnixNano is the inverse of unixNano.
func fromUnixNano(n uint64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, int64(n))
}

// encodeDecimal stores a decimal as its exact string form.
func encodeDecimal(d decimal.Decimal) []byte {
	return []byte(d.String())
}

// decodeDecimal parses the output of encodeDecimal.  An empty value maps to
// zero.
func decodeDecimal(b []byte) (decimal.Decimal, error) {
	if len(b) == 0 {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(string(b))
}

func boolToUint8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
