// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package projection

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/tlv"
)

// SizeStep is one point of a balance projection: spending up to Amount
// requires the signatures of RequiredSigners inputs and produces a
// transaction of VirtualSize vbytes.
type SizeStep struct {
	// Amount is the cumulative amount spendable at this step.
	Amount btcutil.Amount

	RequiredSigners uint32
	VirtualSize     uint32
}

// BalanceProjection describes how the spendable balance grows as more
// unconfirmed inputs mature.  Steps are ordered by ascending amount.
type BalanceProjection struct {
	Steps []SizeStep

	// ValidAtOperationID is the remote identifier of the newest operation
	// incorporated into the projection.
	ValidAtOperationID fn.Option[int64]

	// ExpectedDebt is owed to the co-signer and already subtracted from
	// the steps.
	ExpectedDebt btcutil.Amount
}

// TotalBalance returns the amount of the last step, or zero for an empty
// projection.
func (p *BalanceProjection) TotalBalance() btcutil.Amount {
	if len(p.Steps) == 0 {
		return 0
	}
	return p.Steps[len(p.Steps)-1].Amount
}

// StepFor returns the first step able to cover amount.
func (p *BalanceProjection) StepFor(amount btcutil.Amount) fn.Option[SizeStep] {
	for _, step := range p.Steps {
		if step.Amount >= amount {
			return fn.Some(step)
		}
	}
	return fn.None[SizeStep]()
}

// IsValidAt reports whether the projection may be used when latest is the
// newest operation known locally.  An absent identifier on either side
// counts as zero.
//
// The comparison is >= rather than == on purpose: a projection fetched
// after an operation was recorded locally, but before the co-signer
// reported that operation's effects, is accepted.  This is a known
// consistency gap that stays open until the wallet can verify the chain
// on its own.
func (p *BalanceProjection) IsValidAt(latest fn.Option[int64]) bool {
	validAt := p.ValidAtOperationID.UnwrapOr(0)
	return validAt >= latest.UnwrapOr(0)
}

const (
	typeSteps        tlv.Type = 1
	typeValidAt      tlv.Type = 2
	typeExpectedDebt tlv.Type = 3

	// stepSize is the encoded size of a single SizeStep.
	stepSize = 16
)

// Encode writes the projection as a TLV stream.
func (p *BalanceProjection) Encode(w io.Writer) error {
	// Decoding refuses a larger steps record.
	if len(p.Steps)*stepSize > tlv.MaxRecordSize {
		return fmt.Errorf("%w: %d steps", tlv.ErrRecordTooLarge,
			len(p.Steps))
	}

	debt := uint64(p.ExpectedDebt)

	records := []tlv.Record{
		tlv.MakeDynamicRecord(
			typeSteps, &p.Steps, func() uint64 {
				return uint64(len(p.Steps) * stepSize)
			}, stepsEncoder, stepsDecoder,
		),
	}

	p.ValidAtOperationID.WhenSome(func(id int64) {
		validAt := uint64(id)
		records = append(records, tlv.MakePrimitiveRecord(
			typeValidAt, &validAt,
		))
	})

	records = append(records, tlv.MakePrimitiveRecord(
		typeExpectedDebt, &debt,
	))

	stream, err := tlv.NewStream(records...)
	if err != nil {
		return err
	}

	return stream.Encode(w)
}

// Decode reads a projection written by Encode.
func (p *BalanceProjection) Decode(r io.Reader) error {
	var (
		steps   []SizeStep
		validAt uint64
		debt    uint64
	)

	stream, err := tlv.NewStream(
		tlv.MakeDynamicRecord(
			typeSteps, &steps, func() uint64 {
				return uint64(len(steps) * stepSize)
			}, stepsEncoder, stepsDecoder,
		),
		tlv.MakePrimitiveRecord(typeValidAt, &validAt),
		tlv.MakePrimitiveRecord(typeExpectedDebt, &debt),
	)
	if err != nil {
		return err
	}

	parsedTypes, err := stream.DecodeWithParsedTypes(r)
	if err != nil {
		return err
	}

	p.Steps = steps
	p.ExpectedDebt = btcutil.Amount(debt)
	p.ValidAtOperationID = fn.None[int64]()
	if t, ok := parsedTypes[typeValidAt]; ok && t == nil {
		p.ValidAtOperationID = fn.Some(int64(validAt))
	}

	return nil
}

// serialize returns the encoded projection.
func (p *BalanceProjection) serialize() ([]byte, error) {
	var b bytes.Buffer
	if err := p.Encode(&b); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// stepsEncoder is a custom TLV encoder for the projection steps.
func stepsEncoder(w io.Writer, val interface{}, buf *[8]byte) error {
	if v, ok := val.(*[]SizeStep); ok {
		for _, step := range *v {
			binary.BigEndian.PutUint64(buf[:], uint64(step.Amount))
			if _, err := w.Write(buf[:]); err != nil {
				return err
			}

			binary.BigEndian.PutUint32(buf[:4], step.RequiredSigners)
			binary.BigEndian.PutUint32(buf[4:], step.VirtualSize)
			if _, err := w.Write(buf[:]); err != nil {
				return err
			}
		}

		return nil
	}

	return tlv.NewTypeForEncodingErr(val, "[]projection.SizeStep")
}

// stepsDecoder is a custom TLV decoder for the projection steps.
func stepsDecoder(r io.Reader, val interface{}, buf *[8]byte, l uint64) error {
	if v, ok := val.(*[]SizeStep); ok && l%stepSize == 0 {
		if l == 0 {
			*v = nil
			return nil
		}

		steps := make([]SizeStep, 0, l/stepSize)
		for i := uint64(0); i < l/stepSize; i++ {
			var step SizeStep

			if _, err := io.ReadFull(r, buf[:]); err != nil {
				return err
			}
			step.Amount = btcutil.Amount(binary.BigEndian.Uint64(buf[:]))

			if _, err := io.ReadFull(r, buf[:]); err != nil {
				return err
			}
			step.RequiredSigners = binary.BigEndian.Uint32(buf[:4])
			step.VirtualSize = binary.BigEndian.Uint32(buf[4:])

			steps = append(steps, step)
		}

		*v = steps
		return nil
	}

	return tlv.NewTypeForDecodingErr(val, "[]projection.SizeStep", l, l)
}

// String returns a short summary for log output.
func (p *BalanceProjection) String() string {
	validAt := "none"
	p.ValidAtOperationID.WhenSome(func(id int64) {
		validAt = fmt.Sprintf("%d", id)
	})

	return fmt.Sprintf("balance %v in %d steps valid at operation %s",
		p.TotalBalance(), len(p.Steps), validAt)
}
