// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ledger

import (
	"io"
	"time"

	"github.com/lightningnetwork/lnd/tlv"
)

// HardwareWallet is a hardware signing device paired with the wallet.
type HardwareWallet struct {
	Brand string
	Model string
	Label string

	// BasePublicKey is the extended public key of the device at
	// BasePath, serialized in base58.
	BasePublicKey string
	BasePath      string

	CreatedAt    time.Time
	LastPairedAt time.Time
	IsPaired     bool
}

const (
	typeHWBrand       tlv.Type = 1
	typeHWModel       tlv.Type = 2
	typeHWLabel       tlv.Type = 3
	typeHWBaseKey     tlv.Type = 4
	typeHWBasePath    tlv.Type = 5
	typeHWCreatedAt   tlv.Type = 6
	typeHWLastPaired  tlv.Type = 7
	typeHWPairedState tlv.Type = 8
)

// Encode writes the hardware wallet as a TLV stream.
func (h *HardwareWallet) Encode(w io.Writer) error {
	brand := []byte(h.Brand)
	model := []byte(h.Model)
	label := []byte(h.Label)
	baseKey := []byte(h.BasePublicKey)
	basePath := []byte(h.BasePath)
	createdAt := unixNano(h.CreatedAt)
	lastPaired := unixNano(h.LastPairedAt)
	paired := boolToUint8(h.IsPaired)

	return encodeStream(w,
		tlv.MakePrimitiveRecord(typeHWBrand, &brand),
		tlv.MakePrimitiveRecord(typeHWModel, &model),
		tlv.MakePrimitiveRecord(typeHWLabel, &label),
		tlv.MakePrimitiveRecord(typeHWBaseKey, &baseKey),
		tlv.MakePrimitiveRecord(typeHWBasePath, &basePath),
		tlv.MakePrimitiveRecord(typeHWCreatedAt, &createdAt),
		tlv.MakePrimitiveRecord(typeHWLastPaired, &lastPaired),
		tlv.MakePrimitiveRecord(typeHWPairedState, &paired),
	)
}

// Decode reads a hardware wallet written by Encode.
func (h *HardwareWallet) Decode(r io.Reader) error {
	var (
		brand, model, label, baseKey, basePath []byte
		createdAt, lastPaired                  uint64
		paired                                 uint8
	)

	_, err := decodeStream(r,
		tlv.MakePrimitiveRecord(typeHWBrand, &brand),
		tlv.MakePrimitiveRecord(typeHWModel, &model),
		tlv.MakePrimitiveRecord(typeHWLabel, &label),
		tlv.MakePrimitiveRecord(typeHWBaseKey, &baseKey),
		tlv.MakePrimitiveRecord(typeHWBasePath, &basePath),
		tlv.MakePrimitiveRecord(typeHWCreatedAt, &createdAt),
		tlv.MakePrimitiveRecord(typeHWLastPaired, &lastPaired),
		tlv.MakePrimitiveRecord(typeHWPairedState, &paired),
	)
	if err != nil {
		return err
	}

	h.Brand = string(brand)
	h.Model = string(model)
	h.Label = string(label)
	h.BasePublicKey = string(baseKey)
	h.BasePath = string(basePath)
	h.CreatedAt = fromUnixNano(createdAt)
	h.LastPairedAt = fromUnixNano(lastPaired)
	h.IsPaired = paired == 1

	return nil
}

// Contact is a peer the user can pay directly.  Payments to a contact go to
// addresses derived from the contact's published extended public key.
type Contact struct {
	Profile PublicProfile

	// PublicKey is the contact's extended public key serialized in
	// base58, and PublicKeyPath the path it was derived at.
	PublicKey     string
	PublicKeyPath string

	// LastDerivationIndex is the child index of the last address handed
	// out for this contact.
	LastDerivationIndex uint32
}

const (
	typeContactProfile   tlv.Type = 1
	typeContactPublicKey tlv.Type = 2
	typeContactKeyPath   tlv.Type = 3
	typeContactLastIndex tlv.Type = 4
)

// Encode writes the contact as a TLV stream.
func (c *Contact) Encode(w io.Writer) error {
	profile, err := encodeProfile(&c.Profile)
	if err != nil {
		return err
	}
	publicKey := []byte(c.PublicKey)
	keyPath := []byte(c.PublicKeyPath)
	lastIndex := c.LastDerivationIndex

	return encodeStream(w,
		tlv.MakePrimitiveRecord(typeContactProfile, &profile),
		tlv.MakePrimitiveRecord(typeContactPublicKey, &publicKey),
		tlv.MakePrimitiveRecord(typeContactKeyPath, &keyPath),
		tlv.MakePrimitiveRecord(typeContactLastIndex, &lastIndex),
	)
}

// Decode reads a contact written by Encode.
func (c *Contact) Decode(r io.Reader) error {
	var (
		profile, publicKey, keyPath []byte
		lastIndex                   uint32
	)

	_, err := decodeStream(r,
		tlv.MakePrimitiveRecord(typeContactProfile, &profile),
		tlv.MakePrimitiveRecord(typeContactPublicKey, &publicKey),
		tlv.MakePrimitiveRecord(typeContactKeyPath, &keyPath),
		tlv.MakePrimitiveRecord(typeContactLastIndex, &lastIndex),
	)
	if err != nil {
		return err
	}

	p, err := decodeProfile(profile)
	if err != nil {
		return err
	}

	c.Profile = *p
	c.PublicKey = string(publicKey)
	c.PublicKeyPath = string(keyPath)
	c.LastDerivationIndex = lastIndex

	return nil
}
