// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package keychain provides the hierarchical deterministic keys the wallet
// signs with, and derives the receiving addresses of contacts from their
// published extended public keys.
package keychain

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/cosignwallet/internal/zero"
)

var (
	// ErrPublicRoot is returned when a key service is created from an
	// extended key without private material.
	ErrPublicRoot = errors.New("root key is not private")

	// ErrInvalidDigest is returned when asked to sign anything but a 32
	// byte digest.
	ErrInvalidDigest = errors.New("digest must be 32 bytes")
)

// KeyService derives private keys from the wallet root and signs with them.
type KeyService interface {
	// Derive returns the key pair at path, relative to the root.
	Derive(path []uint32) (*btcec.PublicKey, *btcec.PrivateKey, error)

	// Sign returns the DER encoded ECDSA signature of digest.
	Sign(key *btcec.PrivateKey, digest []byte) ([]byte, error)

	// MasterFingerprint identifies the root in PSBT key origins.
	MasterFingerprint() uint32
}

// HDKeyService is a KeyService over a BIP-32 root key.
type HDKeyService struct {
	root        *hdkeychain.ExtendedKey
	fingerprint uint32
}

// A compile time check to ensure HDKeyService satisfies KeyService.
var _ KeyService = (*HDKeyService)(nil)

// NewHDKeyService returns a key service over the private root key.
func NewHDKeyService(root *hdkeychain.ExtendedKey) (*HDKeyService, error) {
	if !root.IsPrivate() {
		return nil, ErrPublicRoot
	}

	pub, err := root.ECPubKey()
	if err != nil {
		return nil, err
	}

	return &HDKeyService{
		root:        root,
		fingerprint: Fingerprint(pub),
	}, nil
}

// NewHDKeyServiceFromSeed creates the root key from seed and returns a key
// service over it.  The seed is cleared before returning.
func NewHDKeyServiceFromSeed(seed []byte,
	params *chaincfg.Params) (*HDKeyService, error) {

	defer zero.Bytes(seed)

	root, err := hdkeychain.NewMaster(seed, params)
	if err != nil {
		return nil, err
	}

	return NewHDKeyService(root)
}

// Fingerprint returns the BIP-32 fingerprint of pub in the byte order PSBT
// key origins use.
func Fingerprint(pub *btcec.PublicKey) uint32 {
	hash := btcutil.Hash160(pub.SerializeCompressed())
	return binary.LittleEndian.Uint32(hash[:4])
}

// MasterFingerprint returns the fingerprint of the root key.
func (s *HDKeyService) MasterFingerprint() uint32 {
	return s.fingerprint
}

// Derive returns the key pair at path.  Intermediate keys are cleared once
// the child is derived.
func (s *HDKeyService) Derive(path []uint32) (*btcec.PublicKey,
	*btcec.PrivateKey, error) {

	key := s.root
	for i, index := range path {
		child, err := key.Derive(index)
		if key != s.root {
			key.Zero()
		}
		if err != nil {
			return nil, nil, fmt.Errorf("derive %s at depth %d: %w",
				FormatPath(path), i, err)
		}
		key = child
	}

	priv, err := key.ECPrivKey()
	if key != s.root {
		key.Zero()
	}
	if err != nil {
		return nil, nil, err
	}

	log.Tracef("Derived key at %s", FormatPath(path))

	return priv.PubKey(), priv, nil
}

// Sign returns the DER encoded ECDSA signature of digest with key.
func (s *HDKeyService) Sign(key *btcec.PrivateKey,
	digest []byte) ([]byte, error) {

	if len(digest) != 32 {
		return nil, ErrInvalidDigest
	}

	return ecdsa.Sign(key, digest).Serialize(), nil
}
