// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package keychain

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
)

// ErrWrongNetwork is returned for an extended key of another network.
var ErrWrongNetwork = errors.New("extended key is for another network")

// DeriveAddress derives the pay-to-witness-pubkey-hash address at index
// below the extended public key xpub.  Only non-hardened indexes can be
// derived from a public key.
func DeriveAddress(xpub string, index uint32,
	params *chaincfg.Params) (*btcutil.AddressWitnessPubKeyHash, error) {

	if index >= hdkeychain.HardenedKeyStart {
		return nil, fmt.Errorf("%w: index %d is hardened",
			ErrInvalidPath, index)
	}

	key, err := hdkeychain.NewKeyFromString(xpub)
	if err != nil {
		return nil, err
	}
	if !key.IsForNet(params) {
		return nil, ErrWrongNetwork
	}

	child, err := key.Derive(index)
	if err != nil {
		return nil, err
	}

	pub, err := child.ECPubKey()
	if err != nil {
		return nil, err
	}

	return btcutil.NewAddressWitnessPubKeyHash(
		btcutil.Hash160(pub.SerializeCompressed()), params,
	)
}
