// Copyright (c) 2013-2015 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package netparams

import "github.com/btcsuite/btcd/chaincfg"

// Params is used to group parameters for various networks such as the main
// network and test networks.
type Params struct {
	*chaincfg.Params

	// DirName names the per-network directory below the data directory.
	DirName string
}

// MainNetParams contains parameters specific to running cosignwallet on the
// main network (wire.MainNet).
var MainNetParams = Params{
	Params:  &chaincfg.MainNetParams,
	DirName: "mainnet",
}

// TestNet3Params contains parameters specific to running cosignwallet on the
// test network (version 3) (wire.TestNet3).  The directory keeps the
// historical "testnet" name.
var TestNet3Params = Params{
	Params:  &chaincfg.TestNet3Params,
	DirName: "testnet",
}

// RegressionNetParams contains parameters specific to the regression test
// network (wire.TestNet).
var RegressionNetParams = Params{
	Params:  &chaincfg.RegressionNetParams,
	DirName: "regtest",
}

// SimNetParams contains parameters specific to the simulation test network
// (wire.SimNet).
var SimNetParams = Params{
	Params:  &chaincfg.SimNetParams,
	DirName: "simnet",
}
