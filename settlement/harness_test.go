// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package settlement

import (
	"bytes"
	"context"
	"crypto/sha256"
	"path/filepath"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/walletdb"
	_ "github.com/btcsuite/btcwallet/walletdb/bdb"
	"github.com/btcsuite/cosignwallet/entitydb"
	"github.com/btcsuite/cosignwallet/internal/sqltest"
	"github.com/btcsuite/cosignwallet/keychain"
	"github.com/btcsuite/cosignwallet/ledger"
	"github.com/btcsuite/cosignwallet/projection"
	"github.com/btcsuite/cosignwallet/session"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"
)

const (
	testRemoteID = int64(42)
	testFunding  = int64(250_000)
)

var (
	testParams = &chaincfg.RegressionNetParams

	// userPath is where the wallet's key of the test multisig output
	// is derived.
	userPath = []uint32{hdkeychain.HardenedKeyStart + 1, 0, 5}
)

type testHarness struct {
	t *testing.T

	engine *Engine
	ledger *mockLedger
	swaps  *mockSwaps
	states *mockStates

	ops      *entitydb.Repository[ledger.Operation, *ledger.Operation]
	contacts *entitydb.Repository[ledger.Contact, *ledger.Contact]
	hws      *entitydb.Repository[ledger.HardwareWallet,
		*ledger.HardwareWallet]
	cache *projection.Cache

	keys     *keychain.HDKeyService
	cosigner *btcec.PrivateKey
	sess     *session.Session
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()

	ctx := context.Background()
	db := sqltest.NewSQLiteDB(t)

	ops, err := entitydb.NewRepository[ledger.Operation](
		ctx, db, "operations",
	)
	require.NoError(t, err)
	contacts, err := entitydb.NewRepository[ledger.Contact](
		ctx, db, "contacts",
	)
	require.NoError(t, err)
	hws, err := entitydb.NewRepository[ledger.HardwareWallet](
		ctx, db, "hardware_wallets",
	)
	require.NoError(t, err)

	kv, err := walletdb.Create(
		"bdb", filepath.Join(t.TempDir(), "projection.db"), true,
		time.Second, false,
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })

	cache, err := projection.NewCache(kv, ops)
	require.NoError(t, err)

	seed := bytes.Repeat([]byte{0x21}, hdkeychain.RecommendedSeedLen)
	keys, err := keychain.NewHDKeyServiceFromSeed(seed, testParams)
	require.NoError(t, err)

	cosigner, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	h := &testHarness{
		t:        t,
		ledger:   &mockLedger{},
		swaps:    &mockSwaps{},
		states:   &mockStates{},
		ops:      ops,
		contacts: contacts,
		hws:      hws,
		cache:    cache,
		keys:     keys,
		cosigner: cosigner,
		sess: session.New(ledger.PublicProfile{
			UserID:    1,
			FirstName: "Satoshi",
		}, clock.NewTestClock(time.Unix(1_700_000_000, 0))),
	}

	h.engine, err = NewEngine(Config{
		Ledger:               h.ledger,
		Keys:                 keys,
		Operations:           ops,
		Contacts:             contacts,
		HardwareWallets:      hws,
		Projections:          cache,
		HardwareWalletStates: h.states,
		Swaps:                h.swaps,
		ChainParams:          testParams,
	})
	require.NoError(t, err)

	return h
}

// newAddress returns a fresh pay-to-witness-pubkey-hash address.
func newAddress(t *testing.T) *btcutil.AddressWitnessPubKeyHash {
	t.Helper()

	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	addr, err := btcutil.NewAddressWitnessPubKeyHash(
		btcutil.Hash160(key.PubKey().SerializeCompressed()), testParams,
	)
	require.NoError(t, err)

	return addr
}

// newPacket returns a packet spending a 2-of-2 output of the co-signer and
// the wallet to pay, signed by the co-signer.  declared is the key the
// packet expects the wallet to sign with.
func (h *testHarness) newPacket(pay btcutil.Address, amount int64,
	declared *btcec.PublicKey) *psbt.Packet {

	t := h.t
	t.Helper()

	userPub, _, err := h.keys.Derive(userPath)
	require.NoError(t, err)

	witnessScript, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_2).
		AddData(h.cosigner.PubKey().SerializeCompressed()).
		AddData(userPub.SerializeCompressed()).
		AddOp(txscript.OP_2).
		AddOp(txscript.OP_CHECKMULTISIG).
		Script()
	require.NoError(t, err)

	scriptHash := sha256.Sum256(witnessScript)
	pkScript, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).
		AddData(scriptHash[:]).
		Script()
	require.NoError(t, err)

	payScript, err := txscript.PayToAddrScript(pay)
	require.NoError(t, err)

	prevOut := wire.OutPoint{Hash: chainhash.Hash{0x01}, Index: 1}
	packet, err := psbt.New(
		[]*wire.OutPoint{&prevOut},
		[]*wire.TxOut{wire.NewTxOut(amount, payScript)},
		2, 0, []uint32{wire.MaxTxInSequenceNum},
	)
	require.NoError(t, err)

	in := &packet.Inputs[0]
	in.WitnessUtxo = wire.NewTxOut(testFunding, pkScript)
	in.WitnessScript = witnessScript
	in.SighashType = txscript.SigHashAll
	in.Bip32Derivation = []*psbt.Bip32Derivation{{
		PubKey:               declared.SerializeCompressed(),
		MasterKeyFingerprint: h.keys.MasterFingerprint(),
		Bip32Path:            userPath,
	}}

	fetcher := txscript.NewCannedPrevOutputFetcher(pkScript, testFunding)
	sigHashes := txscript.NewTxSigHashes(packet.UnsignedTx, fetcher)
	sig, err := txscript.RawTxInWitnessSignature(
		packet.UnsignedTx, sigHashes, 0, testFunding, witnessScript,
		txscript.SigHashAll, h.cosigner,
	)
	require.NoError(t, err)

	updater, err := psbt.NewUpdater(packet)
	require.NoError(t, err)
	outcome, err := updater.Sign(
		0, sig, h.cosigner.PubKey().SerializeCompressed(), nil, nil,
	)
	require.NoError(t, err)
	require.Equal(t, psbt.SignOutcome(psbt.SignSuccesful), outcome)

	return packet
}

// userKey returns the wallet's key of the test multisig output.
func (h *testHarness) userKey() *btcec.PublicKey {
	pub, _, err := h.keys.Derive(userPath)
	require.NoError(h.t, err)
	return pub
}

func testProjection(validAt int64,
	total btcutil.Amount) projection.BalanceProjection {

	return projection.BalanceProjection{
		Steps: []projection.SizeStep{
			{Amount: total / 2, RequiredSigners: 1, VirtualSize: 141},
			{Amount: total, RequiredSigners: 2, VirtualSize: 209},
		},
		ValidAtOperationID: fn.Some(validAt),
	}
}

func toAddress(addr btcutil.Address, sats btcutil.Amount) *ToAddress {
	return &ToAddress{
		Payment: Payment{
			Amount:               ledger.BitcoinAmount{Satoshis: sats},
			Description:          "rent",
			ExchangeRateWindowID: 9,
		},
		Address: addr.EncodeAddress(),
	}
}
