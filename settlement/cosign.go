// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package settlement

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/cosignwallet/keychain"
	"github.com/davecgh/go-spew/spew"
)

// coSign adds the wallet's signature to every input of packet that isn't
// final yet, finalizes it and returns the signed transaction.
//
// Each input must declare the wallet's key in its BIP-32 derivations.  The
// key derived at the declared path must be the declared key, otherwise
// ErrSigningKeyMismatch is returned.
func (e *Engine) coSign(packet *psbt.Packet) (*wire.MsgTx, error) {
	if err := psbt.InputsReadyToSign(packet); err != nil {
		return nil, err
	}

	log.Tracef("Co-signing %v", newLogClosure(func() string {
		return spew.Sdump(packet.UnsignedTx)
	}))

	fetcher, err := prevOutputFetcher(packet)
	if err != nil {
		return nil, err
	}
	sigHashes := txscript.NewTxSigHashes(packet.UnsignedTx, fetcher)

	updater, err := psbt.NewUpdater(packet)
	if err != nil {
		return nil, err
	}

	for idx := range packet.Inputs {
		in := &packet.Inputs[idx]
		if len(in.FinalScriptWitness) > 0 {
			continue
		}

		if in.WitnessUtxo == nil || len(in.WitnessScript) == 0 {
			return nil, fmt.Errorf("%w: input %d is not a witness "+
				"script spend", ErrUnsignableInput, idx)
		}

		derivation := e.ownDerivation(in)
		if derivation == nil {
			return nil, fmt.Errorf("%w: input %d declares no key "+
				"of this wallet", ErrSigningKeyMismatch, idx)
		}

		sig, err := e.signInput(packet, idx, derivation, sigHashes)
		if err != nil {
			return nil, err
		}

		outcome, err := updater.Sign(idx, sig, derivation.PubKey, nil, nil)
		if err != nil {
			return nil, fmt.Errorf("add signature to input %d: %w",
				idx, err)
		}
		if outcome != psbt.SignSuccesful {
			return nil, fmt.Errorf("add signature to input %d: "+
				"outcome %d", idx, outcome)
		}
	}

	if err := psbt.MaybeFinalizeAll(packet); err != nil {
		return nil, fmt.Errorf("finalize transaction: %w", err)
	}

	tx, err := psbt.Extract(packet)
	if err != nil {
		return nil, err
	}

	if err := validateMsgTx(tx, fetcher, sigHashes); err != nil {
		return nil, err
	}

	return tx, nil
}

// ownDerivation returns the derivation of the wallet's key that has not
// signed the input yet.
func (e *Engine) ownDerivation(in *psbt.PInput) *psbt.Bip32Derivation {
	fingerprint := e.cfg.Keys.MasterFingerprint()

	for _, d := range in.Bip32Derivation {
		if d.MasterKeyFingerprint != fingerprint {
			continue
		}

		signed := false
		for _, ps := range in.PartialSigs {
			if bytes.Equal(ps.PubKey, d.PubKey) {
				signed = true
				break
			}
		}
		if !signed {
			return d
		}
	}

	return nil
}

// signInput returns the wallet's signature for input idx, with the sighash
// type appended.
func (e *Engine) signInput(packet *psbt.Packet, idx int,
	derivation *psbt.Bip32Derivation,
	sigHashes *txscript.TxSigHashes) ([]byte, error) {

	in := &packet.Inputs[idx]

	pub, priv, err := e.cfg.Keys.Derive(derivation.Bip32Path)
	if err != nil {
		return nil, err
	}
	defer priv.Zero()

	if !bytes.Equal(pub.SerializeCompressed(), derivation.PubKey) {
		return nil, fmt.Errorf("%w: input %d expects key %x at %s, "+
			"derived %x", ErrSigningKeyMismatch, idx,
			derivation.PubKey,
			keychain.FormatPath(derivation.Bip32Path),
			pub.SerializeCompressed())
	}

	hashType := in.SighashType
	if hashType == 0 {
		hashType = txscript.SigHashAll
	}

	digest, err := txscript.CalcWitnessSigHash(
		in.WitnessScript, sigHashes, hashType, packet.UnsignedTx, idx,
		in.WitnessUtxo.Value,
	)
	if err != nil {
		return nil, err
	}

	sig, err := e.cfg.Keys.Sign(priv, digest)
	if err != nil {
		return nil, err
	}

	return append(sig, byte(hashType)), nil
}

// validateMsgTx runs the scripts of every input of tx.
func validateMsgTx(tx *wire.MsgTx, fetcher *txscript.MultiPrevOutFetcher,
	sigHashes *txscript.TxSigHashes) error {

	for i, txIn := range tx.TxIn {
		prevOut := fetcher.FetchPrevOutput(txIn.PreviousOutPoint)
		if prevOut == nil {
			return fmt.Errorf("missing previous output of input %d",
				i)
		}

		vm, err := txscript.NewEngine(
			prevOut.PkScript, tx, i, txscript.StandardVerifyFlags,
			nil, sigHashes, prevOut.Value, fetcher,
		)
		if err != nil {
			return fmt.Errorf("cannot create script engine: %w", err)
		}
		if err := vm.Execute(); err != nil {
			return fmt.Errorf("cannot validate transaction: %w", err)
		}
	}

	return nil
}

// prevOutputFetcher returns a fetcher over the previous outputs declared in
// packet.
func prevOutputFetcher(packet *psbt.Packet) (*txscript.MultiPrevOutFetcher,
	error) {

	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	for idx, txIn := range packet.UnsignedTx.TxIn {
		in := packet.Inputs[idx]

		switch {
		case in.WitnessUtxo != nil:
			fetcher.AddPrevOut(txIn.PreviousOutPoint, in.WitnessUtxo)

		case in.NonWitnessUtxo != nil:
			prevIndex := txIn.PreviousOutPoint.Index
			prevOuts := in.NonWitnessUtxo.TxOut
			if int(prevIndex) >= len(prevOuts) {
				return nil, fmt.Errorf("%w: input %d spends "+
					"output %d of a transaction with %d "+
					"outputs", ErrUnsignableInput, idx,
					prevIndex, len(prevOuts))
			}
			fetcher.AddPrevOut(
				txIn.PreviousOutPoint, prevOuts[prevIndex],
			)
		}
	}

	return fetcher, nil
}

func encodePSBT(packet *psbt.Packet) ([]byte, error) {
	var buf bytes.Buffer
	if err := packet.Serialize(&buf); err != nil {
		return nil, fmt.Errorf("serialize psbt: %w", err)
	}
	return buf.Bytes(), nil
}

func decodePSBT(raw []byte) (*psbt.Packet, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	packet, err := psbt.NewFromRawBytes(bytes.NewReader(raw), false)
	if err != nil {
		return nil, fmt.Errorf("parse stored psbt: %w", err)
	}
	return packet, nil
}
