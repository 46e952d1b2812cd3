// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ledger

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/tlv"
	"github.com/shopspring/decimal"
)

// PublicProfile is the identity a user exposes to its peers.
type PublicProfile struct {
	// UserID is the remote identifier of the user.
	UserID int64

	FirstName         string
	LastName          string
	ProfilePictureURL string
}

// FullName returns the display name of the profile.
func (p *PublicProfile) FullName() string {
	if p.LastName == "" {
		return p.FirstName
	}
	return p.FirstName + " " + p.LastName
}

// MonetaryAmount is a value in some currency.
type MonetaryAmount struct {
	Value    decimal.Decimal
	Currency string
}

// String returns the amount followed by its currency code.
func (m MonetaryAmount) String() string {
	return m.Value.String() + " " + m.Currency
}

// BitcoinAmount is an on-chain amount together with its price in the
// currency the user typed and in the user's primary currency, at the
// exchange rate snapshot of the operation.
type BitcoinAmount struct {
	Satoshis          btcutil.Amount
	InInputCurrency   MonetaryAmount
	InPrimaryCurrency MonetaryAmount
}

// SubmarineSwap is the off-chain leg of a payment to a lightning invoice.
type SubmarineSwap struct {
	// Reference identifies the swap at the swap provider.
	Reference string

	Invoice        string
	FundingAddress string
	PaymentHash    []byte
	ExpiresAt      time.Time
}

// Operation is the durable record of a value transfer.
type Operation struct {
	// RequestID is generated when the operation is drafted and lets the
	// co-signer recognize a repeated submission.
	RequestID uuid.UUID

	Direction  Direction
	IsExternal bool

	Sender   *PublicProfile
	Receiver *PublicProfile

	ReceiverAddress     string
	ReceiverAddressPath string

	// HardwareWalletID is the remote identifier of the hardware wallet
	// involved in the operation, or zero.
	HardwareWalletID int64

	Amount      BitcoinAmount
	Fee         BitcoinAmount
	Description string

	// ExchangeRateWindowID identifies the exchange rate snapshot used to
	// price the operation.
	ExchangeRateWindowID int64

	Status OperationStatus

	// SettlementRef is the transaction hash, or the swap reference for
	// off-chain payments.
	SettlementRef string

	CreatedAt     time.Time
	Confirmations uint32

	// PSBT is the serialized partially signed transaction kept between
	// submission and broadcast so the payment can be resumed.
	PSBT []byte

	FailureReason string

	Swap *SubmarineSwap
}

// String returns a short summary for log output.
func (o *Operation) String() string {
	return fmt.Sprintf("%v operation %v of %v (%v)", o.Direction,
		o.RequestID, o.Amount.Satoshis, o.Status)
}

const (
	typeOpRequestID     tlv.Type = 1
	typeOpDirection     tlv.Type = 2
	typeOpIsExternal    tlv.Type = 3
	typeOpSender        tlv.Type = 4
	typeOpReceiver      tlv.Type = 5
	typeOpAddress       tlv.Type = 6
	typeOpAddressPath   tlv.Type = 7
	typeOpHardwareID    tlv.Type = 8
	typeOpAmount        tlv.Type = 9
	typeOpFee           tlv.Type = 10
	typeOpDescription   tlv.Type = 11
	typeOpRateWindow    tlv.Type = 12
	typeOpStatus        tlv.Type = 13
	typeOpSettlementRef tlv.Type = 14
	typeOpCreatedAt     tlv.Type = 15
	typeOpConfirmations tlv.Type = 16
	typeOpFailure       tlv.Type = 18
	typeOpSwap          tlv.Type = 19

	typeProfileUserID  tlv.Type = 1
	typeProfileFirst   tlv.Type = 2
	typeProfileLast    tlv.Type = 3
	typeProfilePicture tlv.Type = 4

	typeAmountSats          tlv.Type = 1
	typeAmountInputValue    tlv.Type = 2
	typeAmountInputCurrency tlv.Type = 3
	typeAmountPrimaryValue  tlv.Type = 4
	typeAmountPrimaryCurr   tlv.Type = 5

	typeSwapReference   tlv.Type = 1
	typeSwapInvoice     tlv.Type = 2
	typeSwapFundingAddr tlv.Type = 3
	typeSwapPaymentHash tlv.Type = 4
	typeSwapExpiresAt   tlv.Type = 5

	// maxOperationSize bounds both parts of an encoded operation.
	maxOperationSize = wire.MaxMessagePayload
)

// Encode writes the operation.  The fields form a TLV stream written as
// variable length bytes, followed by the PSBT.  The PSBT is kept out of the
// stream since it can be larger than a TLV record.
func (o *Operation) Encode(w io.Writer) error {
	requestID := o.RequestID[:]
	direction := uint8(o.Direction)
	isExternal := boolToUint8(o.IsExternal)
	address := []byte(o.ReceiverAddress)
	addressPath := []byte(o.ReceiverAddressPath)
	hardwareID := uint64(o.HardwareWalletID)
	description := []byte(o.Description)
	rateWindow := uint64(o.ExchangeRateWindowID)
	status := uint8(o.Status)
	settlementRef := []byte(o.SettlementRef)
	createdAt := unixNano(o.CreatedAt)
	confirmations := o.Confirmations
	failure := []byte(o.FailureReason)

	amount, err := encodeBitcoinAmount(&o.Amount)
	if err != nil {
		return err
	}
	fee, err := encodeBitcoinAmount(&o.Fee)
	if err != nil {
		return err
	}

	records := []tlv.Record{
		tlv.MakePrimitiveRecord(typeOpRequestID, &requestID),
		tlv.MakePrimitiveRecord(typeOpDirection, &direction),
		tlv.MakePrimitiveRecord(typeOpIsExternal, &isExternal),
	}

	if o.Sender != nil {
		sender, err := encodeProfile(o.Sender)
		if err != nil {
			return err
		}
		records = append(records, tlv.MakePrimitiveRecord(
			typeOpSender, &sender,
		))
	}

	if o.Receiver != nil {
		receiver, err := encodeProfile(o.Receiver)
		if err != nil {
			return err
		}
		records = append(records, tlv.MakePrimitiveRecord(
			typeOpReceiver, &receiver,
		))
	}

	records = append(records,
		tlv.MakePrimitiveRecord(typeOpAddress, &address),
		tlv.MakePrimitiveRecord(typeOpAddressPath, &addressPath),
		tlv.MakePrimitiveRecord(typeOpHardwareID, &hardwareID),
		tlv.MakePrimitiveRecord(typeOpAmount, &amount),
		tlv.MakePrimitiveRecord(typeOpFee, &fee),
		tlv.MakePrimitiveRecord(typeOpDescription, &description),
		tlv.MakePrimitiveRecord(typeOpRateWindow, &rateWindow),
		tlv.MakePrimitiveRecord(typeOpStatus, &status),
		tlv.MakePrimitiveRecord(typeOpSettlementRef, &settlementRef),
		tlv.MakePrimitiveRecord(typeOpCreatedAt, &createdAt),
		tlv.MakePrimitiveRecord(typeOpConfirmations, &confirmations),
		tlv.MakePrimitiveRecord(typeOpFailure, &failure),
	)

	if o.Swap != nil {
		swap, err := encodeSwap(o.Swap)
		if err != nil {
			return err
		}
		records = append(records, tlv.MakePrimitiveRecord(
			typeOpSwap, &swap,
		))
	}

	var stream bytes.Buffer
	if err := encodeStream(&stream, records...); err != nil {
		return err
	}
	if err := wire.WriteVarBytes(w, 0, stream.Bytes()); err != nil {
		return err
	}

	return wire.WriteVarBytes(w, 0, o.PSBT)
}

// Decode reads an operation written by Encode.
func (o *Operation) Decode(r io.Reader) error {
	var (
		requestID     []byte
		direction     uint8
		isExternal    uint8
		sender        []byte
		receiver      []byte
		address       []byte
		addressPath   []byte
		hardwareID    uint64
		amount        []byte
		fee           []byte
		description   []byte
		rateWindow    uint64
		status        uint8
		settlementRef []byte
		createdAt     uint64
		confirmations uint32
		failure       []byte
		swap          []byte
	)

	stream, err := wire.ReadVarBytes(r, 0, maxOperationSize, "operation")
	if err != nil {
		return err
	}
	psbtBytes, err := wire.ReadVarBytes(r, 0, maxOperationSize, "psbt")
	if err != nil {
		return err
	}

	types, err := decodeStream(bytes.NewReader(stream),
		tlv.MakePrimitiveRecord(typeOpRequestID, &requestID),
		tlv.MakePrimitiveRecord(typeOpDirection, &direction),
		tlv.MakePrimitiveRecord(typeOpIsExternal, &isExternal),
		tlv.MakePrimitiveRecord(typeOpSender, &sender),
		tlv.MakePrimitiveRecord(typeOpReceiver, &receiver),
		tlv.MakePrimitiveRecord(typeOpAddress, &address),
		tlv.MakePrimitiveRecord(typeOpAddressPath, &addressPath),
		tlv.MakePrimitiveRecord(typeOpHardwareID, &hardwareID),
		tlv.MakePrimitiveRecord(typeOpAmount, &amount),
		tlv.MakePrimitiveRecord(typeOpFee, &fee),
		tlv.MakePrimitiveRecord(typeOpDescription, &description),
		tlv.MakePrimitiveRecord(typeOpRateWindow, &rateWindow),
		tlv.MakePrimitiveRecord(typeOpStatus, &status),
		tlv.MakePrimitiveRecord(typeOpSettlementRef, &settlementRef),
		tlv.MakePrimitiveRecord(typeOpCreatedAt, &createdAt),
		tlv.MakePrimitiveRecord(typeOpConfirmations, &confirmations),
		tlv.MakePrimitiveRecord(typeOpFailure, &failure),
		tlv.MakePrimitiveRecord(typeOpSwap, &swap),
	)
	if err != nil {
		return err
	}

	if len(requestID) != 0 {
		o.RequestID, err = uuid.FromBytes(requestID)
		if err != nil {
			return fmt.Errorf("invalid request id: %w", err)
		}
	}

	o.Direction = Direction(direction)
	o.IsExternal = isExternal == 1
	o.ReceiverAddress = string(address)
	o.ReceiverAddressPath = string(addressPath)
	o.HardwareWalletID = int64(hardwareID)
	o.Description = string(description)
	o.ExchangeRateWindowID = int64(rateWindow)
	o.Status = OperationStatus(status)
	o.SettlementRef = string(settlementRef)
	o.CreatedAt = fromUnixNano(createdAt)
	o.Confirmations = confirmations
	o.FailureReason = string(failure)

	o.PSBT = nil
	if len(psbtBytes) > 0 {
		o.PSBT = psbtBytes
	}

	o.Sender = nil
	if parsed(types, typeOpSender) {
		o.Sender, err = decodeProfile(sender)
		if err != nil {
			return fmt.Errorf("invalid sender profile: %w", err)
		}
	}

	o.Receiver = nil
	if parsed(types, typeOpReceiver) {
		o.Receiver, err = decodeProfile(receiver)
		if err != nil {
			return fmt.Errorf("invalid receiver profile: %w", err)
		}
	}

	if err := decodeBitcoinAmount(amount, &o.Amount); err != nil {
		return fmt.Errorf("invalid amount: %w", err)
	}
	if err := decodeBitcoinAmount(fee, &o.Fee); err != nil {
		return fmt.Errorf("invalid fee: %w", err)
	}

	o.Swap = nil
	if parsed(types, typeOpSwap) {
		o.Swap, err = decodeSwap(swap)
		if err != nil {
			return fmt.Errorf("invalid swap: %w", err)
		}
	}

	return nil
}

func encodeProfile(p *PublicProfile) ([]byte, error) {
	userID := uint64(p.UserID)
	first := []byte(p.FirstName)
	last := []byte(p.LastName)
	picture := []byte(p.ProfilePictureURL)

	return encodeBytes(
		tlv.MakePrimitiveRecord(typeProfileUserID, &userID),
		tlv.MakePrimitiveRecord(typeProfileFirst, &first),
		tlv.MakePrimitiveRecord(typeProfileLast, &last),
		tlv.MakePrimitiveRecord(typeProfilePicture, &picture),
	)
}

func decodeProfile(b []byte) (*PublicProfile, error) {
	var (
		userID               uint64
		first, last, picture []byte
	)

	_, err := decodeStream(bytes.NewReader(b),
		tlv.MakePrimitiveRecord(typeProfileUserID, &userID),
		tlv.MakePrimitiveRecord(typeProfileFirst, &first),
		tlv.MakePrimitiveRecord(typeProfileLast, &last),
		tlv.MakePrimitiveRecord(typeProfilePicture, &picture),
	)
	if err != nil {
		return nil, err
	}

	return &PublicProfile{
		UserID:            int64(userID),
		FirstName:         string(first),
		LastName:          string(last),
		ProfilePictureURL: string(picture),
	}, nil
}

func encodeBitcoinAmount(a *BitcoinAmount) ([]byte, error) {
	sats := uint64(a.Satoshis)
	inputValue := encodeDecimal(a.InInputCurrency.Value)
	inputCurrency := []byte(a.InInputCurrency.Currency)
	primaryValue := encodeDecimal(a.InPrimaryCurrency.Value)
	primaryCurrency := []byte(a.InPrimaryCurrency.Currency)

	return encodeBytes(
		tlv.MakePrimitiveRecord(typeAmountSats, &sats),
		tlv.MakePrimitiveRecord(typeAmountInputValue, &inputValue),
		tlv.MakePrimitiveRecord(typeAmountInputCurrency, &inputCurrency),
		tlv.MakePrimitiveRecord(typeAmountPrimaryValue, &primaryValue),
		tlv.MakePrimitiveRecord(typeAmountPrimaryCurr, &primaryCurrency),
	)
}

func decodeBitcoinAmount(b []byte, a *BitcoinAmount) error {
	var (
		sats                          uint64
		inputValue, inputCurrency     []byte
		primaryValue, primaryCurrency []byte
	)

	_, err := decodeStream(bytes.NewReader(b),
		tlv.MakePrimitiveRecord(typeAmountSats, &sats),
		tlv.MakePrimitiveRecord(typeAmountInputValue, &inputValue),
		tlv.MakePrimitiveRecord(typeAmountInputCurrency, &inputCurrency),
		tlv.MakePrimitiveRecord(typeAmountPrimaryValue, &primaryValue),
		tlv.MakePrimitiveRecord(typeAmountPrimaryCurr, &primaryCurrency),
	)
	if err != nil {
		return err
	}

	a.Satoshis = btcutil.Amount(sats)
	a.InInputCurrency.Currency = string(inputCurrency)
	a.InPrimaryCurrency.Currency = string(primaryCurrency)

	a.InInputCurrency.Value, err = decodeDecimal(inputValue)
	if err != nil {
		return err
	}
	a.InPrimaryCurrency.Value, err = decodeDecimal(primaryValue)

	return err
}

func encodeSwap(s *SubmarineSwap) ([]byte, error) {
	reference := []byte(s.Reference)
	invoice := []byte(s.Invoice)
	fundingAddr := []byte(s.FundingAddress)
	paymentHash := s.PaymentHash
	expiresAt := unixNano(s.ExpiresAt)

	return encodeBytes(
		tlv.MakePrimitiveRecord(typeSwapReference, &reference),
		tlv.MakePrimitiveRecord(typeSwapInvoice, &invoice),
		tlv.MakePrimitiveRecord(typeSwapFundingAddr, &fundingAddr),
		tlv.MakePrimitiveRecord(typeSwapPaymentHash, &paymentHash),
		tlv.MakePrimitiveRecord(typeSwapExpiresAt, &expiresAt),
	)
}

func decodeSwap(b []byte) (*SubmarineSwap, error) {
	var (
		reference, invoice, fundingAddr, paymentHash []byte
		expiresAt                                    uint64
	)

	_, err := decodeStream(bytes.NewReader(b),
		tlv.MakePrimitiveRecord(typeSwapReference, &reference),
		tlv.MakePrimitiveRecord(typeSwapInvoice, &invoice),
		tlv.MakePrimitiveRecord(typeSwapFundingAddr, &fundingAddr),
		tlv.MakePrimitiveRecord(typeSwapPaymentHash, &paymentHash),
		tlv.MakePrimitiveRecord(typeSwapExpiresAt, &expiresAt),
	)
	if err != nil {
		return nil, err
	}

	swap := &SubmarineSwap{
		Reference:      string(reference),
		Invoice:        string(invoice),
		FundingAddress: string(fundingAddr),
		ExpiresAt:      fromUnixNano(expiresAt),
	}
	if len(paymentHash) > 0 {
		swap.PaymentHash = paymentHash
	}

	return swap, nil
}
