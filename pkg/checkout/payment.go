package checkout

import (
	"bytes"
	"encoding/binary"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"lukechampine.com/uint128"

	"solcheckout/pkg/anchor"
)

// PaymentInstructionName is the token agent instruction paying a merchant.
const PaymentInstructionName = "merchant_payment"

// Swap modes understood by merchant_payment.
const (
	SwapModeExactIn uint8 = 0
)

// MerchantPaymentInstruction pays a merchant order, optionally swapping the
// user's token first.
type MerchantPaymentInstruction struct {
	bin.BaseVariant
	MerchantNonce           uint8
	RootNonce               uint8
	PaymentID               uint128.Uint128
	Amount                  uint64
	Swap                    bool
	SwapDirection           bool
	SwapMode                uint8
	SwapDataNonce           uint8
	SwapInbNonce            uint8
	SwapOutNonce            uint8
	SwapDstNonce            uint8
	Program                 solana.PublicKey `bin:"-" borsh_skip:"true"`
	solana.AccountMetaSlice `bin:"-" borsh_skip:"true"`
}

// PaymentID converts an order UUID into the u128 payment id: the 16 UUID bytes read big-endian.
func PaymentID(orderID string) (uint128.Uint128, error) {
	id, err := uuid.Parse(orderID)
	if err != nil {
		return uint128.Zero, fmt.Errorf("invalid order id %q: %w", orderID, err)
	}
	return uint128.FromBytesBE(id[:]), nil
}

func (inst *MerchantPaymentInstruction) ProgramID() solana.PublicKey {
	return inst.Program
}

func (inst *MerchantPaymentInstruction) Accounts() (out []*solana.AccountMeta) {
	return inst.Impl.(solana.AccountsGettable).GetAccounts()
}

func (inst *MerchantPaymentInstruction) Data() ([]byte, error) {
	buf := new(bytes.Buffer)

	if _, err := buf.Write(anchor.InstructionDiscriminator(PaymentInstructionName)); err != nil {
		return nil, fmt.Errorf("failed to write discriminator: %w", err)
	}

	enc := bin.NewBorshEncoder(buf)
	if err := enc.WriteUint8(inst.MerchantNonce); err != nil {
		return nil, fmt.Errorf("failed to encode merchant nonce: %w", err)
	}
	if err := enc.WriteUint8(inst.RootNonce); err != nil {
		return nil, fmt.Errorf("failed to encode root nonce: %w", err)
	}

	id := make([]byte, 16)
	inst.PaymentID.PutBytes(id)
	if err := enc.WriteBytes(id, false); err != nil {
		return nil, fmt.Errorf("failed to encode payment id: %w", err)
	}

	if err := enc.WriteUint64(inst.Amount, binary.LittleEndian); err != nil {
		return nil, fmt.Errorf("failed to encode amount: %w", err)
	}
	if err := enc.WriteBool(inst.Swap); err != nil {
		return nil, fmt.Errorf("failed to encode swap: %w", err)
	}
	if err := enc.WriteBool(inst.SwapDirection); err != nil {
		return nil, fmt.Errorf("failed to encode swap direction: %w", err)
	}

	for _, v := range []uint8{inst.SwapMode, inst.SwapDataNonce, inst.SwapInbNonce, inst.SwapOutNonce, inst.SwapDstNonce} {
		if err := enc.WriteUint8(v); err != nil {
			return nil, fmt.Errorf("failed to encode swap nonces: %w", err)
		}
	}

	return buf.Bytes(), nil
}

// PaymentAccounts are the named accounts of merchant_payment.
type PaymentAccounts struct {
	NetAuth          solana.PublicKey
	RootKey          solana.PublicKey
	MerchantApproval solana.PublicKey
	MerchantToken    solana.PublicKey
	UserKey          solana.PublicKey
	TokenProgram     solana.PublicKey
	TokenAccount     solana.PublicKey
	FeesAccount      solana.PublicKey
}

// NewMerchantPaymentInstruction builds the instruction with the named accounts
// followed by remaining.
func NewMerchantPaymentInstruction(program solana.PublicKey, args MerchantPaymentInstruction, accounts PaymentAccounts, remaining ...*solana.AccountMeta) *MerchantPaymentInstruction {
	inst := args
	inst.Program = program
	inst.AccountMetaSlice = make(solana.AccountMetaSlice, 8, 8+len(remaining))

	inst.AccountMetaSlice[0] = solana.NewAccountMeta(accounts.NetAuth, false, false)
	inst.AccountMetaSlice[1] = solana.NewAccountMeta(accounts.RootKey, false, false)
	inst.AccountMetaSlice[2] = solana.NewAccountMeta(accounts.MerchantApproval, true, false)
	inst.AccountMetaSlice[3] = solana.NewAccountMeta(accounts.MerchantToken, true, false)
	inst.AccountMetaSlice[4] = solana.NewAccountMeta(accounts.UserKey, true, true)
	inst.AccountMetaSlice[5] = solana.NewAccountMeta(accounts.TokenProgram, false, false)
	inst.AccountMetaSlice[6] = solana.NewAccountMeta(accounts.TokenAccount, true, false)
	inst.AccountMetaSlice[7] = solana.NewAccountMeta(accounts.FeesAccount, true, false)
	inst.AccountMetaSlice = append(inst.AccountMetaSlice, remaining...)
	inst.BaseVariant = bin.BaseVariant{
		Impl: inst,
	}

	return &inst
}
