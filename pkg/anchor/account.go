package anchor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"solcheckout/pkg/sol"
)

var (
	// ErrUnknownProgram is returned for a program key missing from net data.
	ErrUnknownProgram = errors.New("unknown program")
	// ErrWrongOwner is returned when an account is not owned by the expected program.
	ErrWrongOwner = errors.New("account owner mismatch")
	// ErrWrongDiscriminator is returned when account data has another anchor type.
	ErrWrongDiscriminator = errors.New("account discriminator mismatch")
)

// AccountFetcher reads raw accounts from chain. *sol.Client satisfies it.
type AccountFetcher interface {
	GetAccount(ctx context.Context, account solana.PublicKey) (*sol.Account, error)
}

// Registry resolves program keys such as "atx-swap-contract" to program ids.
type Registry struct {
	mu       sync.RWMutex
	programs map[string]string
	loaded   map[string]solana.PublicKey
}

// NewRegistry builds a registry from a program key → base58 id map.
func NewRegistry(programs map[string]string) *Registry {
	r := &Registry{}
	r.Reset(programs)
	return r
}

// Reset replaces the program table and drops resolved ids.
func (r *Registry) Reset(programs map[string]string) {
	table := make(map[string]string, len(programs))
	for k, v := range programs {
		table[strings.ToLower(k)] = v
	}
	r.mu.Lock()
	r.programs = table
	r.loaded = make(map[string]solana.PublicKey)
	r.mu.Unlock()
}

// LoadProgram returns the program id for key, parsing it once.
func (r *Registry) LoadProgram(key string) (solana.PublicKey, error) {
	key = strings.ToLower(key)

	r.mu.RLock()
	pk, ok := r.loaded[key]
	addr, known := r.programs[key]
	r.mu.RUnlock()
	if ok {
		return pk, nil
	}
	if !known {
		return solana.PublicKey{}, fmt.Errorf("%w: %s", ErrUnknownProgram, key)
	}

	pk, err := solana.PublicKeyFromBase58(addr)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("invalid program id for %s: %w", key, err)
	}

	r.mu.Lock()
	r.loaded[key] = pk
	r.mu.Unlock()
	return pk, nil
}

// FetchAccount loads address, checks it is an anchor account of type accountType
// owned by program and borsh-decodes the body into out.
func FetchAccount(ctx context.Context, fetcher AccountFetcher, program solana.PublicKey, accountType string, address solana.PublicKey, out interface{}) error {
	_, err := FetchAccountSlot(ctx, fetcher, program, accountType, address, out)
	return err
}

// FetchAccountSlot is FetchAccount that also returns the slot the account was read at.
func FetchAccountSlot(ctx context.Context, fetcher AccountFetcher, program solana.PublicKey, accountType string, address solana.PublicKey, out interface{}) (uint64, error) {
	acc, err := fetcher.GetAccount(ctx, address)
	if err != nil {
		return 0, err
	}
	if !acc.Owner.Equals(program) {
		return 0, fmt.Errorf("%w: %s owned by %s, want %s", ErrWrongOwner, address, acc.Owner, program)
	}
	if err := DecodeAccount(acc.Data, accountType, out); err != nil {
		return 0, err
	}
	return acc.Slot, nil
}

// DecodeAccount verifies the anchor discriminator of data and decodes the rest into out.
func DecodeAccount(data []byte, accountType string, out interface{}) error {
	if len(data) < DiscriminatorLength {
		return fmt.Errorf("data too short for %s: %d bytes", accountType, len(data))
	}
	if !bytes.Equal(data[:DiscriminatorLength], AccountDiscriminator(accountType)) {
		return fmt.Errorf("%w: want %s", ErrWrongDiscriminator, accountType)
	}
	if err := bin.NewBorshDecoder(data[DiscriminatorLength:]).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s: %w", accountType, err)
	}
	return nil
}

// EncodeAccount is the inverse of DecodeAccount.
func EncodeAccount(accountType string, v interface{}) ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.Write(AccountDiscriminator(accountType))
	if err := bin.NewBorshEncoder(buf).Encode(v); err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", accountType, err)
	}
	return buf.Bytes(), nil
}
