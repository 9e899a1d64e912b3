package wallet

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/gagliardetto/solana-go"

	"solcheckout/pkg/config"
)

// ErrNotReady is returned when signing with an adapter that has no key loaded.
var ErrNotReady = errors.New("wallet not ready")

// ReadyState mirrors the wallet-adapter ready states.
type ReadyState string

const (
	// Installed adapters hold a usable key.
	Installed ReadyState = "Installed"
	// NotDetected adapters have no key source configured.
	NotDetected ReadyState = "NotDetected"
	// Loadable adapters point at a key source that is not there yet.
	Loadable ReadyState = "Loadable"
	// Unsupported adapters found a key source they cannot read.
	Unsupported ReadyState = "Unsupported"
)

// Adapter is a transaction signer.
type Adapter interface {
	Name() string
	ReadyState() ReadyState
	PublicKey() solana.PublicKey
	SignTransaction(ctx context.Context, tx *solana.Transaction) error
	SignAllTransactions(ctx context.Context, txs []*solana.Transaction) error
}

// keyAdapter signs with an in-memory private key.
type keyAdapter struct {
	name  string
	state ReadyState
	key   solana.PrivateKey
	err   error
}

func (a *keyAdapter) Name() string {
	return a.name
}

func (a *keyAdapter) ReadyState() ReadyState {
	return a.state
}

// Err returns why the adapter is not Installed, if known.
func (a *keyAdapter) Err() error {
	return a.err
}

func (a *keyAdapter) PublicKey() solana.PublicKey {
	if a.state != Installed {
		return solana.PublicKey{}
	}
	return a.key.PublicKey()
}

func (a *keyAdapter) SignTransaction(ctx context.Context, tx *solana.Transaction) error {
	if a.state != Installed {
		return fmt.Errorf("%w: %s is %s", ErrNotReady, a.name, a.state)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	pub := a.key.PublicKey()
	_, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(pub) {
			return &a.key
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s: failed to sign: %w", a.name, err)
	}
	return nil
}

func (a *keyAdapter) SignAllTransactions(ctx context.Context, txs []*solana.Transaction) error {
	for i, tx := range txs {
		if err := a.SignTransaction(ctx, tx); err != nil {
			return fmt.Errorf("transaction %d: %w", i, err)
		}
	}
	return nil
}

func (a *keyAdapter) install(key solana.PrivateKey, err error) *keyAdapter {
	if err == nil {
		err = ValidateKey(key)
	}
	if err != nil {
		a.state = Unsupported
		a.err = err
		return a
	}
	a.state = Installed
	a.key = key
	return a
}

// NewKeyAdapter wraps an already loaded key.
func NewKeyAdapter(name string, key solana.PrivateKey) Adapter {
	return (&keyAdapter{name: name}).install(key, nil)
}

// NewKeypairFileAdapter loads a solana-keygen JSON keypair file.
func NewKeypairFileAdapter(path string) Adapter {
	a := &keyAdapter{name: "Keypair File"}
	if path == "" {
		a.state = NotDetected
		return a
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		a.state = Loadable
		a.err = err
		return a
	}
	return a.install(solana.PrivateKeyFromSolanaKeygenFile(path))
}

// NewEnvAdapter reads a base58 private key from the environment variable name.
func NewEnvAdapter(name string) Adapter {
	a := &keyAdapter{name: "Environment"}
	value := os.Getenv(name)
	if name == "" || value == "" {
		a.state = NotDetected
		return a
	}
	return a.install(solana.PrivateKeyFromBase58(value))
}

// NewCrockfordAdapter reads a Crockford base32 secret key from the environment variable name.
func NewCrockfordAdapter(name string) Adapter {
	a := &keyAdapter{name: "Imported Key"}
	value := os.Getenv(name)
	if name == "" || value == "" {
		a.state = NotDetected
		return a
	}
	return a.install(ImportSecretKey(value))
}

// GetWalletAdapters lists every adapter the configuration knows about.
func GetWalletAdapters(cfg config.WalletConfig) []Adapter {
	return []Adapter{
		NewKeypairFileAdapter(cfg.KeypairPath),
		NewEnvAdapter(cfg.PrivateKeyEnv),
		NewCrockfordAdapter(cfg.CrockfordKeyEnv),
	}
}

// GetWallets returns the Installed adapters in discovery order.
func GetWallets(cfg config.WalletConfig) []Adapter {
	return FilterInstalled(GetWalletAdapters(cfg))
}

// FilterInstalled filters adapters down to the ready ones.
func FilterInstalled(adapters []Adapter) []Adapter {
	wallets := make([]Adapter, 0, len(adapters))
	for _, adp := range adapters {
		if adp.ReadyState() == Installed {
			wallets = append(wallets, adp)
		}
	}
	return wallets
}

// Select picks the installed adapter called name, or the first installed one when
// name is empty. Names compare case-insensitively.
func Select(adapters []Adapter, name string) (Adapter, error) {
	for _, adp := range FilterInstalled(adapters) {
		if name == "" || strings.EqualFold(adp.Name(), name) {
			return adp, nil
		}
	}
	if name == "" {
		return nil, fmt.Errorf("%w: no installed wallet", ErrNotReady)
	}
	return nil, fmt.Errorf("%w: wallet %q not installed", ErrNotReady, name)
}
