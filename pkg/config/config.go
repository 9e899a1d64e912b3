package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gagliardetto/solana-go"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Program keys used in net_data.program.
const (
	ProgramNetAuthority  = "atx-net-authority"
	ProgramSwapContract  = "atx-swap-contract"
	ProgramTokenAgent    = "token-agent"
	ProgramTokenDelegate = "token-delegate"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	v.RegisterValidation("pubkey", func(fl validator.FieldLevel) bool {
		_, err := solana.PublicKeyFromBase58(fl.Field().String())
		return err == nil
	})
	return v
}

// fieldPath turns "Config.swap_data[sol].token_mint1" into "swap_data.sol.token_mint1".
func fieldPath(namespace string) string {
	if i := strings.IndexByte(namespace, '.'); i >= 0 {
		namespace = namespace[i+1:]
	}
	return strings.NewReplacer("[", ".", "]", "").Replace(namespace)
}

type Config struct {
	Network      string               `mapstructure:"network" validate:"omitempty,oneof=devnet testnet mainnet-beta mainnet localnet localhost"`
	RPCEndpoints []string             `mapstructure:"rpc_endpoints" validate:"dive,url"`
	RateLimit    int                  `mapstructure:"rate_limit" validate:"gte=0"`
	Commitment   string               `mapstructure:"commitment" validate:"omitempty,oneof=processed confirmed finalized"`
	NetData      NetData              `mapstructure:"net_data"`
	OrderData    OrderData            `mapstructure:"order_data"`
	SwapData     map[string]SwapSpec  `mapstructure:"swap_data" validate:"dive"`
	Tokens       map[string]TokenSpec `mapstructure:"tokens" validate:"dive"`
	Socket       SocketConfig         `mapstructure:"socket"`
	RegisterURL  string               `mapstructure:"register_url" validate:"omitempty,url"`
	Wallet       WalletConfig         `mapstructure:"wallet"`
	LogLevel     string               `mapstructure:"log_level"`
	ListenAddr   string               `mapstructure:"listen_addr"`
}

// NetData carries the deployed program ids keyed by program name.
type NetData struct {
	Program map[string]string `mapstructure:"program" validate:"dive,pubkey"`
}

// ProgramID resolves a program key to its public key.
func (n NetData) ProgramID(key string) (solana.PublicKey, error) {
	addr, ok := n.Program[key]
	if !ok || addr == "" {
		return solana.PublicKey{}, fmt.Errorf("%w: program %q not configured", ErrInvalidConfig, key)
	}
	pk, err := solana.PublicKeyFromBase58(addr)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("%w: program %q: %v", ErrInvalidConfig, key, err)
	}
	return pk, nil
}

// OrderData describes the merchant order being paid.
type OrderData struct {
	OrderID          string `mapstructure:"order_id" json:"orderId" validate:"omitempty,uuid"`
	TokenMint        string `mapstructure:"token_mint" json:"tokenMint" validate:"omitempty,pubkey"`
	MerchantWallet   string `mapstructure:"merchant_wallet" json:"merchantWallet" validate:"omitempty,pubkey"`
	MerchantApproval string `mapstructure:"merchant_approval" json:"merchantApproval" validate:"omitempty,pubkey"`
	FeesAccount      string `mapstructure:"fees_account" json:"feesAccount" validate:"omitempty,pubkey"`
}

// SwapSpec describes one swap route the checkout may use.
type SwapSpec struct {
	SwapDirection bool   `mapstructure:"swap_direction" json:"swapDirection"`
	TokenMint1    string `mapstructure:"token_mint1" json:"tokenMint1" validate:"pubkey"`
	TokenMint2    string `mapstructure:"token_mint2" json:"tokenMint2" validate:"pubkey"`
	SwapData      string `mapstructure:"swap_data" json:"swapData" validate:"pubkey"`
	FeesToken     string `mapstructure:"fees_token" json:"feesToken" validate:"pubkey"`
	OracleChain   string `mapstructure:"oracle_chain" json:"oracleChain,omitempty" validate:"omitempty,pubkey"`
	OracleTrack   string `mapstructure:"oracle_track" json:"oracleTrack,omitempty"`
	FromToken     string `mapstructure:"from_token" json:"fromToken,omitempty"`
	ToToken       string `mapstructure:"to_token" json:"toToken,omitempty"`
}

// TokenSpec is a token descriptor: mint plus on-chain and display precision.
type TokenSpec struct {
	Symbol       string `mapstructure:"symbol" json:"symbol"`
	Mint         string `mapstructure:"mint" json:"mint" validate:"pubkey"`
	Decimals     int32  `mapstructure:"decimals" json:"decimals" validate:"gte=0"`
	ViewDecimals int32  `mapstructure:"view_decimals" json:"viewDecimals" validate:"gte=0"`
}

type SocketConfig struct {
	URL                  string        `mapstructure:"url" validate:"omitempty,url"`
	Reconnection         bool          `mapstructure:"reconnection"`
	ReconnectionAttempts int           `mapstructure:"reconnection_attempts" validate:"gte=0"`
	ReconnectionDelay    time.Duration `mapstructure:"reconnection_delay"`
}

type WalletConfig struct {
	KeypairPath     string `mapstructure:"keypair_path"`
	PrivateKeyEnv   string `mapstructure:"private_key_env"`
	CrockfordKeyEnv string `mapstructure:"crockford_key_env"`
}

// Swap looks up a swap spec by key. Keys are case-insensitive.
func (c *Config) Swap(key string) (SwapSpec, bool) {
	spec, ok := c.SwapData[strings.ToLower(key)]
	return spec, ok
}

// Token looks up a token descriptor by symbol. Symbols are case-insensitive.
func (c *Config) Token(symbol string) (TokenSpec, bool) {
	spec, ok := c.Tokens[strings.ToLower(symbol)]
	if ok && spec.Symbol == "" {
		spec.Symbol = strings.ToUpper(symbol)
	}
	return spec, ok
}

// Validate checks addresses and identifiers that the checkout relies on.
func (c *Config) Validate() error {
	return validationError("", validate.Struct(c))
}

// Validate checks the order addresses and id.
func (o OrderData) Validate() error {
	return validationError("order_data", validate.Struct(o))
}

// Validate checks the program ids.
func (n NetData) Validate() error {
	return validationError("net_data", validate.Struct(n))
}

// Validate checks the swap route addresses.
func (s SwapSpec) Validate() error {
	return validationError("swap_data", validate.Struct(s))
}

// validationError reports the first failed field under prefix.
func validationError(prefix string, err error) error {
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		path := fieldPath(fe.Namespace())
		if prefix != "" {
			path = prefix + "." + path
		}
		return fmt.Errorf("%w: %s: failed %q check on %v", ErrInvalidConfig, path, fe.Tag(), fe.Value())
	}
	return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	v.SetDefault("network", "devnet")
	v.SetDefault("rate_limit", 20)
	v.SetDefault("commitment", "confirmed")
	v.SetDefault("socket.reconnection", true)
	v.SetDefault("socket.reconnection_attempts", 12)
	v.SetDefault("socket.reconnection_delay", 5*time.Second)
	v.SetDefault("wallet.private_key_env", "SOLANA_PRIVATE_KEY_BASE58")
	v.SetDefault("wallet.crockford_key_env", "CHECKOUT_SECRET_KEY")
	v.SetDefault("log_level", "info")
	v.SetDefault("listen_addr", ":8080")

	v.SetEnvPrefix("CHECKOUT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	}
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if len(cfg.RPCEndpoints) == 0 {
		cfg.RPCEndpoints = GetRPCEndpoints()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load reads the YAML config at path (optional when empty) with CHECKOUT_* env overrides.
func Load(path string) (*Config, error) {
	v := newViper(path)
	if path != "" {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}
	return decode(v)
}

// Store holds the live configuration. Net, order and swap data may be replaced at runtime.
type Store struct {
	mu  sync.RWMutex
	cfg Config
	v   *viper.Viper
}

// NewStore loads path into a Store.
func NewStore(path string) (*Store, error) {
	v := newViper(path)
	if path != "" {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}
	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	return &Store{cfg: *cfg, v: v}, nil
}

// NewStaticStore wraps an already built config.
func NewStaticStore(cfg Config) *Store {
	return &Store{cfg: cfg}
}

// Config returns a snapshot of the current configuration.
func (s *Store) Config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// UpdateNetData replaces the program ids after validating them.
func (s *Store) UpdateNetData(data NetData) error {
	if err := data.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.cfg.NetData = data
	s.mu.Unlock()
	return nil
}

// UpdateOrderData replaces the order being paid after validating it.
func (s *Store) UpdateOrderData(data OrderData) error {
	if err := data.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.cfg.OrderData = data
	s.mu.Unlock()
	return nil
}

// UpdateSwapData replaces the swap routes after validating them. Keys are
// lowercased like the ones read from the config file.
func (s *Store) UpdateSwapData(data map[string]SwapSpec) error {
	swaps := make(map[string]SwapSpec, len(data))
	for key, spec := range data {
		if err := spec.Validate(); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		swaps[strings.ToLower(key)] = spec
	}
	s.mu.Lock()
	s.cfg.SwapData = swaps
	s.mu.Unlock()
	return nil
}

// Watch re-reads the config file on change and applies net, order and swap data.
// Invalid edits are logged and ignored.
func (s *Store) Watch(onChange func(Config)) {
	if s.v == nil || s.v.ConfigFileUsed() == "" {
		return
	}

	s.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := decode(s.v)
		if err != nil {
			log.Warn().Err(err).Str("file", e.Name).Msg("ignoring config change")
			return
		}

		s.mu.Lock()
		s.cfg.NetData = cfg.NetData
		s.cfg.OrderData = cfg.OrderData
		s.cfg.SwapData = cfg.SwapData
		s.cfg.Tokens = cfg.Tokens
		snapshot := s.cfg
		s.mu.Unlock()

		log.Info().Str("file", e.Name).Msg("config reloaded")
		if onChange != nil {
			onChange(snapshot)
		}
	})
	s.v.WatchConfig()
}
