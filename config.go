package x402

import (
	"fmt"
	"math/big"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Defaults applied by WithDefaults.
const (
	DefaultTimeout   = 10 * time.Second
	DefaultTTL       = 60 * time.Second
	DefaultReplayTTL = 24 * time.Hour

	maxTimeout       = 300 * time.Second
	maxTTL           = 3600 * time.Second
	maxAssetDecimals = 28
)

// FallbackPolicy decides what happens when the facilitator cannot be reached.
type FallbackPolicy int

const (
	// FallbackError rejects the request with 502.
	FallbackError FallbackPolicy = iota
	// FallbackPass forwards the request without a verified payment.
	FallbackPass
)

// ParseFallbackPolicy parses a facilitator_fallback directive value.
func ParseFallbackPolicy(s string) (FallbackPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "error", "500":
		return FallbackError, nil
	case "pass", "bypass", "through":
		return FallbackPass, nil
	default:
		return FallbackError, configErrorf("invalid facilitator fallback %q (want error or pass)", s)
	}
}

func (p FallbackPolicy) String() string {
	if p == FallbackPass {
		return "pass"
	}
	return "error"
}

// GateConfig is the static payment configuration of one protected resource.
// Zero durations and a nil AssetDecimals take the defaults listed above.
type GateConfig struct {
	Enabled bool

	// Amount is a decimal price in asset units, e.g. "0.001" or "$0.001".
	Amount string

	// PayTo is the address receiving payment.
	PayTo string

	// FacilitatorURL is the base URL of the facilitator; /verify and /settle
	// are appended to it.
	FacilitatorURL string

	// Network is a friendly name ("base-sepolia") or CAIP-2 id ("eip155:84532").
	// NetworkID, when set, takes precedence.
	Network   string
	NetworkID uint64

	// Asset is the token contract. Defaults to USDC on the selected network.
	Asset string

	// AssetDecimals is the token precision. Nil means DefaultAssetDecimals;
	// zero is a valid precision.
	AssetDecimals *int

	Description string

	// ResourcePath overrides the request path both as the advertised resource
	// and as the price lookup key.
	ResourcePath string

	// Timeout bounds each facilitator call.
	Timeout time.Duration

	// TTL is advertised to clients as maxTimeoutSeconds.
	TTL time.Duration

	Fallback FallbackPolicy

	// StoreURL points at the redis instance holding price overrides and
	// replay records. Empty disables both.
	StoreURL string

	ReplayTTL time.Duration
}

// Validate checks if the configuration is valid.
func (c *GateConfig) Validate() error {
	if c.Amount != "" {
		amount, err := ParseAmount(c.Amount)
		if err != nil {
			return NewGateError(KindConfig, "invalid amount", err)
		}
		if amount.Sign() < 0 {
			return configErrorf("amount cannot be negative")
		}
		if c.Enabled && amount.Sign() == 0 {
			return configErrorf("amount must be greater than zero")
		}
		if _, err := ToMinorUnits(amount, c.decimals()); err != nil {
			return NewGateError(KindConfig, "invalid amount", err)
		}
	} else if c.Enabled {
		return configErrorf("amount is required")
	}

	if d := c.decimals(); d < 0 || d > maxAssetDecimals {
		return configErrorf("asset decimals must be between 0 and %d, got %d", maxAssetDecimals, d)
	}

	if c.NetworkID != 0 {
		if _, ok := LookupChainID(c.NetworkID); !ok {
			return configErrorf("unsupported chain id %d", c.NetworkID)
		}
	}
	if err := validateNetwork(c.Network); err != nil {
		return NewGateError(KindConfig, "invalid network", err)
	}

	if c.PayTo != "" {
		if err := validatePayTo(c.PayTo, c.network()); err != nil {
			return NewGateError(KindConfig, "invalid pay_to", err)
		}
	} else if c.Enabled {
		return configErrorf("pay_to is required")
	}

	if c.FacilitatorURL != "" {
		if err := validateHTTPURL(c.FacilitatorURL); err != nil {
			return NewGateError(KindConfig, "invalid facilitator url", err)
		}
	} else if c.Enabled {
		return configErrorf("facilitator url is required")
	}

	if c.Asset != "" && !common.IsHexAddress(c.Asset) {
		return configErrorf("asset %q is not a valid contract address", c.Asset)
	}

	if strings.Contains(c.ResourcePath, "..") {
		return configErrorf("resource path cannot contain '..'")
	}

	if c.Timeout < 0 || c.Timeout > maxTimeout || (c.Timeout > 0 && c.Timeout < time.Second) {
		return configErrorf("timeout must be between 1s and %s, got %s", maxTimeout, c.Timeout)
	}
	if c.TTL < 0 || c.TTL > maxTTL || (c.TTL > 0 && c.TTL < time.Second) {
		return configErrorf("ttl must be between 1s and %s, got %s", maxTTL, c.TTL)
	}
	if c.ReplayTTL < 0 || (c.ReplayTTL > 0 && c.ReplayTTL < time.Second) {
		return configErrorf("replay ttl must be at least 1s, got %s", c.ReplayTTL)
	}

	if c.StoreURL != "" {
		u, err := url.Parse(c.StoreURL)
		if err != nil || (u.Scheme != "redis" && u.Scheme != "rediss" && u.Scheme != "unix") {
			return configErrorf("store url %q must use redis://, rediss:// or unix://", c.StoreURL)
		}
	}

	return nil
}

// WithDefaults returns a copy of c with unset fields filled in.
func (c GateConfig) WithDefaults() GateConfig {
	c.FacilitatorURL = strings.TrimRight(strings.TrimSpace(c.FacilitatorURL), "/")
	c.PayTo = strings.TrimSpace(c.PayTo)
	c.Network = c.network()
	c.NetworkID = 0
	if c.Asset == "" {
		c.Asset = DefaultAsset(c.Network)
	}
	if c.AssetDecimals == nil {
		d := DefaultAssetDecimals
		c.AssetDecimals = &d
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.TTL == 0 {
		c.TTL = DefaultTTL
	}
	if c.ReplayTTL == 0 {
		c.ReplayTTL = DefaultReplayTTL
	}
	return c
}

// StaticAmount returns the configured price.
func (c *GateConfig) StaticAmount() (*big.Rat, error) {
	if c.Amount == "" {
		return nil, configErrorf("amount is required")
	}
	amount, err := ParseAmount(c.Amount)
	if err != nil {
		return nil, NewGateError(KindConfig, "invalid amount", err)
	}
	return amount, nil
}

// network resolves the CAIP-2 network the config refers to.
func (c *GateConfig) network() string {
	if c.NetworkID != 0 {
		return fmt.Sprintf("eip155:%d", c.NetworkID)
	}
	if c.Network == "" {
		return DefaultNetwork
	}
	return NormalizeNetwork(c.Network)
}

func (c *GateConfig) decimals() int {
	if c.AssetDecimals == nil {
		return DefaultAssetDecimals
	}
	return *c.AssetDecimals
}

func validatePayTo(payTo, network string) error {
	if !strings.HasPrefix(network, "eip155:") {
		return nil
	}
	if !strings.HasPrefix(payTo, "0x") && !strings.HasPrefix(payTo, "0X") {
		return fmt.Errorf("address must start with 0x")
	}
	if len(payTo) == 2 {
		return fmt.Errorf("address is empty")
	}
	if !isHex(payTo[2:]) {
		return fmt.Errorf("address contains invalid hex characters")
	}
	return nil
}

func isHex(s string) bool {
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url must start with http:// or https://")
	}
	if u.Host == "" {
		return fmt.Errorf("url has no host")
	}
	return nil
}

// normalizeHex decodes 0x-prefixed hex; anything else is used as raw bytes.
func normalizeHex(s string) []byte {
	if b, err := hexutil.Decode(strings.ToLower(s)); err == nil {
		return b
	}
	return []byte(s)
}

// Routes maps request paths to the GateConfig protecting them.
// Patterns support exact matches ("/v1/endpoint"), wildcards ("/v1/*") and
// path.Match globs.
type Routes struct {
	configs    map[string]*GateConfig
	skip       []string
	defaultCfg *GateConfig
}

// NewRoutes creates an empty route table.
func NewRoutes() *Routes {
	return &Routes{configs: make(map[string]*GateConfig)}
}

// Handle validates cfg and registers it for pattern.
func (r *Routes) Handle(pattern string, cfg GateConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid gate config for pattern %q: %w", pattern, err)
	}
	resolved := cfg.WithDefaults()
	r.configs[pattern] = &resolved
	return nil
}

// Default sets the config used when no pattern matches.
func (r *Routes) Default(cfg GateConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid default gate config: %w", err)
	}
	resolved := cfg.WithDefaults()
	r.defaultCfg = &resolved
	return nil
}

// Skip registers patterns that bypass payment checks entirely, such as
// health checks.
func (r *Routes) Skip(patterns ...string) {
	r.skip = append(r.skip, patterns...)
}

// Len returns the number of registered patterns.
func (r *Routes) Len() int {
	return len(r.configs)
}

// Match finds the config for a request path or gRPC full method name.
// Returns the config and true if found, nil and false otherwise.
func (r *Routes) Match(requestPath string) (*GateConfig, bool) {
	for _, skipPath := range r.skip {
		if matchPath(requestPath, skipPath) {
			return nil, false
		}
	}

	if cfg, ok := r.configs[requestPath]; ok {
		return cfg, true
	}

	// Longer patterns are more specific
	var bestMatch string
	var bestCfg *GateConfig
	for pattern, cfg := range r.configs {
		if matchPath(requestPath, pattern) && len(pattern) > len(bestMatch) {
			bestMatch = pattern
			bestCfg = cfg
		}
	}
	if bestCfg != nil {
		return bestCfg, true
	}

	if r.defaultCfg != nil {
		return r.defaultCfg, true
	}
	return nil, false
}

// matchPath checks if a request path matches a pattern
// Supports wildcards: /v1/* matches /v1/foo, /v1/foo/bar, etc.
func matchPath(requestPath, pattern string) bool {
	if requestPath == pattern {
		return true
	}

	if strings.HasSuffix(pattern, "/*") {
		prefix := strings.TrimSuffix(pattern, "/*")
		return strings.HasPrefix(requestPath, prefix+"/") || requestPath == prefix
	}

	matched, _ := path.Match(pattern, requestPath)
	return matched
}
