package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Home      string          `json:"home" env:"CAMPUSPAY_HOME"`
	Network   NetworkConfig   `json:"network"`
	Wallet    WalletConfig    `json:"wallet"`
	Submitter SubmitterConfig `json:"submitter"`
	Contracts ContractsConfig `json:"contracts"`
	Receipt   ReceiptConfig   `json:"receipt"`
	ModelList []ModelConfig   `json:"model_list"`
	Gateway   GatewayConfig   `json:"gateway"`
	Storage   StorageConfig   `json:"storage"`
	Logging   LoggingConfig   `json:"logging"`

	mu         sync.RWMutex
	rrCounters map[string]*atomic.Uint64 // Round-robin counters for model_list entries
}

// NetworkConfig holds the raw environment-supplied values for the two network
// services. ResolveNetwork turns them into usable endpoints.
type NetworkConfig struct {
	Name          string `json:"name" env:"CAMPUSPAY_NETWORK"`
	ChainID       int64  `json:"chain_id,omitempty" env:"CAMPUSPAY_CHAIN_ID"`
	NodeServer    string `json:"node_server,omitempty" env:"CAMPUSPAY_NODE_SERVER"`
	NodePort      string `json:"node_port,omitempty" env:"CAMPUSPAY_NODE_PORT"`
	NodeToken     string `json:"node_token,omitempty" env:"CAMPUSPAY_NODE_TOKEN"`
	IndexerServer string `json:"indexer_server,omitempty" env:"CAMPUSPAY_INDEXER_SERVER"`
	IndexerPort   string `json:"indexer_port,omitempty" env:"CAMPUSPAY_INDEXER_PORT"`
	IndexerToken  string `json:"indexer_token,omitempty" env:"CAMPUSPAY_INDEXER_TOKEN"`
	Currency      string `json:"currency,omitempty" env:"CAMPUSPAY_CURRENCY"`
	Explorer      string `json:"explorer,omitempty" env:"CAMPUSPAY_EXPLORER"`
}

type WalletConfig struct {
	Connector          string `json:"connector" env:"CAMPUSPAY_WALLET_CONNECTOR"` // keystore or relay
	KeystoreDir        string `json:"keystore_dir" env:"CAMPUSPAY_WALLET_KEYSTORE_DIR"`
	PIN                string `json:"-" env:"CAMPUSPAY_WALLET_PIN"`
	RelayURL           string `json:"relay_url" env:"CAMPUSPAY_WALLET_RELAY_URL"`
	ProjectID          string `json:"project_id,omitempty" env:"CAMPUSPAY_WALLET_PROJECT_ID"`
	PairTimeoutSeconds int    `json:"pair_timeout_seconds" env:"CAMPUSPAY_WALLET_PAIR_TIMEOUT_SECONDS"`
	BalanceRefreshCron string `json:"balance_refresh_cron,omitempty" env:"CAMPUSPAY_WALLET_BALANCE_REFRESH_CRON"`
}

type SubmitterConfig struct {
	MaxRounds      int `json:"max_rounds" env:"CAMPUSPAY_SUBMITTER_MAX_ROUNDS"`
	PollIntervalMS int `json:"poll_interval_ms" env:"CAMPUSPAY_SUBMITTER_POLL_INTERVAL_MS"`
}

// ContractsConfig holds the deployed campus contract addresses. Payments are plain
// value transfers and need no contract.
type ContractsConfig struct {
	Expense   string `json:"expense,omitempty" env:"CAMPUSPAY_CONTRACT_EXPENSE"`
	Ticketing string `json:"ticketing,omitempty" env:"CAMPUSPAY_CONTRACT_TICKETING"`
	Fundraise string `json:"fundraise,omitempty" env:"CAMPUSPAY_CONTRACT_FUNDRAISE"`
}

type ReceiptConfig struct {
	Model          string `json:"model" env:"CAMPUSPAY_RECEIPT_MODEL"` // model_name from model_list
	MaxImageBytes  int    `json:"max_image_bytes" env:"CAMPUSPAY_RECEIPT_MAX_IMAGE_BYTES"`
	TimeoutSeconds int    `json:"timeout_seconds" env:"CAMPUSPAY_RECEIPT_TIMEOUT_SECONDS"`
}

// ModelConfig represents a model-centric provider configuration.
// The model field uses protocol prefix format: [protocol/]model-identifier
// Supported protocols: openai, anthropic
// Default protocol is "openai" if no prefix is specified.
type ModelConfig struct {
	ModelName string `json:"model_name"` // User-facing alias for the model
	Model     string `json:"model"`      // Protocol/model-identifier (e.g., "openai/gpt-4o", "anthropic/claude-3")

	APIBase   string `json:"api_base,omitempty"`
	APIKey    string `json:"api_key,omitempty"`
	MaxTokens int    `json:"max_tokens,omitempty"`
}

// Validate checks if the ModelConfig has all required fields.
func (c *ModelConfig) Validate() error {
	if c.ModelName == "" {
		return fmt.Errorf("model_name is required")
	}
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	return nil
}

// ParseProtocol extracts the protocol prefix and model identifier from the Model field.
// If no prefix is specified, it defaults to "openai".
// Examples:
//   - "openai/gpt-4o" -> ("openai", "gpt-4o")
//   - "anthropic/claude-3" -> ("anthropic", "claude-3")
//   - "gpt-4o" -> ("openai", "gpt-4o")
func (c *ModelConfig) ParseProtocol() (protocol, modelID string) {
	if i := strings.IndexByte(c.Model, '/'); i >= 0 {
		return c.Model[:i], c.Model[i+1:]
	}
	return "openai", c.Model
}

type GatewayConfig struct {
	Host string `json:"host" env:"CAMPUSPAY_GATEWAY_HOST"`
	Port int    `json:"port" env:"CAMPUSPAY_GATEWAY_PORT"`
}

type StorageConfig struct {
	Path string `json:"path" env:"CAMPUSPAY_STORAGE_PATH"`
}

type LoggingConfig struct {
	Level  string `json:"level" env:"CAMPUSPAY_LOG_LEVEL"`
	Format string `json:"format" env:"CAMPUSPAY_LOG_FORMAT"` // console or json
}

func DefaultConfig() *Config {
	return &Config{
		Home: "~/.campuspay",
		Network: NetworkConfig{
			Name: "testnet",
		},
		Wallet: WalletConfig{
			Connector:          "keystore",
			KeystoreDir:        "~/.campuspay/wallet",
			RelayURL:           "ws://localhost:8787/relay",
			PairTimeoutSeconds: 120,
		},
		Submitter: SubmitterConfig{
			MaxRounds:      10,
			PollIntervalMS: 3000,
		},
		Receipt: ReceiptConfig{
			Model:          "receipt",
			MaxImageBytes:  5 << 20,
			TimeoutSeconds: 60,
		},
		Gateway: GatewayConfig{
			Host: "127.0.0.1",
			Port: 18795,
		},
		Storage: StorageConfig{
			Path: "~/.campuspay/campuspay.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadConfig reads a JSON or YAML config file on top of the defaults and then
// applies environment overrides. A missing file yields the defaults plus env.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	if err == nil {
		if isYAML(path) {
			data, err = yamlToJSON(data)
			if err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if err := cfg.ValidateModelList(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = jsonToYAML(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// yamlToJSON lets YAML files share the JSON tags of Config.
func yamlToJSON(data []byte) ([]byte, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(raw)
}

func jsonToYAML(cfg *Config) ([]byte, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return yaml.Marshal(raw)
}

func (c *Config) HomePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return expandHome(c.Home)
}

func (c *Config) KeystorePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return expandHome(c.Wallet.KeystoreDir)
}

func (c *Config) StoragePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return expandHome(c.Storage.Path)
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}

// GetModelConfig returns the ModelConfig for the given model name.
// If multiple configs exist with the same model_name, it uses round-robin
// selection for load balancing. Returns an error if the model is not found.
func (c *Config) GetModelConfig(modelName string) (*ModelConfig, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var matches []ModelConfig
	for i := range c.ModelList {
		if c.ModelList[i].ModelName == modelName {
			matches = append(matches, c.ModelList[i])
		}
	}

	if len(matches) == 0 {
		return nil, fmt.Errorf("model %q not found in model_list", modelName)
	}

	if len(matches) == 1 {
		return &matches[0], nil
	}

	if c.rrCounters == nil {
		c.rrCounters = make(map[string]*atomic.Uint64)
	}

	counter, ok := c.rrCounters[modelName]
	if !ok {
		counter = &atomic.Uint64{}
		c.rrCounters[modelName] = counter
	}

	idx := counter.Add(1) % uint64(len(matches))
	return &matches[idx], nil
}

// ValidateModelList validates all ModelConfig entries in the model_list.
func (c *Config) ValidateModelList() error {
	for i := range c.ModelList {
		if err := c.ModelList[i].Validate(); err != nil {
			return fmt.Errorf("model_list[%d]: %w", i, err)
		}
	}
	return nil
}
