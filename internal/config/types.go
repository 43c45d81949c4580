package config

import "time"

// Config represents the complete exert node configuration.
type Config struct {
	Include      []string        `yaml:"include,omitempty"`
	Service      ServiceConfig   `yaml:"service"`
	State        StateConfig     `yaml:"state"`
	Provider     ProviderConfig  `yaml:"provider"`
	Transport    TransportConfig `yaml:"transport"`
	Space        SpaceConfig     `yaml:"space"`
	Dispatch     DispatchConfig  `yaml:"dispatch"`
	PipelinesDir string          `yaml:"pipelines_dir"`

	// SourceFiles lists the absolute paths of every file merged into this
	// config (root first). Populated by Load.
	SourceFiles []string `yaml:"-"`
}

// ServiceConfig contains node identity and logging settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// StateConfig contains sqlite state settings.
type StateConfig struct {
	Path string `yaml:"path"`
}

// ProviderConfig configures the provider server a node exposes.
type ProviderConfig struct {
	Name            string        `yaml:"name"`
	Listen          string        `yaml:"listen"`
	APIKey          string        `yaml:"api_key"`
	MaxConcurrent   int           `yaml:"max_concurrent"`
	MaxExertTimeout time.Duration `yaml:"max_exert_timeout"`
	// Tokens are bearer tokens limited to the listed scopes; api_key holds
	// every scope.
	Tokens []TokenConfig `yaml:"tokens,omitempty"`
}

// TokenConfig is a named bearer token and its scopes.
type TokenConfig struct {
	Name   string   `yaml:"name"`
	Token  string   `yaml:"token"`
	Scopes []string `yaml:"scopes"`
}

// TransportConfig lists the remote providers net signatures are sent to.
type TransportConfig struct {
	Endpoints []EndpointConfig `yaml:"endpoints,omitempty"`
	// Fallback names the endpoint used for signatures without a provider.
	Fallback string        `yaml:"fallback,omitempty"`
	Timeout  time.Duration `yaml:"timeout"`
}

// EndpointConfig addresses one remote provider.
type EndpointConfig struct {
	Name   string `yaml:"name"`
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key,omitempty"`
}

// SpaceConfig configures the shared PULL work space.
type SpaceConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	TickInterval time.Duration `yaml:"tick_interval"`
	Worker       string        `yaml:"worker,omitempty"`
}

// DispatchConfig configures top-level exertions started by this node.
type DispatchConfig struct {
	Timeout       time.Duration `yaml:"timeout"`
	DisableLedger bool          `yaml:"disable_ledger"`
}

// Defaults returns a Config with default values.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "exert",
			LogLevel:  "info",
			LogFormat: "json",
		},
		State: StateConfig{
			Path: "./data/exert.db",
		},
		Provider: ProviderConfig{
			Listen:          "localhost:8080",
			MaxConcurrent:   16,
			MaxExertTimeout: 5 * time.Minute,
		},
		Transport: TransportConfig{
			Timeout: 30 * time.Second,
		},
		Space: SpaceConfig{
			PollInterval: 50 * time.Millisecond,
			TickInterval: 200 * time.Millisecond,
		},
		Dispatch: DispatchConfig{
			Timeout: 10 * time.Minute,
		},
		PipelinesDir: "./pipelines",
	}
}
