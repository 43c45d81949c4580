package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/exert/internal/auth"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads a node configuration. configPath may name a file or a
// directory holding config.yaml. Files listed under include are merged in
// order, later files overriding non-zero values of earlier ones.
func Load(configPath string) (*Config, error) {
	return load(configPath, true)
}

// LoadUnverified is Load without the checksum check, for tools that edit
// or re-lock configuration.
func LoadUnverified(configPath string) (*Config, error) {
	return load(configPath, false)
}

func load(configPath string, verify bool) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	cfg, err := loadConfigFile(absPath)
	if err != nil {
		return nil, err
	}
	cfg.SourceFiles = []string{absPath}

	visited := map[string]bool{absPath: true}
	if err := loadIncludes(cfg, cfg.Include, filepath.Dir(absPath), visited); err != nil {
		return nil, err
	}

	if verify {
		if err := VerifyHashes(cfg.SourceFiles); err != nil {
			return nil, err
		}
	}

	cfg = applyConfigDefaults(cfg)
	resolveRelative(cfg, filepath.Dir(absPath))

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadIncludes recursively loads and merges files from the include array.
// visited tracks loaded files to prevent cycles.
func loadIncludes(cfg *Config, includes []string, baseDir string, visited map[string]bool) error {
	for i, includePath := range includes {
		includePath = interpolateEnv(includePath)
		resolvedPath := includePath
		if !filepath.IsAbs(includePath) {
			resolvedPath = filepath.Join(baseDir, includePath)
		}

		absPath, err := filepath.Abs(resolvedPath)
		if err != nil {
			return fmt.Errorf("include[%d]: failed to resolve path %q: %w", i, includePath, err)
		}
		if visited[absPath] {
			return fmt.Errorf("include[%d]: circular dependency detected: %s", i, absPath)
		}
		if _, err := os.Stat(absPath); err != nil {
			return fmt.Errorf("include[%d]: file not found: %s\n"+
				"Referenced from: %s", i, absPath, baseDir)
		}
		visited[absPath] = true

		included, err := loadConfigFile(absPath)
		if err != nil {
			return fmt.Errorf("include[%d] (%s): %w", i, includePath, err)
		}
		cfg.SourceFiles = append(cfg.SourceFiles, absPath)
		mergeConfig(cfg, included)

		if err := loadIncludes(cfg, included.Include, filepath.Dir(absPath), visited); err != nil {
			return err
		}
	}
	return nil
}

// loadConfigFile loads and parses a single config file without defaults.
func loadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML in %s: %w", path, err)
	}
	return &cfg, nil
}

// mergeConfig merges src into dst, with src taking precedence for non-zero
// values. Transport endpoints are appended, replacing same-named entries.
func mergeConfig(dst, src *Config) {
	setString(&dst.Service.Name, src.Service.Name)
	setString(&dst.Service.LogLevel, src.Service.LogLevel)
	setString(&dst.Service.LogFormat, src.Service.LogFormat)

	setString(&dst.State.Path, src.State.Path)

	setString(&dst.Provider.Name, src.Provider.Name)
	setString(&dst.Provider.Listen, src.Provider.Listen)
	setString(&dst.Provider.APIKey, src.Provider.APIKey)
	if src.Provider.MaxConcurrent != 0 {
		dst.Provider.MaxConcurrent = src.Provider.MaxConcurrent
	}
	if src.Provider.MaxExertTimeout != 0 {
		dst.Provider.MaxExertTimeout = src.Provider.MaxExertTimeout
	}
	if len(src.Provider.Tokens) > 0 {
		dst.Provider.Tokens = src.Provider.Tokens
	}

	for _, ep := range src.Transport.Endpoints {
		replaced := false
		for i := range dst.Transport.Endpoints {
			if dst.Transport.Endpoints[i].Name == ep.Name {
				dst.Transport.Endpoints[i] = ep
				replaced = true
			}
		}
		if !replaced {
			dst.Transport.Endpoints = append(dst.Transport.Endpoints, ep)
		}
	}
	setString(&dst.Transport.Fallback, src.Transport.Fallback)
	if src.Transport.Timeout != 0 {
		dst.Transport.Timeout = src.Transport.Timeout
	}

	if src.Space.PollInterval != 0 {
		dst.Space.PollInterval = src.Space.PollInterval
	}
	if src.Space.TickInterval != 0 {
		dst.Space.TickInterval = src.Space.TickInterval
	}
	setString(&dst.Space.Worker, src.Space.Worker)

	if src.Dispatch.Timeout != 0 {
		dst.Dispatch.Timeout = src.Dispatch.Timeout
	}
	if src.Dispatch.DisableLedger {
		dst.Dispatch.DisableLedger = true
	}

	setString(&dst.PipelinesDir, src.PipelinesDir)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// applyConfigDefaults fills values that were not explicitly set.
func applyConfigDefaults(cfg *Config) *Config {
	defaults := Defaults()

	setDefault := func(dst *string, v string) {
		if *dst == "" {
			*dst = v
		}
	}
	setDefault(&cfg.Service.Name, defaults.Service.Name)
	setDefault(&cfg.Service.LogLevel, defaults.Service.LogLevel)
	setDefault(&cfg.Service.LogFormat, defaults.Service.LogFormat)
	setDefault(&cfg.State.Path, defaults.State.Path)
	setDefault(&cfg.Provider.Listen, defaults.Provider.Listen)
	setDefault(&cfg.Provider.Name, cfg.Service.Name)
	setDefault(&cfg.Space.Worker, cfg.Service.Name)
	setDefault(&cfg.PipelinesDir, defaults.PipelinesDir)

	if cfg.Provider.MaxConcurrent == 0 {
		cfg.Provider.MaxConcurrent = defaults.Provider.MaxConcurrent
	}
	if cfg.Provider.MaxExertTimeout == 0 {
		cfg.Provider.MaxExertTimeout = defaults.Provider.MaxExertTimeout
	}
	if cfg.Transport.Timeout == 0 {
		cfg.Transport.Timeout = defaults.Transport.Timeout
	}
	if cfg.Space.PollInterval == 0 {
		cfg.Space.PollInterval = defaults.Space.PollInterval
	}
	if cfg.Space.TickInterval == 0 {
		cfg.Space.TickInterval = defaults.Space.TickInterval
	}
	if cfg.Dispatch.Timeout == 0 {
		cfg.Dispatch.Timeout = defaults.Dispatch.Timeout
	}
	return cfg
}

// resolveRelative anchors relative state and pipeline paths at the
// directory of the root config file.
func resolveRelative(cfg *Config, baseDir string) {
	if !filepath.IsAbs(cfg.State.Path) {
		cfg.State.Path = filepath.Join(baseDir, cfg.State.Path)
	}
	if !filepath.IsAbs(cfg.PipelinesDir) {
		cfg.PipelinesDir = filepath.Join(baseDir, cfg.PipelinesDir)
	}
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (not expanded).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		// Left in place so validate can name the variable.
		return match
	})
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if cfg.Service.LogFormat != "json" && cfg.Service.LogFormat != "text" {
		return fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}

	if err := checkUnresolved("provider.api_key", cfg.Provider.APIKey); err != nil {
		return err
	}
	if cfg.Provider.MaxConcurrent < 0 {
		return fmt.Errorf("provider.max_concurrent must not be negative")
	}
	for i, tok := range cfg.Provider.Tokens {
		field := fmt.Sprintf("provider.tokens[%d]", i)
		if tok.Name == "" {
			return fmt.Errorf("%s.name is required", field)
		}
		if err := checkUnresolved(field+".token", tok.Token); err != nil {
			return err
		}
		if tok.Token == "" {
			return fmt.Errorf("%s (%s): token is required", field, tok.Name)
		}
		if err := auth.ValidateScopes(tok.Scopes); err != nil {
			return fmt.Errorf("%s (%s): %w", field, tok.Name, err)
		}
	}

	names := make(map[string]bool, len(cfg.Transport.Endpoints))
	for i, ep := range cfg.Transport.Endpoints {
		if ep.Name == "" {
			return fmt.Errorf("transport.endpoints[%d].name is required", i)
		}
		if names[ep.Name] {
			return fmt.Errorf("transport.endpoints[%d]: duplicate endpoint %q", i, ep.Name)
		}
		names[ep.Name] = true

		u, err := url.Parse(ep.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("transport.endpoints[%d] (%s): url must be absolute (got %q)", i, ep.Name, ep.URL)
		}
		if err := checkUnresolved(fmt.Sprintf("transport.endpoints[%d].api_key", i), ep.APIKey); err != nil {
			return err
		}
	}
	if cfg.Transport.Fallback != "" && !names[cfg.Transport.Fallback] {
		return fmt.Errorf("transport.fallback %q does not name an endpoint", cfg.Transport.Fallback)
	}
	if cfg.Transport.Timeout < 0 {
		return fmt.Errorf("transport.timeout must not be negative")
	}

	if cfg.Space.PollInterval < 0 || cfg.Space.TickInterval < 0 {
		return fmt.Errorf("space intervals must not be negative")
	}
	return nil
}

func checkUnresolved(field, value string) error {
	if m := envVarPattern.FindStringSubmatch(value); len(m) > 1 {
		return fmt.Errorf("%s: environment variable ${%s} is not set", field, m[1])
	}
	return nil
}
