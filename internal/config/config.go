package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/spachava753/oscar/internal/models"
)

// ConfigurationError reports an options record that cannot drive a build.
// It is fatal at startup.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() models.Config {
	return models.Config{
		ProjectName:    "Oscar Starterkit",
		BrowserSync:    true,
		SourceRoot:     "src/assets",
		OutputRoot:     "dev/assets",
		DevRoot:        "dev",
		Proxy:          "http://192.168.100.100",
		Listen:         "localhost:3000",
		UsePolling:     true,
		PollIntervalMs: 100,
		LogLevel:       "info",
		Styles: models.StylesConfig{
			SassCommand:   []string{"sass"},
			PrefixCommand: []string{"postcss", "--use", "autoprefixer", "--no-map"},
			Browsers:      []string{"last 2 versions", "ie >= 9", "and_chr >= 4"},
			SourceMaps:    true,
		},
		Images: models.ImagesConfig{
			OptimizationLevel: 4,
			Multipass:         true,
		},
		Sprite: models.SpriteConfig{
			Whitespace: "-",
			Precision:  3,
		},
		LiveReload: models.ReloadConfig{
			Files:       []string{"site/**/*.php", "content/**/*.txt"},
			Exclude:     []string{"site/accounts/"},
			IgnorePaths: []string{"/panel", "/panel/**"},
		},
	}
}

// LoadConfig loads an options file. The format is picked from the extension:
// .toml, or .yaml/.yml.
func LoadConfig(path string) (models.Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, &ConfigurationError{Field: "config", Reason: fmt.Sprintf("reading %s: %v", path, err)}
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		md, err := toml.Decode(string(data), &cfg)
		if err != nil {
			return cfg, &ConfigurationError{Field: "config", Reason: fmt.Sprintf("parsing %s: %v", path, err)}
		}
		// Legacy layout: [base_path] with src, assets, dev and proxy keys
		if md.IsDefined("base_path") {
			var legacy struct {
				BasePath legacyBasePath `toml:"base_path"`
			}
			if _, err := toml.Decode(string(data), &legacy); err != nil {
				return cfg, &ConfigurationError{Field: "base_path", Reason: err.Error()}
			}
			legacy.BasePath.apply(&cfg, md.IsDefined)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, &ConfigurationError{Field: "config", Reason: fmt.Sprintf("parsing %s: %v", path, err)}
		}
	default:
		return cfg, &ConfigurationError{Field: "config", Reason: fmt.Sprintf("unsupported config format %q", filepath.Ext(path))}
	}

	applyDefaults(&cfg)
	return cfg, nil
}

type legacyBasePath struct {
	Src    string `toml:"src"`
	Assets string `toml:"assets"`
	Dev    string `toml:"dev"`
	Proxy  string `toml:"proxy"`
}

// apply copies legacy fields only where the new-style key is absent.
func (b legacyBasePath) apply(cfg *models.Config, isDefined func(...string) bool) {
	if b.Src != "" && !isDefined("source_root") {
		cfg.SourceRoot = b.Src
	}
	if b.Assets != "" && !isDefined("output_root") {
		cfg.OutputRoot = b.Assets
	}
	if b.Dev != "" && !isDefined("dev_root") {
		cfg.DevRoot = b.Dev
	}
	if b.Proxy != "" && !isDefined("proxy") {
		cfg.Proxy = b.Proxy
	}
}

// applyDefaults fills fields a config file zeroed out explicitly.
func applyDefaults(cfg *models.Config) {
	def := DefaultConfig()

	if cfg.ProjectName == "" {
		cfg.ProjectName = def.ProjectName
	}
	if cfg.Listen == "" {
		cfg.Listen = def.Listen
	}
	if cfg.PollIntervalMs <= 0 {
		cfg.PollIntervalMs = def.PollIntervalMs
	}
	if len(cfg.Styles.SassCommand) == 0 {
		cfg.Styles.SassCommand = def.Styles.SassCommand
	}
	if len(cfg.Styles.Browsers) == 0 {
		cfg.Styles.Browsers = def.Styles.Browsers
	}
	if cfg.Images.OptimizationLevel < 0 {
		cfg.Images.OptimizationLevel = def.Images.OptimizationLevel
	}
	if cfg.Sprite.Whitespace == "" {
		cfg.Sprite.Whitespace = def.Sprite.Whitespace
	}
	if cfg.LiveReload.IgnorePaths == nil {
		cfg.LiveReload.IgnorePaths = def.LiveReload.IgnorePaths
	}
	if cfg.LiveReload.Files == nil {
		cfg.LiveReload.Files = def.LiveReload.Files
	}
	if cfg.LiveReload.Exclude == nil {
		cfg.LiveReload.Exclude = def.LiveReload.Exclude
	}
}

// Validate checks the options record before any task is registered.
// The source root must exist; the proxy target must be an absolute URL
// when the live-reload bridge is enabled.
func Validate(cfg models.Config) error {
	if strings.TrimSpace(cfg.SourceRoot) == "" {
		return &ConfigurationError{Field: "source_root", Reason: "must not be empty"}
	}
	info, err := os.Stat(cfg.SourceRoot)
	if err != nil {
		return &ConfigurationError{Field: "source_root", Reason: err.Error()}
	}
	if !info.IsDir() {
		return &ConfigurationError{Field: "source_root", Reason: fmt.Sprintf("%s is not a directory", cfg.SourceRoot)}
	}
	if strings.TrimSpace(cfg.OutputRoot) == "" {
		return &ConfigurationError{Field: "output_root", Reason: "must not be empty"}
	}
	if strings.TrimSpace(cfg.DevRoot) == "" {
		return &ConfigurationError{Field: "dev_root", Reason: "must not be empty"}
	}
	if cfg.Sprite.Precision < 0 {
		return &ConfigurationError{Field: "sprite.precision", Reason: "must not be negative"}
	}
	if cfg.Images.OptimizationLevel > 7 {
		return &ConfigurationError{Field: "images.optimization_level", Reason: "must be between 0 and 7"}
	}

	if cfg.BrowserSync {
		u, err := url.Parse(cfg.Proxy)
		if err != nil {
			return &ConfigurationError{Field: "proxy", Reason: err.Error()}
		}
		if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return &ConfigurationError{Field: "proxy", Reason: fmt.Sprintf("%q is not an absolute http(s) URL", cfg.Proxy)}
		}
	}

	return nil
}

// Load reads and validates an options file. An empty path means defaults.
func Load(path string) (models.Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		var err error
		cfg, err = LoadConfig(path)
		if err != nil {
			return cfg, err
		}
	}
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// FileNames are the options files Find looks for, in order.
var FileNames = []string{"oscar.toml", "oscar.yaml", "oscar.yml"}

// Find returns the first options file present in dir, or "" when there is
// none and defaults apply.
func Find(dir string) string {
	for _, name := range FileNames {
		p := filepath.Join(dir, name)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p
		}
	}
	return ""
}
