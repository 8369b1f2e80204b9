package models

import "time"

// Config is the options record the whole build is driven by. It is loaded
// once at startup and passed by value; nothing mutates it afterwards.
type Config struct {
	ProjectName    string       `toml:"project_name" yaml:"project_name" json:"project_name"`
	BrowserSync    bool         `toml:"browser_sync" yaml:"browser_sync" json:"browser_sync"`
	SourceRoot     string       `toml:"source_root" yaml:"source_root" json:"source_root"`
	OutputRoot     string       `toml:"output_root" yaml:"output_root" json:"output_root"`
	DevRoot        string       `toml:"dev_root" yaml:"dev_root" json:"dev_root"`
	Proxy          string       `toml:"proxy" yaml:"proxy" json:"proxy"`
	Listen         string       `toml:"listen" yaml:"listen" json:"listen"`
	UsePolling     bool         `toml:"use_polling" yaml:"use_polling" json:"use_polling"`
	PollIntervalMs int          `toml:"poll_interval_ms" yaml:"poll_interval_ms" json:"poll_interval_ms"`
	LogLevel       string       `toml:"log_level,omitempty" yaml:"log_level,omitempty" json:"log_level,omitempty"`
	Styles         StylesConfig `toml:"styles" yaml:"styles" json:"styles"`
	Images         ImagesConfig `toml:"images" yaml:"images" json:"images"`
	Sprite         SpriteConfig `toml:"sprite" yaml:"sprite" json:"sprite"`
	LiveReload     ReloadConfig `toml:"live_reload" yaml:"live_reload" json:"live_reload"`
}

type StylesConfig struct {
	SassCommand   []string `toml:"sass_command" yaml:"sass_command" json:"sass_command"`
	PrefixCommand []string `toml:"prefix_command" yaml:"prefix_command" json:"prefix_command"`
	Browsers      []string `toml:"browsers" yaml:"browsers" json:"browsers"`
	SourceMaps    bool     `toml:"source_maps" yaml:"source_maps" json:"source_maps"`
}

type ImagesConfig struct {
	OptimizationLevel int  `toml:"optimization_level" yaml:"optimization_level" json:"optimization_level"` // default: 4
	Multipass         bool `toml:"multipass" yaml:"multipass" json:"multipass"`
}

type SpriteConfig struct {
	Whitespace string `toml:"whitespace" yaml:"whitespace" json:"whitespace"` // default: "-"
	// Precision is the number of significant digits kept in shape
	// coordinates; 0 keeps them all.
	Precision  int    `toml:"precision" yaml:"precision" json:"precision"` // default: 3
	Stylesheet string `toml:"stylesheet,omitempty" yaml:"stylesheet,omitempty" json:"stylesheet,omitempty"`
}

// ReloadConfig holds the live-reload bridge settings.
type ReloadConfig struct {
	// Files are globs relative to the dev root. The output root is always
	// watched as well.
	Files       []string `toml:"files" yaml:"files" json:"files"`
	Exclude     []string `toml:"exclude" yaml:"exclude" json:"exclude"`
	IgnorePaths []string `toml:"ignore_paths" yaml:"ignore_paths" json:"ignore_paths"`
}

// PollInterval returns the polling period as a duration.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}
