package model

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// IMAPConfig holds the connection settings for one mailbox. The account
// password is kept in the OS keyring, never in the config file.
type IMAPConfig struct {
	// Host is the IMAP server hostname.
	Host string `mapstructure:"host" yaml:"host"`

	// Port is the IMAP server port (993 for TLS, 143 for STARTTLS).
	Port int `mapstructure:"port" yaml:"port"`

	// Username is the mailbox login name.
	Username string `mapstructure:"username" yaml:"username"`

	// TLS selects implicit TLS; when false the connection upgrades
	// via STARTTLS instead.
	TLS bool `mapstructure:"tls" yaml:"tls"`

	// Folder is the mailbox folder to watch.
	Folder string `mapstructure:"folder" yaml:"folder"`
}

// AccountConfig holds the configuration for a single tracked mailbox.
type AccountConfig struct {
	// ID is the unique identifier for this account instance.
	ID string `mapstructure:"id" yaml:"id"`

	// Name is the user-defined label for this account.
	Name string `mapstructure:"name" yaml:"name"`

	// IMAP holds the mailbox connection settings.
	IMAP IMAPConfig `mapstructure:"imap" yaml:"imap"`

	// Marketplaces lists the Amazon marketplace keys whose notification
	// senders are tracked (e.g., "amazon.de", "amazon.com").
	Marketplaces []string `mapstructure:"marketplaces" yaml:"marketplaces"`
}

// DisplayConfig holds the snapshot filter preferences.
type DisplayConfig struct {
	// TrackingDays is how many days a package stays in the active view
	// after its last update.
	TrackingDays int `mapstructure:"tracking_days" yaml:"tracking_days"`

	// ShowDelivered controls whether delivered packages appear at all.
	ShowDelivered bool `mapstructure:"show_delivered" yaml:"show_delivered"`

	// DeliveredDays is how many days a delivered package stays visible.
	DeliveredDays int `mapstructure:"delivered_days" yaml:"delivered_days"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Accounts []AccountConfig `mapstructure:"accounts" yaml:"accounts"`
	Display  DisplayConfig   `mapstructure:"display" yaml:"display"`
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/parcelwatch/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "parcelwatch", "config.yaml")
}

// DefaultDataPath returns the default path for the snapshot database,
// located at ~/.local/share/parcelwatch/parcelwatch.db.
func DefaultDataPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "parcelwatch.db")
	}
	return filepath.Join(home, ".local", "share", "parcelwatch", "parcelwatch.db")
}

// defaultAppConfig returns a sensible default configuration.
func defaultAppConfig() *AppConfig {
	return &AppConfig{
		Accounts: []AccountConfig{},
		Display: DisplayConfig{
			TrackingDays:  14,
			ShowDelivered: true,
			DeliveredDays: 3,
		},
	}
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// If the file does not exist, it returns a default configuration.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Set defaults so missing keys resolve to sensible values.
	v.SetDefault("display.tracking_days", 14)
	v.SetDefault("display.show_delivered", true)
	v.SetDefault("display.delivered_days", 3)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(*os.PathError); ok {
			return defaultAppConfig(), nil
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return defaultAppConfig(), nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := defaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	// Apply defaults for each account entry.
	for i := range cfg.Accounts {
		if cfg.Accounts[i].IMAP.Port == 0 {
			cfg.Accounts[i].IMAP.Port = 993
		}
		if cfg.Accounts[i].IMAP.Folder == "" {
			cfg.Accounts[i].IMAP.Folder = "INBOX"
		}
		if len(cfg.Accounts[i].Marketplaces) == 0 {
			cfg.Accounts[i].Marketplaces = []string{"amazon.de"}
		}
		if !cfg.Accounts[i].IMAP.TLS {
			// Viper unmarshals missing bools as false; treat unset as true.
			// We use the raw viper value to distinguish explicit false from absent.
			key := fmt.Sprintf("accounts.%d.imap.tls", i)
			if !v.IsSet(key) {
				cfg.Accounts[i].IMAP.TLS = true
			}
		}
	}

	return cfg, nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("accounts", cfg.Accounts)
	v.Set("display", cfg.Display)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
