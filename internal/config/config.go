package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"go-stash-downloader/internal/models"

	"github.com/BurntSushi/toml"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultPluginID           = "stash-downloader"
	DefaultConcurrency        = 3
	DefaultItemDelayMs        = 500
	DefaultApiTimeoutSec      = 60
	DefaultDownloadTimeoutSec = 300
	DefaultImageTimeoutSec    = 60
	DefaultPollIntervalMs     = 1000
	DefaultTaskMaxWaitSec     = 1800
	DefaultStaleAfterMinutes  = 15
	DefaultAutoMatchThreshold = 95
	DefaultListenAddr         = "127.0.0.1:9998"
)

// LoadConfig reads the configuration from the specified path (defaulting to "config.toml")
// and fills in defaults for anything left unset. A missing file is not an error: the
// defaults are returned together with a warning.
func LoadConfig(configFilePath string) (models.Config, error) {
	if configFilePath == "" {
		configFilePath = "config.toml"
	}
	var cfg models.Config
	_, err := toml.DecodeFile(configFilePath, &cfg)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.Warnf("Config file %s not found, using defaults", configFilePath)
			ApplyDefaults(&cfg)
			return cfg, nil
		}
		return models.Config{}, fmt.Errorf("error loading config file %s: %w", configFilePath, err)
	}

	ApplyDefaults(&cfg)
	if cfg.StashUrl == "" {
		log.Warn("Warning: StashUrl is not set in config.toml, server-side downloads are unavailable")
	}

	log.Infof("Configuration loaded from %s", configFilePath)
	return cfg, nil
}

// ApplyDefaults replaces zero or invalid values with the documented defaults.
func ApplyDefaults(cfg *models.Config) {
	if cfg.PluginID == "" {
		cfg.PluginID = DefaultPluginID
	}
	if cfg.SavePath == "" {
		cfg.SavePath = "downloads"
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = filepath.Join(cfg.SavePath, "stash_downloader_db")
	}
	if cfg.BleveIndexPath == "" {
		cfg.BleveIndexPath = filepath.Join(cfg.SavePath, "stash_downloader.bleve")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.ItemDelayMs < 0 {
		cfg.ItemDelayMs = DefaultItemDelayMs
	}
	if cfg.ApiClientTimeoutSec <= 0 {
		cfg.ApiClientTimeoutSec = DefaultApiTimeoutSec
	}
	if cfg.DownloadTimeoutSec <= 0 {
		cfg.DownloadTimeoutSec = DefaultDownloadTimeoutSec
	}
	if cfg.ImageTimeoutSec <= 0 {
		cfg.ImageTimeoutSec = DefaultImageTimeoutSec
	}
	if cfg.PollIntervalMs <= 0 {
		cfg.PollIntervalMs = DefaultPollIntervalMs
	}
	if cfg.PollMaxAttempts < 0 {
		cfg.PollMaxAttempts = 0 // unbounded, limited by TaskMaxWaitSec
	}
	if cfg.TaskMaxWaitSec <= 0 {
		cfg.TaskMaxWaitSec = DefaultTaskMaxWaitSec
	}
	if cfg.StaleAfterMinutes <= 0 {
		cfg.StaleAfterMinutes = DefaultStaleAfterMinutes
	}
	if cfg.AutoMatchThreshold <= 0 || cfg.AutoMatchThreshold > 100 {
		cfg.AutoMatchThreshold = DefaultAutoMatchThreshold
	}
	if cfg.Quality == "" {
		cfg.Quality = "best"
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultListenAddr
	}
}
