package models

type (
	Config struct {
		// Host application
		StashUrl string `toml:"StashUrl"`
		ApiKey   string `toml:"ApiKey"`
		PluginID string `toml:"PluginID"`

		// Paths
		SavePath           string `toml:"SavePath"`
		ServerDownloadPath string `toml:"ServerDownloadPath"` // output directory on the host side
		DatabasePath       string `toml:"DatabasePath"`
		BleveIndexPath     string `toml:"BleveIndexPath"`

		// Network
		HttpProxy           string `toml:"HttpProxy"`
		ApiClientTimeoutSec int    `toml:"ApiClientTimeoutSec"`
		DownloadTimeoutSec  int    `toml:"DownloadTimeoutSec"`
		ImageTimeoutSec     int    `toml:"ImageTimeoutSec"`

		// Downloader behavior
		Concurrency     int    `toml:"Concurrency"`
		ItemDelayMs     int    `toml:"ItemDelayMs"`
		Quality         string `toml:"Quality"`
		PreferServer    bool   `toml:"PreferServer"` // behave as if running inside the host
		EmbedMetadata   bool   `toml:"EmbedMetadata"`
		ScanAfterImport bool   `toml:"ScanAfterImport"`

		// Task polling and recovery
		PollIntervalMs    int `toml:"PollIntervalMs"`
		PollMaxAttempts   int `toml:"PollMaxAttempts"`
		TaskMaxWaitSec    int `toml:"TaskMaxWaitSec"`
		StaleAfterMinutes int `toml:"StaleAfterMinutes"`

		// Tagger
		AutoMatchThreshold int `toml:"AutoMatchThreshold"`

		// Local bridge server
		ListenAddr           string   `toml:"ListenAddr"`
		BridgeAllowedOrigins []string `toml:"BridgeAllowedOrigins"`

		// Reddit (passed through to the host plugin)
		RedditClientID     string `toml:"RedditClientID"`
		RedditClientSecret string `toml:"RedditClientSecret"`
		RedditUsername     string `toml:"RedditUsername"`
		RedditPassword     string `toml:"RedditPassword"`

		// Other
		LogApiRequests bool `toml:"LogApiRequests"`
	}

	// Settings is the user-editable settings blob persisted in the database.
	Settings struct {
		StashURL           string `json:"stashUrl"`
		APIKey             string `json:"apiKey"`
		ShowNotifications  bool   `json:"showNotifications"`
		TargetVersion      string `json:"targetVersion,omitempty"`
		ServerDownloadPath string `json:"serverDownloadPath,omitempty"`
		HTTPProxy          string `json:"httpProxy,omitempty"`
		RedditClientID     string `json:"redditClientId,omitempty"`
		RedditClientSecret string `json:"redditClientSecret,omitempty"`
		RedditUsername     string `json:"redditUsername,omitempty"`
		RedditPassword     string `json:"redditPassword,omitempty"`
	}
)

// DefaultSettings derives the initial settings blob from the loaded config.
func DefaultSettings(cfg Config) Settings {
	return Settings{
		StashURL:           cfg.StashUrl,
		APIKey:             cfg.ApiKey,
		ShowNotifications:  true,
		ServerDownloadPath: cfg.ServerDownloadPath,
		HTTPProxy:          cfg.HttpProxy,
		RedditClientID:     cfg.RedditClientID,
		RedditClientSecret: cfg.RedditClientSecret,
		RedditUsername:     cfg.RedditUsername,
		RedditPassword:     cfg.RedditPassword,
	}
}
