package cmd

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-stash-downloader/internal/api"
	"go-stash-downloader/internal/config"
	"go-stash-downloader/internal/models"
)

var (
	cfgFile        string
	logLevel       string
	logFormat      string
	logApiFlag     bool
	savePathFlag   string
	apiTimeoutFlag int
	stashURLFlag   string
	apiKeyFlag     string
)

// globalConfig holds the loaded configuration with flag overrides applied.
var globalConfig models.Config

// globalHttpTransport is the base transport, wrapped for API logging when enabled.
var globalHttpTransport http.RoundTripper

var rootCmd = &cobra.Command{
	Use:   "stash-downloader",
	Short: "Scrape and download media into a Stash library",
	Long: `Stash Downloader resolves a site adapter for each URL, scrapes normalized metadata,
queues the item and downloads it either directly or through the Stash host's plugin tasks.`,
	PersistentPreRunE: loadGlobalConfig,
	SilenceUsage:      true,
}

// Execute runs the root command. It is called by main.main().
func Execute() {
	defer func() {
		if loggingTransport, ok := globalHttpTransport.(*api.LoggingTransport); ok && loggingTransport != nil {
			log.Debug("Closing API logging transport file.")
			if err := loggingTransport.Close(); err != nil {
				log.WithError(err).Error("Error closing API log file")
			}
		}
	}()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.toml", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Logging level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Logging format (text, json)")
	rootCmd.PersistentFlags().BoolVar(&logApiFlag, "log-api", false, "Log API requests/responses to api.log (overrides config)")
	rootCmd.PersistentFlags().StringVar(&savePathFlag, "save-path", "", "Directory for client-side downloads (overrides config)")
	rootCmd.PersistentFlags().IntVar(&apiTimeoutFlag, "api-timeout", -1, "Timeout for metadata requests in seconds (overrides config, -1 uses config default)")
	rootCmd.PersistentFlags().StringVar(&stashURLFlag, "stash-url", "", "Stash server URL (overrides config)")
	rootCmd.PersistentFlags().StringVar(&apiKeyFlag, "api-key", "", "Stash API key (overrides config)")

	cobra.OnInitialize(initLogging)
}

// initLogging configures logrus based on persistent flags.
func initLogging() {
	level, err := log.ParseLevel(logLevel)
	if err != nil {
		log.WithError(err).Warnf("Invalid log level '%s', using default 'info'", logLevel)
		level = log.InfoLevel
	}
	log.SetLevel(level)

	switch logFormat {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	case "text":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	default:
		log.Warnf("Invalid log format '%s', using default 'text'", logFormat)
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	log.Debugf("Logging configured: Level=%s, Format=%s", log.GetLevel(), logFormat)
}

// loadGlobalConfig loads the configuration, applies flag overrides and sets up the
// shared HTTP transport.
func loadGlobalConfig(cmd *cobra.Command, args []string) error {
	var err error
	globalConfig, err = config.LoadConfig(cfgFile)
	if err != nil {
		return err
	}

	if cmd.Flags().Changed("log-api") {
		globalConfig.LogApiRequests = logApiFlag
	}
	if cmd.Flags().Changed("save-path") {
		if savePathFlag != "" {
			// Stores derived from the old save path follow it.
			if globalConfig.DatabasePath == filepath.Join(globalConfig.SavePath, "stash_downloader_db") {
				globalConfig.DatabasePath = filepath.Join(savePathFlag, "stash_downloader_db")
			}
			if globalConfig.BleveIndexPath == filepath.Join(globalConfig.SavePath, "stash_downloader.bleve") {
				globalConfig.BleveIndexPath = filepath.Join(savePathFlag, "stash_downloader.bleve")
			}
			globalConfig.SavePath = savePathFlag
			log.Debugf("Overriding SavePath based on --save-path flag: %s", savePathFlag)
		} else {
			log.Warn("--save-path flag provided but value is empty, ignoring.")
		}
	}
	if cmd.Flags().Changed("api-timeout") {
		if apiTimeoutFlag > 0 {
			globalConfig.ApiClientTimeoutSec = apiTimeoutFlag
		} else {
			log.Warnf("--api-timeout flag provided with invalid value %d, using config value: %d sec", apiTimeoutFlag, globalConfig.ApiClientTimeoutSec)
		}
	}
	if cmd.Flags().Changed("stash-url") {
		globalConfig.StashUrl = stashURLFlag
	}
	if cmd.Flags().Changed("api-key") {
		globalConfig.ApiKey = apiKeyFlag
	}

	globalHttpTransport = nil
	if globalConfig.LogApiRequests {
		logFilePath := "api.log"
		if globalConfig.SavePath != "" {
			if _, statErr := os.Stat(globalConfig.SavePath); statErr == nil {
				logFilePath = filepath.Join(globalConfig.SavePath, logFilePath)
			} else {
				log.Warnf("SavePath '%s' not found, saving api.log to current directory.", globalConfig.SavePath)
			}
		}
		log.Infof("API logging to file: %s", logFilePath)
		loggingTransport, err := api.NewLoggingTransport(api.NewHTTPClient(globalConfig, nil).Transport, logFilePath)
		if err != nil {
			log.WithError(err).Error("Failed to initialize API logging transport, logging disabled.")
		} else {
			globalHttpTransport = loggingTransport
		}
	}
	return nil
}
