package cmd

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/blevesearch/bleve/v2"
	log "github.com/sirupsen/logrus"

	"go-stash-downloader/index"
	"go-stash-downloader/internal/api"
	"go-stash-downloader/internal/database"
	"go-stash-downloader/internal/downloader"
	"go-stash-downloader/internal/models"
	"go-stash-downloader/internal/pipeline"
	"go-stash-downloader/internal/queue"
	"go-stash-downloader/internal/scraper"
	"go-stash-downloader/internal/settings"
	"go-stash-downloader/internal/stash"
)

// app holds the services shared by commands. Fields are nil when not requested.
type app struct {
	cfg        models.Config
	db         *database.DB
	settings   *settings.Store
	queue      *queue.Queue
	stash      *stash.Client
	metadata   *api.Client
	registry   *scraper.Registry
	downloads  *downloader.Service
	index      bleve.Index
	processor  *pipeline.Processor
	httpClient *http.Client
}

type appOptions struct {
	database bool
	index    bool
}

// openApp wires the configured services. Runtime settings stored in the database win
// over the config file; command-line flags win over both.
func openApp(opts appOptions) (*app, error) {
	a := &app{cfg: globalConfig}

	if opts.database || opts.index {
		if a.cfg.DatabasePath == "" {
			return nil, errors.New("database path is not set in the configuration")
		}
		db, err := database.Open(a.cfg.DatabasePath)
		if err != nil {
			return nil, err
		}
		a.db = db
		a.settings = settings.NewStore(db, models.DefaultSettings(a.cfg))
		if s, err := a.settings.Get(); err == nil {
			settings.Apply(&a.cfg, s)
		} else {
			log.WithError(err).Warn("Could not read stored settings, using config values")
		}
		if stashURLFlag != "" {
			a.cfg.StashUrl = stashURLFlag
		}
		if apiKeyFlag != "" {
			a.cfg.ApiKey = apiKeyFlag
		}

		staleAfter := time.Duration(a.cfg.StaleAfterMinutes) * time.Minute
		a.queue, err = queue.Load(queue.NewDBStore(db), staleAfter)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("loading queue: %w", err)
		}
	}

	a.httpClient = api.NewHTTPClient(a.cfg, globalHttpTransport)
	a.metadata = api.NewClient(a.httpClient)
	a.stash = stash.NewClient(a.cfg.StashUrl, a.cfg.ApiKey, a.httpClient)
	a.registry = scraper.NewDefaultRegistry(a.metadata, a.stash, a.cfg.PluginID)

	// Media transfers are bounded per request, not by the metadata client timeout.
	mediaClient := &http.Client{Transport: a.httpClient.Transport}
	env := downloader.Environment{
		InHost:     a.cfg.PreferServer && a.cfg.StashUrl != "",
		PageOrigin: a.stash.Origin(),
	}
	a.downloads = downloader.NewService(a.cfg, mediaClient, a.stash, env)

	if opts.index {
		idx, err := index.OpenOrCreateIndex(a.cfg.BleveIndexPath)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("opening index: %w", err)
		}
		a.index = idx
	}

	if a.queue != nil {
		p := pipeline.New(a.queue, a.registry, a.downloads, pipeline.OptionsFromConfig(a.cfg))
		if a.cfg.StashUrl != "" {
			p.Importer = a.stash
			p.Host = a.stash
		}
		p.Index = a.index
		a.processor = p
	}
	return a, nil
}

func (a *app) Close() {
	if a.index != nil {
		if err := a.index.Close(); err != nil {
			log.WithError(err).Error("Error closing Bleve index")
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			log.WithError(err).Error("Error closing database")
		}
	}
}
