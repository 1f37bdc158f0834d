// Package workflow runs the scrape and index jobs. One generic engine
// serves every platform through the Adapter capability interface: it fetches
// through the adapter, reconciles through the store, bounds fetches with the
// cursor tracker and publishes outcomes only after the reconciling
// transaction has committed.
package workflow

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/lisanmuaddib/profilegraph/pkg/cursor"
	"github.com/lisanmuaddib/profilegraph/pkg/db/models"
	"github.com/lisanmuaddib/profilegraph/pkg/index"
	"github.com/lisanmuaddib/profilegraph/pkg/interfaces/upstream"
	"github.com/lisanmuaddib/profilegraph/pkg/notify"
	"github.com/lisanmuaddib/profilegraph/pkg/reconcile"
)

// Adapter is one platform's view of the upstream API
type Adapter interface {
	Site() models.Site
	// LookupBatchSize is the most profiles one FetchProfiles call accepts
	LookupBatchSize() int
	FetchProfiles(ctx context.Context, query upstream.ProfileQuery) ([]upstream.ProfileData, error)
	FetchPostsPage(ctx context.Context, query upstream.PostsQuery) (*upstream.PostsPage, error)
	FetchRelationsPage(ctx context.Context, upstreamID string, kind upstream.RelationKind, cursor string) (*upstream.RelationsPage, error)
	NormalizeAvatarURL(rawURL string) string
	Download(ctx context.Context, rawURL string) (*upstream.Blob, error)
}

// Config is the dependency context handed to the engine at process start
type Config struct {
	Store     *reconcile.Store
	Tracker   *cursor.Tracker
	Settings  *Settings
	Scheduler *Scheduler
	Publisher notify.Publisher
	Indexer   *index.Indexer
	Adapters  []Adapter
	Logger    *logrus.Logger
}

// Engine executes workflows
type Engine struct {
	store     *reconcile.Store
	tracker   *cursor.Tracker
	settings  *Settings
	scheduler *Scheduler
	publisher notify.Publisher
	indexer   *index.Indexer
	adapters  map[models.Site]Adapter
	logger    *logrus.Logger
}

// New creates an Engine
func New(config Config) (*Engine, error) {
	if err := validateConfig(config); err != nil {
		return nil, err
	}
	if config.Logger == nil {
		config.Logger = logrus.New()
	}

	adapters := make(map[models.Site]Adapter, len(config.Adapters))
	for _, adapter := range config.Adapters {
		site := adapter.Site()
		if _, exists := adapters[site]; exists {
			return nil, fmt.Errorf("adapter for %s registered twice", site)
		}
		adapters[site] = adapter
	}

	return &Engine{
		store:     config.Store,
		tracker:   config.Tracker,
		settings:  config.Settings,
		scheduler: config.Scheduler,
		publisher: config.Publisher,
		indexer:   config.Indexer,
		adapters:  adapters,
		logger:    config.Logger,
	}, nil
}

func validateConfig(config Config) error {
	switch {
	case config.Store == nil:
		return fmt.Errorf("Store is required")
	case config.Tracker == nil:
		return fmt.Errorf("Tracker is required")
	case config.Settings == nil:
		return fmt.Errorf("Settings is required")
	case config.Scheduler == nil:
		return fmt.Errorf("Scheduler is required")
	case config.Publisher == nil:
		return fmt.Errorf("Publisher is required")
	case config.Indexer == nil:
		return fmt.Errorf("Indexer is required")
	}
	return nil
}

// Scheduler returns the engine's scheduler
func (e *Engine) Scheduler() *Scheduler {
	return e.scheduler
}

func (e *Engine) adapter(site models.Site) (Adapter, error) {
	adapter, ok := e.adapters[site]
	if !ok {
		return nil, upstream.Configuration(fmt.Sprintf("No scraper exists for site: %s", site))
	}
	return adapter, nil
}

// prepare resolves the adapter and attaches the proxy; both are
// configuration preconditions checked before any upstream call
func (e *Engine) prepare(ctx context.Context, site models.Site) (context.Context, Adapter, error) {
	adapter, err := e.adapter(site)
	if err != nil {
		return ctx, nil, err
	}
	ctx, err = e.settings.WithProxy(ctx)
	if err != nil {
		return ctx, nil, err
	}
	return ctx, adapter, nil
}
