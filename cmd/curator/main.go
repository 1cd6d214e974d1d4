// Command curator runs the media-library metadata core: it scans configured
// libraries, probes local files, dispatches multi-provider enrichment, and
// caches the winning artwork, all driven by the durable job queue.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/medialibrarian/curator/internal/assetcache"
	"github.com/medialibrarian/curator/internal/assetcandidate"
	"github.com/medialibrarian/curator/internal/config"
	"github.com/medialibrarian/curator/internal/discovery"
	"github.com/medialibrarian/curator/internal/entity"
	"github.com/medialibrarian/curator/internal/enrich"
	"github.com/medialibrarian/curator/internal/eventbus"
	"github.com/medialibrarian/curator/internal/handlers"
	"github.com/medialibrarian/curator/internal/jobqueue"
	"github.com/medialibrarian/curator/internal/jobstore"
	"github.com/medialibrarian/curator/internal/library"
	"github.com/medialibrarian/curator/internal/locks"
	"github.com/medialibrarian/curator/internal/mediaprobe"
	"github.com/medialibrarian/curator/internal/mediastreams"
	"github.com/medialibrarian/curator/internal/model"
	"github.com/medialibrarian/curator/internal/observability"
	"github.com/medialibrarian/curator/internal/orchestrator"
	"github.com/medialibrarian/curator/internal/priorityprofile"
	"github.com/medialibrarian/curator/internal/provider"
	"github.com/medialibrarian/curator/internal/providerregistry"
	"github.com/medialibrarian/curator/internal/scan"
	"github.com/medialibrarian/curator/internal/storage"
)

func main() {
	dbPath := flag.String("db", "curator.db", "Path to the sqlite database file")
	envPath := flag.String("env", ".env", "Path to an optional .env file")
	cacheRoot := flag.String("cache-root", "./asset-cache", "Root directory for the content-addressed asset cache")
	profilePath := flag.String("priority-profile", "", "Path to an operator-supplied priority-profile YAML override")
	libraryRoot := flag.String("library-root", "", "Root path of a library to register on startup (optional)")
	libraryName := flag.String("library-name", "", "Name for -library-root (required if -library-root is set)")
	libraryKind := flag.String("library-kind", string(model.MediaMovie), "Media kind for -library-root: movie, tv, or music")
	flag.Parse()

	if err := config.LoadEnvFile(*envPath); err != nil {
		log.Fatalf("load env file: %v", err)
	}
	cfg := config.Load()

	shutdownTracing, err := observability.Init(context.Background(), "curator")
	if err != nil {
		log.Fatalf("init tracing: %v", err)
	}
	defer shutdownTracing(context.Background())

	db, err := storage.Open(*dbPath)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	bus := eventbus.New()

	entities := entity.NewSQLiteStore(db)
	libraries := library.NewSQLiteStore(db)
	jobs := jobstore.NewSQLiteStore(db)
	candidates := assetcandidate.NewSQLiteStore(db)
	cache := assetcache.New(db, *cacheRoot)
	lockRegistry := locks.New(locks.NewSQLiteStore(db))
	scanJobs := scan.NewSQLiteJobStore(db)
	mediaStreams := mediastreams.New(db)
	discoveryStore := mediastreams.WrapDiscoveryStore(discovery.NewSQLiteStore(db), db)
	discoverySvc := discovery.New(cache, discoveryStore)
	prober := mediaprobe.New()

	profileManager, err := priorityprofile.NewManager(priorityprofile.NewSQLiteStore(db), *profilePath)
	if err != nil {
		log.Fatalf("load priority profiles: %v", err)
	}

	registry := providerregistry.New(providerregistry.NewSQLiteConfigStore(db))
	if err := registry.LoadConfigs(context.Background()); err != nil {
		log.Fatalf("load provider configs: %v", err)
	}
	registerProviders(context.Background(), registry, cfg, bus)

	orch := orchestrator.New(registry, profileManager, lockRegistry, bus)

	scanner := scan.New(libraries, entities, scanJobs, discoverySvc, jobs, bus)
	enricher := enrich.New(entities, jobs, enrich.Config{
		StaleAfter: 7 * 24 * time.Hour,
		BatchLimit: 500,
	}, bus)

	deps := &handlers.Deps{
		Entities:   entities,
		Orch:       orch,
		Candidates: candidates,
		Cache:      cache,
		Discovery:  discoveryStore,
		Prober:     prober,
		Queue:      jobs,
		Bus:        bus,
	}

	queue := jobqueue.New(jobs, bus, jobqueue.Config{
		Workers:                cfg.Workers,
		PollInterval:           cfg.PollInterval,
		MaxConsecutiveFailures: cfg.MaxConsecutiveFailures,
		CircuitResetDelay:      cfg.CircuitResetDelay,
	})
	queue.Register(model.JobScanLibrary, handlers.ScanLibraryHandler(scanner))
	queue.Register(model.JobDirectoryScan, scanner.DirectoryScanHandler)
	queue.Register(model.JobCacheAsset, handlers.CacheAssetHandler(deps, mediaStreams))
	queue.Register(model.JobEnrichMetadata, handlers.EnrichMetadataHandler(deps))
	queue.Register(model.JobFetchProviderAssets, handlers.FetchProviderAssetsHandler(deps))
	queue.Register(model.JobSelectAssets, handlers.SelectAssetsHandler(deps))
	queue.Register(model.JobPublish, handlers.PublishHandler(deps))
	queue.Register(model.JobWebhookReceived, handlers.WebhookReceivedHandler(deps))
	queue.Register(model.JobScheduledFileScan, handlers.ScheduledFileScanHandler(libraries, scanner))
	queue.Register(model.JobScheduledProviderUpdate, handlers.ScheduledProviderUpdateHandler(deps))
	queue.Register(model.JobScheduledCleanup, handlers.ScheduledCleanupHandler(cache, jobs))
	queue.Register(model.JobBulkEnrich, handlers.BulkEnrichHandler(enricher))
	queue.Register(model.JobNotifyPrefix, handlers.NotifyHandler())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	n, err := jobs.ResetStalledJobs(ctx)
	if err != nil {
		log.Fatalf("reset stalled jobs: %v", err)
	}
	if n > 0 {
		log.Printf("curator: reset %d stalled job(s) from a previous run", n)
	}

	if *libraryRoot != "" {
		if *libraryName == "" {
			log.Fatal("-library-name is required when -library-root is set")
		}
		lib, err := libraries.Create(ctx, model.Library{
			Name:       *libraryName,
			RootPath:   *libraryRoot,
			Kind:       model.MediaKind(*libraryKind),
			AutoEnrich: true,
		})
		if err != nil {
			log.Fatalf("register library: %v", err)
		}
		if _, err := jobs.Enqueue(ctx, model.Job{
			Type:       model.JobScanLibrary,
			Priority:   model.PriorityNormal,
			Payload:    map[string]any{"libraryId": lib.ID},
			MaxRetries: 1,
		}); err != nil {
			log.Fatalf("enqueue initial scan: %v", err)
		}
		log.Printf("curator: registered library %q (%s), scan queued", lib.Name, lib.RootPath)
	}

	go runScheduledTriggers(ctx, jobs)
	go watchLibraries(ctx, libraries, jobs)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		log.Print("curator: shutting down")
		cancel()
	}()

	queue.Run(ctx)
}

// runScheduledTriggers enqueues the periodic-trigger job types on fixed
// intervals. spec.md §1's non-goals exclude a cron-style scheduler; this is
// the "simple periodic triggers" it still allows.
func runScheduledTriggers(ctx context.Context, jobs jobstore.Store) {
	fileScan := time.NewTicker(24 * time.Hour)
	providerUpdate := time.NewTicker(6 * time.Hour)
	cleanup := time.NewTicker(24 * time.Hour)
	defer fileScan.Stop()
	defer providerUpdate.Stop()
	defer cleanup.Stop()

	enqueue := func(jobType model.JobType) {
		if _, err := jobs.Enqueue(ctx, model.Job{
			Type:       jobType,
			Priority:   model.PriorityLow,
			Payload:    map[string]any{},
			MaxRetries: 1,
		}); err != nil {
			log.Printf("curator: scheduled trigger %s: %v", jobType, err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-fileScan.C:
			enqueue(model.JobScheduledFileScan)
		case <-providerUpdate.C:
			enqueue(model.JobScheduledProviderUpdate)
		case <-cleanup.C:
			enqueue(model.JobScheduledCleanup)
		}
	}
}

// watchLibraries watches every configured library's root directory for new
// top-level entries and enqueues a scan-library job shortly after activity
// settles, so a file dropped into a library doesn't wait for the next
// scheduled-file-scan trigger. One filesystem event debounce window per
// library keeps a burst of copied files from queueing a scan per file.
func watchLibraries(ctx context.Context, libraries library.Store, jobs jobstore.Store) {
	libs, err := libraries.List(ctx)
	if err != nil {
		log.Printf("curator: watchLibraries: list libraries: %v", err)
		return
	}
	if len(libs) == 0 {
		return
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("curator: watchLibraries: new watcher: %v", err)
		return
	}
	defer watcher.Close()

	rootToLibrary := make(map[string]int64, len(libs))
	for _, lib := range libs {
		if err := watcher.Add(lib.RootPath); err != nil {
			log.Printf("curator: watchLibraries: watch %s: %v", lib.RootPath, err)
			continue
		}
		rootToLibrary[lib.RootPath] = lib.ID
	}

	const debounce = 5 * time.Second
	pending := make(map[int64]*time.Timer)
	enqueueScan := func(libraryID int64) {
		if _, err := jobs.Enqueue(ctx, model.Job{
			Type:       model.JobScanLibrary,
			Priority:   model.PriorityNormal,
			Payload:    map[string]any{"libraryId": libraryID},
			MaxRetries: 1,
		}); err != nil {
			log.Printf("curator: watchLibraries: enqueue scan for library %d: %v", libraryID, err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			for _, t := range pending {
				t.Stop()
			}
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			libraryID, known := rootToLibrary[filepath.Dir(event.Name)]
			if !known {
				continue
			}
			if t, ok := pending[libraryID]; ok {
				t.Stop()
			}
			pending[libraryID] = time.AfterFunc(debounce, func() { enqueueScan(libraryID) })
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Printf("curator: watchLibraries: %v", err)
		}
	}
}

// registerProviders constructs and registers every provider.Adapter the
// process knows how to build. TMDB is enabled when CURATOR_TMDB_API_KEY is
// set; the local filesystem/ffprobe provider is always registered since
// forced-local fields (spec.md §4.8-5) never go through FetchOrchestrator's
// remote path but the adapter still advertises its capabilities for
// introspection.
func registerProviders(ctx context.Context, registry *providerregistry.Registry, cfg config.PerformanceConfig, bus *eventbus.Bus) {
	if apiKey := os.Getenv("CURATOR_TMDB_API_KEY"); apiKey != "" {
		rl := cfg.ProviderRateLimits["tmdb"]
		tmdb := provider.NewTMDBAdapter(provider.TMDBConfig{
			APIKey:         apiKey,
			RequestTimeout: cfg.ProviderRequestTimeout,
			RateLimit: provider.RateLimitDecl{
				RequestsPerSecond: rl.RequestsPerSecond,
				BurstCapacity:     rl.BurstCapacity,
			},
		}, bus)
		if err := registry.Register(ctx, tmdb); err != nil {
			log.Printf("curator: register tmdb adapter: %v", err)
		}
	} else {
		log.Print("curator: CURATOR_TMDB_API_KEY not set, tmdb adapter disabled")
	}

	if err := registry.Register(ctx, provider.NewLocalProvider()); err != nil {
		log.Printf("curator: register local adapter: %v", err)
	}
}
