package handlers

import (
	"context"
	"log"
	"time"

	"github.com/medialibrarian/curator/internal/apperr"
	"github.com/medialibrarian/curator/internal/assetcache"
	"github.com/medialibrarian/curator/internal/enrich"
	"github.com/medialibrarian/curator/internal/jobqueue"
	"github.com/medialibrarian/curator/internal/jobstore"
	"github.com/medialibrarian/curator/internal/library"
	"github.com/medialibrarian/curator/internal/model"
	"github.com/medialibrarian/curator/internal/scan"
)

// PublishHandler transitions an entity to the published state once its
// metadata and assets have settled. No external publishing target is a
// non-goal (spec.md §1); the state transition is what downstream consumers
// (a dashboard, a media server refresh trigger) observe.
func PublishHandler(deps *Deps) jobqueue.Handler {
	return func(ctx context.Context, job model.Job) error {
		entityID, err := entityIDFromPayload(job.Payload)
		if err != nil {
			return err
		}
		return deps.Entities.SetState(ctx, entityID, model.StatePublished)
	}
}

// WebhookReceivedHandler applies cross-catalog ids pushed by an external
// collaborator (e.g. a provider's own webhook-backed change notification)
// and chains a fresh enrich-metadata job so the new ids get used.
func WebhookReceivedHandler(deps *Deps) jobqueue.Handler {
	return func(ctx context.Context, job model.Job) error {
		entityID, err := entityIDFromPayload(job.Payload)
		if err != nil {
			return err
		}
		ids := model.ExternalIDs{}
		if v, ok := job.Payload["imdbId"].(string); ok {
			ids.IMDB = v
		}
		if v, ok := job.Payload["tmdbId"].(string); ok {
			ids.TMDB = v
		}
		if v, ok := job.Payload["tvdbId"].(string); ok {
			ids.TVDB = v
		}
		if ids != (model.ExternalIDs{}) {
			if err := deps.Entities.SetExternalIDs(ctx, entityID, ids); err != nil {
				return err
			}
		}
		_, err = deps.Queue.Enqueue(ctx, model.Job{
			Type:       model.JobEnrichMetadata,
			Priority:   model.PriorityHigh,
			Payload:    map[string]any{"entityId": entityID},
			MaxRetries: 3,
		})
		return err
	}
}

// ScanLibraryHandler runs ScanService phase 1 for the library named in the
// payload's libraryId, the queue-driven counterpart to a caller invoking
// scan.Service.StartScan directly from an API handler.
func ScanLibraryHandler(scanner *scan.Service) jobqueue.Handler {
	return func(ctx context.Context, job model.Job) error {
		v, ok := job.Payload["libraryId"]
		if !ok {
			return apperr.Newf(apperr.Validation, "job payload missing libraryId")
		}
		var libraryID int64
		switch t := v.(type) {
		case int64:
			libraryID = t
		case int:
			libraryID = int64(t)
		case float64:
			libraryID = int64(t)
		default:
			return apperr.Newf(apperr.Validation, "job payload libraryId has unexpected type %T", v)
		}
		_, err := scanner.StartScan(ctx, libraryID)
		return err
	}
}

// ScheduledFileScanHandler starts a scan for every configured library, the
// scheduled counterpart to a user manually clicking "scan" on one library.
func ScheduledFileScanHandler(libraries library.Store, scanner *scan.Service) jobqueue.Handler {
	return func(ctx context.Context, job model.Job) error {
		libs, err := libraries.List(ctx)
		if err != nil {
			return err
		}
		for _, lib := range libs {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if _, err := scanner.StartScan(ctx, lib.ID); err != nil {
				log.Printf("handlers: scheduled-file-scan: library %d: %v", lib.ID, err)
			}
		}
		return nil
	}
}

// ScheduledProviderUpdateHandler enqueues a bulk-enrich cycle. It exists as
// its own job type so a cron-style scheduler can trigger refresh sweeps
// without reaching into the enrich package directly.
func ScheduledProviderUpdateHandler(deps *Deps) jobqueue.Handler {
	return func(ctx context.Context, job model.Job) error {
		_, err := deps.Queue.Enqueue(ctx, model.Job{
			Type:       model.JobBulkEnrich,
			Priority:   model.PriorityLow,
			Payload:    map[string]any{},
			MaxRetries: 1,
		})
		return err
	}
}

// ScheduledCleanupHandler runs AssetCache orphan cleanup and trims old job
// history, the two housekeeping sweeps spec.md §4.5/§4.9 describe as
// periodic rather than request-driven.
func ScheduledCleanupHandler(cache *assetcache.Cache, jobs jobstore.Store) jobqueue.Handler {
	return func(ctx context.Context, job model.Job) error {
		result, err := cache.CleanupOrphans(ctx, false)
		if err != nil {
			return err
		}
		log.Printf("handlers: scheduled-cleanup: removed %d orphaned cache assets (%d bytes freed)", result.Deleted, result.FreedBytes)

		n, err := jobs.CleanupHistory(ctx, jobstore.HistoryCleanupSpec{
			CompletedDays: 30,
			FailedDays:    90,
		})
		if err != nil {
			return err
		}
		log.Printf("handlers: scheduled-cleanup: removed %d job history rows", n)
		return nil
	}
}

// BulkEnrichHandler adapts enrich.Enricher.RunCycle to jobqueue.Handler's
// signature; the job payload carries no fields, the cycle's own Config
// governs scope.
func BulkEnrichHandler(enricher *enrich.Enricher) jobqueue.Handler {
	return func(ctx context.Context, job model.Job) error {
		stats := enricher.RunCycle(ctx)
		log.Printf("handlers: bulk-enrich: processed=%d stopped=%v reason=%q duration=%s",
			stats.Processed, stats.Stopped, stats.StopReason, stats.EndTime.Sub(stats.StartTime).Round(time.Millisecond))
		return nil
	}
}

// NotifyHandler is the catch-all for the notify-* family: it just logs, since
// an actual delivery channel (email, webhook egress, push) is an external
// collaborator's concern (spec.md §1 Non-goals).
func NotifyHandler() jobqueue.Handler {
	return func(ctx context.Context, job model.Job) error {
		log.Printf("handlers: notify: type=%s payload=%v", job.Type, job.Payload)
		return nil
	}
}
