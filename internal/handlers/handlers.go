// Package handlers wires the domain services (orchestrator, assetcache,
// mediaprobe, discovery) into jobqueue.Handler functions for the job types
// scan.Service and enrich.Enricher don't own directly: cache-asset,
// fetch-provider-assets, select-assets, publish, and the scheduled/notify
// families. Grounded on the teacher's handler functions in
// internal/sdtprobe/worker.go, which also read typed fields out of a
// map[string]any job payload before doing real work.
package handlers

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/medialibrarian/curator/internal/apperr"
	"github.com/medialibrarian/curator/internal/assetcache"
	"github.com/medialibrarian/curator/internal/assetcandidate"
	"github.com/medialibrarian/curator/internal/discovery"
	"github.com/medialibrarian/curator/internal/entity"
	"github.com/medialibrarian/curator/internal/eventbus"
	"github.com/medialibrarian/curator/internal/httpclient"
	"github.com/medialibrarian/curator/internal/jobqueue"
	"github.com/medialibrarian/curator/internal/mediaprobe"
	"github.com/medialibrarian/curator/internal/model"
	"github.com/medialibrarian/curator/internal/orchestrator"
)

// Enqueuer is the narrow job-enqueuing capability handlers use to chain work.
type Enqueuer interface {
	Enqueue(ctx context.Context, job model.Job) (int64, error)
}

// Deps bundles the services the handlers in this package close over. Every
// field is required except Bus and HTTPClient.
type Deps struct {
	Entities   entity.Store
	Orch       *orchestrator.Orchestrator
	Candidates assetcandidate.Store
	Cache      *assetcache.Cache
	Discovery  discovery.Store
	Prober     *mediaprobe.Prober
	Queue      Enqueuer
	Bus        *eventbus.Bus

	// HTTPClient downloads selected asset candidates. Defaults to
	// httpclient.Default(30s) when nil.
	HTTPClient *http.Client
}

func (d *Deps) httpClient() *http.Client {
	if d.HTTPClient != nil {
		return d.HTTPClient
	}
	return httpclient.Default(30 * time.Second)
}

func entityIDFromPayload(payload map[string]any) (int64, error) {
	v, ok := payload["entityId"]
	if !ok {
		return 0, apperr.Newf(apperr.Validation, "job payload missing entityId")
	}
	switch t := v.(type) {
	case int64:
		return t, nil
	case int:
		return int64(t), nil
	case float64:
		return int64(t), nil
	default:
		return 0, apperr.Newf(apperr.Validation, "job payload entityId has unexpected type %T", v)
	}
}

func stringsFromPayload(payload map[string]any, key string) []string {
	raw, ok := payload[key]
	if !ok {
		return nil
	}
	items, ok := raw.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func assetTypesFromPayload(payload map[string]any, key string) []model.AssetType {
	strs := stringsFromPayload(payload, key)
	out := make([]model.AssetType, len(strs))
	for i, s := range strs {
		out[i] = model.AssetType(s)
	}
	return out
}

// defaultRequestedFields is the field set an enrich-metadata job requests
// when its payload doesn't name one explicitly.
var defaultRequestedFields = []string{"title", "plot", "tagline", "rating", "genres", "year"}

// defaultRequestedAssetTypes mirrors defaultRequestedFields for assets.
var defaultRequestedAssetTypes = []model.AssetType{model.AssetPoster, model.AssetFanart, model.AssetBanner}

// EnrichMetadataHandler runs FetchOrchestrator for the requested metadata
// fields plus defaultRequestedAssetTypes, applies the result, marks the
// entity enriched, and chains a cache-asset job (local technical probe).
// When the orchestrator returns asset candidates it stores them and chains a
// select-assets job for artwork. When the payload's requireComplete flag is set (bulk-enrich
// cycles, spec.md §4.13) and the orchestrator reports Partial, the entity is
// left in its current state rather than marked enriched, so a future cycle
// retries it.
func EnrichMetadataHandler(deps *Deps) jobqueue.Handler {
	return func(ctx context.Context, job model.Job) error {
		entityID, err := entityIDFromPayload(job.Payload)
		if err != nil {
			return err
		}
		e, err := deps.Entities.Get(ctx, entityID)
		if err != nil {
			return err
		}
		fields := stringsFromPayload(job.Payload, "requestedFields")
		if len(fields) == 0 {
			fields = defaultRequestedFields
		}
		requireComplete, _ := job.Payload["requireComplete"].(bool)

		result, err := deps.Orch.Fetch(ctx, e, fields, defaultRequestedAssetTypes)
		if err != nil {
			return err
		}

		state := model.StateEnriched
		if requireComplete && result.Partial {
			state = e.State
		}
		if len(result.FieldsApplied) > 0 || state != e.State {
			if _, err := deps.Entities.ApplyFields(ctx, entityID, result.FieldsApplied, state); err != nil {
				return err
			}
		}

		if _, err := deps.Queue.Enqueue(ctx, model.Job{
			Type:       model.JobCacheAsset,
			Priority:   model.PriorityNormal,
			Payload:    map[string]any{"entityId": entityID},
			MaxRetries: 2,
		}); err != nil {
			return err
		}
		if len(result.AssetCandidates) > 0 {
			if err := deps.Candidates.Replace(ctx, entityID, result.AssetCandidates); err != nil {
				return err
			}
			if _, err := deps.Queue.Enqueue(ctx, model.Job{
				Type:       model.JobSelectAssets,
				Priority:   model.PriorityNormal,
				Payload:    map[string]any{"entityId": entityID},
				MaxRetries: 3,
			}); err != nil {
				return err
			}
		}
		return nil
	}
}

// CacheAssetHandler runs the local media probe against entity.Path, applies
// the forced-local fields it produces (spec.md §4.8-5: these never come from
// a provider), and records the probe's stream layout. mediaStreams may be
// nil, in which case only entity fields are updated.
func CacheAssetHandler(deps *Deps, mediaStreams interface {
	ReplaceProbeResult(ctx context.Context, entityID int64, result mediaprobe.Result) error
}) jobqueue.Handler {
	return func(ctx context.Context, job model.Job) error {
		entityID, err := entityIDFromPayload(job.Payload)
		if err != nil {
			return err
		}
		e, err := deps.Entities.Get(ctx, entityID)
		if err != nil {
			return err
		}
		result, err := deps.Prober.Probe(ctx, e.Path)
		if err != nil {
			return err
		}
		forced := mediaprobe.ForcedLocalOnly(result.Fields)
		if len(forced) > 0 {
			if _, err := deps.Entities.ApplyFields(ctx, entityID, forced, e.State); err != nil {
				return err
			}
		}
		if mediaStreams != nil {
			if err := mediaStreams.ReplaceProbeResult(ctx, entityID, result); err != nil {
				return err
			}
		}
		return nil
	}
}

// FetchProviderAssetsHandler runs FetchOrchestrator for an entity, applies
// any returned metadata fields, stores the scored asset candidates for a
// later select-assets pass, and chains that job when at least one candidate
// came back.
func FetchProviderAssetsHandler(deps *Deps) jobqueue.Handler {
	return func(ctx context.Context, job model.Job) error {
		entityID, err := entityIDFromPayload(job.Payload)
		if err != nil {
			return err
		}
		e, err := deps.Entities.Get(ctx, entityID)
		if err != nil {
			return err
		}
		fields := stringsFromPayload(job.Payload, "requestedFields")
		if len(fields) == 0 {
			fields = defaultRequestedFields
		}
		assetTypes := assetTypesFromPayload(job.Payload, "requestedAssetTypes")
		if len(assetTypes) == 0 {
			assetTypes = defaultRequestedAssetTypes
		}

		result, err := deps.Orch.Fetch(ctx, e, fields, assetTypes)
		if err != nil {
			return err
		}
		if len(result.FieldsApplied) > 0 {
			if _, err := deps.Entities.ApplyFields(ctx, entityID, result.FieldsApplied, e.State); err != nil {
				return err
			}
		}
		if len(result.AssetCandidates) == 0 {
			return nil
		}
		if err := deps.Candidates.Replace(ctx, entityID, result.AssetCandidates); err != nil {
			return err
		}
		_, err = deps.Queue.Enqueue(ctx, model.Job{
			Type:       model.JobSelectAssets,
			Priority:   job.Priority,
			Payload:    map[string]any{"entityId": entityID},
			MaxRetries: 3,
		})
		return err
	}
}

// SelectAssetsHandler picks the single highest-scored candidate per asset
// type stored by FetchProviderAssetsHandler, downloads each into AssetCache,
// and records the (library_path="", cache_path) pair via discovery.Store so
// it shows up alongside locally-discovered assets.
func SelectAssetsHandler(deps *Deps) jobqueue.Handler {
	return func(ctx context.Context, job model.Job) error {
		entityID, err := entityIDFromPayload(job.Payload)
		if err != nil {
			return err
		}
		winners, err := deps.Candidates.TopByType(ctx, entityID)
		if err != nil {
			return err
		}
		defer deps.Candidates.DeleteForEntity(ctx, entityID)

		for assetType, candidate := range winners {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err := downloadAndRecord(ctx, deps, entityID, assetType, candidate); err != nil {
				return err
			}
		}
		return nil
	}
}

func downloadAndRecord(ctx context.Context, deps *Deps, entityID int64, assetType model.AssetType, candidate model.AssetCandidate) error {
	tmpPath, err := downloadToTemp(ctx, deps.httpClient(), candidate.URL)
	if err != nil {
		return err
	}
	defer os.Remove(tmpPath)

	result, err := deps.Cache.Add(ctx, tmpPath, assetcache.AddMetadata{
		MimeType:     mimeFromURL(candidate.URL),
		Width:        candidate.Width,
		Height:       candidate.Height,
		SourceKind:   model.SourceProvider,
		SourceURL:    candidate.URL,
		ProviderName: candidate.ProviderName,
	})
	if err != nil {
		return err
	}
	return deps.Discovery.Record(ctx, entityID, assetType, "", result.Path, candidate.Language, "", false, false)
}

func downloadToTemp(ctx context.Context, client *http.Client, rawURL string) (string, error) {
	// Provider-supplied URLs are untrusted input: reject anything but
	// http(s) before dialing, so a malicious or misconfigured provider
	// response can't reach file://, ftp://, or similar local schemes.
	if parsed, err := url.Parse(rawURL); err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return "", apperr.Newf(apperr.Validation, "asset candidate url %q is not http(s)", rawURL)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", apperr.New(apperr.Network, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", apperr.New(apperr.Network, err)
	}
	defer resp.Body.Close()
	if classifyErr := httpclient.ClassifyResponse(resp); classifyErr != nil {
		httpclient.DrainAndClose(resp)
		return "", classifyErr
	}

	f, err := os.CreateTemp("", "curator-asset-*"+filepath.Ext(rawURL))
	if err != nil {
		return "", apperr.New(apperr.Storage, err)
	}
	defer f.Close()
	if _, err := io.Copy(f, resp.Body); err != nil {
		os.Remove(f.Name())
		return "", apperr.New(apperr.Storage, err)
	}
	return f.Name(), nil
}

func mimeFromURL(rawURL string) string {
	switch filepath.Ext(rawURL) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	default:
		return ""
	}
}
