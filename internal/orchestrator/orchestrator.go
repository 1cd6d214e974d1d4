// Package orchestrator implements FetchOrchestrator (spec.md §4.8): given an
// entity and a set of requested fields/asset types, it resolves candidate
// providers, dispatches getMetadata/getAssets concurrently, merges results
// respecting field locks and the active priority profile, and scores asset
// candidates for later auto-selection.
package orchestrator

import (
	"context"
	"sort"
	"sync"

	"go.opentelemetry.io/otel"

	"github.com/medialibrarian/curator/internal/apperr"
	"github.com/medialibrarian/curator/internal/eventbus"
	"github.com/medialibrarian/curator/internal/hashing"
	"github.com/medialibrarian/curator/internal/locks"
	"github.com/medialibrarian/curator/internal/model"
	"github.com/medialibrarian/curator/internal/provider"
)

var tracer = otel.Tracer("curator/orchestrator")

// ProfileStore resolves the active PriorityProfile used to rank providers
// per field and asset type.
type ProfileStore interface {
	Active(ctx context.Context) (model.PriorityProfile, error)
}

// Registry is the subset of providerregistry.Registry the orchestrator needs.
type Registry interface {
	Enabled() []provider.Adapter
}

// Result is FetchOrchestrator's return shape, per spec.md §4.8-6.
type Result struct {
	FieldsApplied  map[string]any
	RateLimited    []string
	Partial        bool
	ChangedFields  []string
	Completeness   float64
	AssetCandidates []model.AssetCandidate
}

// Orchestrator ties together provider selection, concurrent dispatch, lock-aware
// merge, and asset-candidate scoring.
type Orchestrator struct {
	registry Registry
	profiles ProfileStore
	locks    *locks.Registry
	bus      *eventbus.Bus

	// PerTypeAssetLimit caps how many candidates are kept per asset type
	// after scoring, default 10 if zero.
	PerTypeAssetLimit int
	// DuplicateSimilarityThreshold is the perceptual-hash similarity above
	// which two asset candidates of the same type are treated as duplicates.
	DuplicateSimilarityThreshold float64
}

// New builds an Orchestrator.
func New(registry Registry, profiles ProfileStore, lockRegistry *locks.Registry, bus *eventbus.Bus) *Orchestrator {
	return &Orchestrator{
		registry:                     registry,
		profiles:                     profiles,
		locks:                        lockRegistry,
		bus:                          bus,
		PerTypeAssetLimit:            10,
		DuplicateSimilarityThreshold: 0.9,
	}
}

type providerMetadata struct {
	providerID string
	response   provider.MetadataResponse
	err        error
}

// Fetch resolves candidates, dispatches, merges, and scores, per spec.md
// §4.8 steps 1-6.
func (o *Orchestrator) Fetch(ctx context.Context, entity model.Entity, requestedFields []string, requestedAssetTypes []model.AssetType) (Result, error) {
	ctx, span := tracer.Start(ctx, "orchestrator.Fetch")
	defer span.End()

	profile, err := o.profiles.Active(ctx)
	if err != nil {
		return Result{}, err
	}

	// Forced-local fields come only from internal/mediaprobe, so no adapter
	// is asked for them.
	fields := make([]string, 0, len(requestedFields))
	for _, f := range requestedFields {
		if !model.ForcedLocalFields[f] {
			fields = append(fields, f)
		}
	}
	requestedFields = fields

	candidates := o.candidatesFor(requestedFields, requestedAssetTypes)
	metaResults := o.dispatchMetadata(ctx, candidates, entity, requestedFields)
	assetCandidates := o.dispatchAssets(ctx, candidates, entity, requestedAssetTypes)

	merged, rateLimited, partial := o.mergeFields(metaResults, requestedFields, profile)

	allowed, skipped, err := o.locks.FilterLocked(ctx, entity.ID, merged)
	if err != nil {
		return Result{}, err
	}
	if len(skipped) > 0 {
		o.bus.Publish(eventbus.TopicProviderHealth, map[string]any{
			"entityId":            entity.ID,
			"skippedLockedFields": skipped,
		})
	}

	changed := changedFields(entity.Fields, allowed)
	scored := scoreAssetCandidates(assetCandidates, o.PerTypeAssetLimit, o.DuplicateSimilarityThreshold)

	completeness := 0.0
	if len(requestedFields) > 0 {
		completeness = float64(len(allowed)) / float64(len(requestedFields))
	}

	if len(rateLimited) > 0 {
		o.bus.Publish(eventbus.TopicRateLimitPressure, map[string]any{
			"entityId":  entity.ID,
			"providers": rateLimited,
		})
	}

	return Result{
		FieldsApplied:   allowed,
		RateLimited:     rateLimited,
		Partial:         partial,
		ChangedFields:   changed,
		Completeness:    completeness,
		AssetCandidates: scored,
	}, nil
}

// candidatesFor resolves step 1: every enabled adapter whose capabilities
// advertise at least one requested field or asset type.
func (o *Orchestrator) candidatesFor(fields []string, assetTypes []model.AssetType) []provider.Adapter {
	var out []provider.Adapter
	for _, a := range o.registry.Enabled() {
		caps := a.Capabilities()
		supports := false
		for _, f := range fields {
			if caps.SupportsField(f) {
				supports = true
				break
			}
		}
		if !supports {
			for _, t := range assetTypes {
				if caps.SupportsAssetType(t) {
					supports = true
					break
				}
			}
		}
		if supports {
			out = append(out, a)
		}
	}
	return out
}

// dispatchMetadata runs getMetadata concurrently across candidates,
// tolerating partial failure (step 3).
func (o *Orchestrator) dispatchMetadata(ctx context.Context, candidates []provider.Adapter, entity model.Entity, fields []string) []providerMetadata {
	results := make([]providerMetadata, len(candidates))
	var wg sync.WaitGroup
	for i, a := range candidates {
		wg.Add(1)
		go func(i int, a provider.Adapter) {
			defer wg.Done()
			resp, err := a.GetMetadata(ctx, provider.MetadataRequest{Entity: entity, RequestedFields: fields})
			results[i] = providerMetadata{providerID: a.Capabilities().ID, response: resp, err: err}
		}(i, a)
	}
	wg.Wait()
	return results
}

// dispatchAssets runs getAssets concurrently across candidates; a failing
// adapter simply contributes no candidates.
func (o *Orchestrator) dispatchAssets(ctx context.Context, candidates []provider.Adapter, entity model.Entity, assetTypes []model.AssetType) []model.AssetCandidate {
	if len(assetTypes) == 0 {
		return nil
	}
	var mu sync.Mutex
	var all []model.AssetCandidate
	var wg sync.WaitGroup
	for _, a := range candidates {
		wg.Add(1)
		go func(a provider.Adapter) {
			defer wg.Done()
			found, err := a.GetAssets(ctx, provider.AssetRequest{Entity: entity, AssetTypes: assetTypes})
			if err != nil {
				return
			}
			mu.Lock()
			all = append(all, found...)
			mu.Unlock()
		}(a)
	}
	wg.Wait()
	return all
}

// mergeFields implements step 2/4: for each requested field, pick the
// highest-priority provider that actually produced a value, tie-breaking on
// profile order then declared data quality (spec.md §4.8 edge cases).
func (o *Orchestrator) mergeFields(results []providerMetadata, fields []string, profile model.PriorityProfile) (map[string]any, []string, bool) {
	byProvider := make(map[string]providerMetadata, len(results))
	for _, r := range results {
		byProvider[r.providerID] = r
	}

	merged := make(map[string]any)
	rateLimitedSet := make(map[string]bool)
	anySucceeded := false
	allFailedForSomeField := false

	for _, field := range fields {
		order := profile.FieldOrder[field]
		winner, winnerErr := pickWinner(order, byProvider, field, rateLimitedSet)
		if winnerErr {
			allFailedForSomeField = true
			continue
		}
		if winner != nil {
			merged[field] = winner.value
			anySucceeded = true
		}
	}

	var rateLimited []string
	for id := range rateLimitedSet {
		rateLimited = append(rateLimited, id)
	}
	sort.Strings(rateLimited)

	// partial=true only when some field could not be resolved at all, per
	// spec.md §4.8's "all providers for a field are rate-limited" clause;
	// a request with zero fields is never partial.
	partial := len(fields) > 0 && (allFailedForSomeField || !anySucceeded)
	return merged, rateLimited, partial
}

type fieldWinner struct {
	providerID string
	value      any
	quality    float64
}

// pickWinner returns the highest-priority provider with data for field, per
// spec.md §4.8 step 2's "highest-priority-with-data" rule. When a profile
// order is configured, the first listed provider with data wins outright
// (the list is already a strict ranking, so no tie is possible). When no
// order is configured for this field, every provider with data is a
// candidate and ties are broken by declared dataQuality.metadataCompleteness,
// then by provider id for determinism.
func pickWinner(order []string, byProvider map[string]providerMetadata, field string, rateLimitedSet map[string]bool) (*fieldWinner, bool) {
	if len(order) > 0 {
		sawAny := false
		for _, id := range order {
			r, ok := byProvider[id]
			if !ok {
				continue
			}
			sawAny = true
			if r.err != nil {
				if isRateLimited(r.err) {
					rateLimitedSet[id] = true
				}
				continue
			}
			if value, has := r.response.Fields[field]; has {
				return &fieldWinner{providerID: id, value: value, quality: r.response.Completeness}, false
			}
		}
		return nil, sawAny
	}

	var unordered []string
	for id := range byProvider {
		unordered = append(unordered, id)
	}
	sort.Strings(unordered)

	var best *fieldWinner
	sawAny := false
	for _, id := range unordered {
		r := byProvider[id]
		sawAny = true
		if r.err != nil {
			if isRateLimited(r.err) {
				rateLimitedSet[id] = true
			}
			continue
		}
		value, has := r.response.Fields[field]
		if !has {
			continue
		}
		quality := r.response.Completeness
		if best == nil || quality > best.quality {
			best = &fieldWinner{providerID: id, value: value, quality: quality}
		}
	}
	return best, sawAny && best == nil
}

func isRateLimited(err error) bool {
	code, ok := apperr.CodeOf(err)
	return ok && code == apperr.RateLimit
}

func changedFields(before map[string]any, after map[string]any) []string {
	var changed []string
	for field, newVal := range after {
		oldVal, existed := before[field]
		if !existed || oldVal != newVal {
			changed = append(changed, field)
		}
	}
	sort.Strings(changed)
	return changed
}

// scoreAssetCandidates scores, deduplicates near-identical images by
// perceptual hash, and caps the result per asset type (spec.md §4.8's
// "Asset candidates are scored ... filtering near-duplicates ... > 0.9").
func scoreAssetCandidates(candidates []model.AssetCandidate, perTypeLimit int, dupThreshold float64) []model.AssetCandidate {
	if perTypeLimit <= 0 {
		perTypeLimit = 10
	}
	byType := make(map[model.AssetType][]model.AssetCandidate)
	for _, c := range candidates {
		c.Score = scoreOf(c)
		byType[c.AssetType] = append(byType[c.AssetType], c)
	}

	var out []model.AssetCandidate
	for _, group := range byType {
		sort.Slice(group, func(i, j int) bool { return group[i].Score > group[j].Score })
		kept := dedupeByPerceptualHash(group, dupThreshold)
		if len(kept) > perTypeLimit {
			kept = kept[:perTypeLimit]
		}
		out = append(out, kept...)
	}
	return out
}

func scoreOf(c model.AssetCandidate) float64 {
	score := c.CommunityScore
	if c.Width > 0 && c.Height > 0 {
		score += float64(c.Width*c.Height) / 1_000_000
	}
	return score
}

// dedupeByPerceptualHash keeps candidates in order, dropping any whose
// PerceptualHash is more than threshold similar to an already-kept one;
// candidates without a hash are always kept since similarity cannot be
// computed.
func dedupeByPerceptualHash(sorted []model.AssetCandidate, threshold float64) []model.AssetCandidate {
	var kept []model.AssetCandidate
	var hashes []string
	for _, c := range sorted {
		hash := perceptualHashOf(c)
		duplicate := false
		if hash != "" {
			for _, h := range hashes {
				if hashing.Similarity(hash, h) > threshold {
					duplicate = true
					break
				}
			}
		}
		if duplicate {
			continue
		}
		kept = append(kept, c)
		hashes = append(hashes, hash)
	}
	return kept
}

// perceptualHashOf reports the candidate's perceptual hash if one has been
// precomputed and stashed by AssetCache ingestion; returns "" otherwise.
func perceptualHashOf(c model.AssetCandidate) string {
	return c.PerceptualHash
}
