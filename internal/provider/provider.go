// Package provider defines the uniform adapter contract of spec.md §4.6:
// every remote catalog (TMDB, TVDB, FanArt.tv, OMDb, ...) and the local
// filesystem probe implement the same Adapter interface so FetchOrchestrator
// never special-cases a specific catalog's wire format.
package provider

import (
	"context"
	"time"

	"github.com/medialibrarian/curator/internal/model"
)

// AuthKind is how an adapter authenticates with its upstream.
type AuthKind string

const (
	AuthNone   AuthKind = "none"
	AuthAPIKey AuthKind = "api_key"
	AuthBearer AuthKind = "bearer"
	AuthJWT    AuthKind = "jwt"
)

// Category is what kind of data an adapter can supply.
type Category string

const (
	CategoryMetadata Category = "metadata"
	CategoryImages   Category = "images"
	CategoryBoth     Category = "both"
)

// RateLimitDecl is an adapter's self-declared upstream limit, used by the
// wiring that constructs each adapter's internal/ratelimit.Limiter.
// FetchOrchestrator does not consult it for provider selection.
type RateLimitDecl struct {
	RequestsPerSecond float64
	BurstCapacity     int
}

// DataQuality is an adapter's self-declared reliability, used as a
// tie-breaker when two providers share the same priority-profile rank.
type DataQuality struct {
	MetadataCompleteness float64 // 0..1
}

// Capabilities describes what an adapter can do, self-reported at registration.
type Capabilities struct {
	ID                      string
	Name                    string
	Version                 string
	Category                Category
	SupportedEntityTypes    []model.EntityKind
	SupportedMetadataFields []string
	SupportedAssetTypes     []model.AssetType
	Auth                    AuthKind
	RateLimit               RateLimitDecl
	Search                  bool
	AssetProvision          bool
	DataQuality             DataQuality
}

// SupportsField reports whether this adapter's capabilities cover field.
func (c Capabilities) SupportsField(field string) bool {
	for _, f := range c.SupportedMetadataFields {
		if f == field {
			return true
		}
	}
	return false
}

// SupportsAssetType reports whether this adapter can supply assetType.
func (c Capabilities) SupportsAssetType(assetType model.AssetType) bool {
	for _, t := range c.SupportedAssetTypes {
		if t == assetType {
			return true
		}
	}
	return false
}

// SearchRequest is a lookup-by-title(-and-year) or lookup-by-external-id query.
type SearchRequest struct {
	Query      string
	EntityKind model.EntityKind
	Year       int
	ExternalID string // set when searching by a known id rather than title
}

// SearchResult is one candidate match returned by Search.
type SearchResult struct {
	ExternalID string
	Title      string
	Year       int
	Score      float64 // adapter-declared match confidence, 0..1
}

// MetadataRequest asks an adapter for a specific entity's fields.
type MetadataRequest struct {
	Entity          model.Entity
	RequestedFields []string
}

// MetadataResponse carries the fields an adapter could supply plus
// provenance the orchestrator needs for merge decisions.
type MetadataResponse struct {
	Fields       map[string]any
	ExternalIDs  model.ExternalIDs
	Completeness float64 // fraction of RequestedFields actually populated
	Confidence   float64 // adapter's confidence this is the right entity
}

// AssetRequest asks an adapter for candidate assets of the given types.
type AssetRequest struct {
	Entity     model.Entity
	AssetTypes []model.AssetType
}

// ConnectionTestResult is the outcome of TestConnection.
type ConnectionTestResult struct {
	OK      bool
	Message string
}

// Adapter is the uniform per-catalog contract every provider implements.
type Adapter interface {
	Capabilities() Capabilities
	Search(ctx context.Context, req SearchRequest) ([]SearchResult, error)
	GetMetadata(ctx context.Context, req MetadataRequest) (MetadataResponse, error)
	GetAssets(ctx context.Context, req AssetRequest) ([]model.AssetCandidate, error)
	TestConnection(ctx context.Context) ConnectionTestResult
}

// changesSinceCapable is implemented by adapters whose upstream exposes a
// cheap "what changed since date X" endpoint (spec.md §4.13 change detection).
// No adapter in this module implements it, and neither FetchOrchestrator nor
// ScheduledEnricher calls ChangedSince, so every enrichment refetches.
type changesSinceCapable interface {
	ChangedSince(ctx context.Context, externalID string, since time.Time) (bool, error)
}

// ChangedSince calls adapter's ChangedSince if it implements changesSinceCapable,
// otherwise conservatively reports true (always refetch).
func ChangedSince(ctx context.Context, adapter Adapter, externalID string, since time.Time) (bool, error) {
	if cs, ok := adapter.(changesSinceCapable); ok {
		return cs.ChangedSince(ctx, externalID, since)
	}
	return true, nil
}
