package provider

import (
	"context"
	"encoding/xml"
	"os"
	"path/filepath"
	"strings"

	"github.com/medialibrarian/curator/internal/model"
)

// LocalProvider is the degenerate adapter of spec.md §4.6: it reads NFO
// sidecars and already-discovered files instead of issuing network calls,
// and its rate limit is effectively unbounded. Its Capabilities list the
// forced-local technical fields (runtime, codecs, resolution, ...), but
// GetMetadata returns only the NFO's title, year and plot: those technical
// fields come solely from internal/mediaprobe, and FetchOrchestrator asks no
// adapter for them.
type LocalProvider struct{}

// NewLocalProvider returns a LocalProvider. It has no configuration.
func NewLocalProvider() *LocalProvider {
	return &LocalProvider{}
}

func (p *LocalProvider) Capabilities() Capabilities {
	return Capabilities{
		ID:       "local",
		Name:     "Local Filesystem",
		Version:  "1",
		Category: CategoryBoth,
		SupportedEntityTypes: []model.EntityKind{
			model.KindMovie, model.KindSeries, model.KindSeason, model.KindEpisode,
		},
		SupportedMetadataFields: append([]string{"title", "year", "plot"}, forcedLocalFieldNames()...),
		SupportedAssetTypes:     []model.AssetType{model.AssetPoster, model.AssetFanart, model.AssetTrailer},
		Auth:                    AuthNone,
		RateLimit:               RateLimitDecl{RequestsPerSecond: 1000, BurstCapacity: 1000},
		Search:                  false,
		AssetProvision:          true,
		DataQuality:             DataQuality{MetadataCompleteness: 1.0},
	}
}

func forcedLocalFieldNames() []string {
	names := make([]string, 0, len(model.ForcedLocalFields))
	for f := range model.ForcedLocalFields {
		names = append(names, f)
	}
	return names
}

// nfo mirrors the subset of a Kodi-style .nfo sidecar this provider reads.
type nfo struct {
	XMLName xml.Name `xml:"movie"`
	Title   string   `xml:"title"`
	Year    int      `xml:"year"`
	Plot    string   `xml:"plot"`
	IMDBID  string   `xml:"uniqueid"`
}

// Search is unsupported: LocalProvider only ever answers for the entity it
// is handed, it never searches a catalog.
func (p *LocalProvider) Search(ctx context.Context, req SearchRequest) ([]SearchResult, error) {
	return nil, nil
}

// GetMetadata reads an NFO sidecar next to entity.Path, if one exists.
func (p *LocalProvider) GetMetadata(ctx context.Context, req MetadataRequest) (MetadataResponse, error) {
	sidecar := nfoPath(req.Entity.Path)
	data, err := os.ReadFile(sidecar)
	if err != nil {
		return MetadataResponse{}, nil // no sidecar is not an error, just no data
	}
	var doc nfo
	if err := xml.Unmarshal(data, &doc); err != nil {
		return MetadataResponse{}, nil
	}

	fields := map[string]any{}
	if doc.Title != "" {
		fields["title"] = doc.Title
	}
	if doc.Year != 0 {
		fields["year"] = doc.Year
	}
	if doc.Plot != "" {
		fields["plot"] = doc.Plot
	}

	populated := 0
	for _, f := range req.RequestedFields {
		if _, ok := fields[f]; ok {
			populated++
		}
	}
	completeness := 0.0
	if len(req.RequestedFields) > 0 {
		completeness = float64(populated) / float64(len(req.RequestedFields))
	}

	return MetadataResponse{
		Fields:       fields,
		ExternalIDs:  model.ExternalIDs{IMDB: doc.IMDBID},
		Completeness: completeness,
		Confidence:   1.0,
	}, nil
}

// GetAssets is not how LocalProvider's assets enter the system; AssetDiscovery
// (internal/discovery) ingests them directly into AssetCache during scan, so
// this always returns an empty set.
func (p *LocalProvider) GetAssets(ctx context.Context, req AssetRequest) ([]model.AssetCandidate, error) {
	return nil, nil
}

func (p *LocalProvider) TestConnection(ctx context.Context) ConnectionTestResult {
	return ConnectionTestResult{OK: true, Message: "local filesystem is always reachable"}
}

func nfoPath(mediaPath string) string {
	ext := filepath.Ext(mediaPath)
	return strings.TrimSuffix(mediaPath, ext) + ".nfo"
}
