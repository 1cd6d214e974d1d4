package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/medialibrarian/curator/internal/apperr"
	"github.com/medialibrarian/curator/internal/eventbus"
	"github.com/medialibrarian/curator/internal/model"
	"github.com/medialibrarian/curator/internal/ratelimit"
)

// TMDBAdapter is a concrete remote Adapter. Its wire format is treated as an
// external collaborator's concern (spec.md §1 Non-goals): only enough of the
// response shape is modeled to demonstrate the guard stack and the merge
// contract FetchOrchestrator depends on.
type TMDBAdapter struct {
	remoteGuard
	baseURL string
	apiKey  string
}

// TMDBConfig configures a TMDBAdapter instance.
type TMDBConfig struct {
	BaseURL           string // default: https://api.themoviedb.org/3
	APIKey            string
	RequestTimeout    time.Duration // default 10s
	BreakerResetDelay time.Duration // default 5m
	RateLimit         RateLimitDecl // default 4 rps / burst 8, TMDB's documented ceiling
}

// NewTMDBAdapter builds a TMDBAdapter wired through the shared
// limiter/retry/breaker stack. bus may be nil; when set, a hard rate limit
// publishes eventbus.TopicRateLimitPressure for ScheduledEnricher to watch.
func NewTMDBAdapter(cfg TMDBConfig, bus *eventbus.Bus) *TMDBAdapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.themoviedb.org/3"
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.BreakerResetDelay <= 0 {
		cfg.BreakerResetDelay = 5 * time.Minute
	}
	if cfg.RateLimit.RequestsPerSecond <= 0 {
		cfg.RateLimit = RateLimitDecl{RequestsPerSecond: 4, BurstCapacity: 8}
	}
	return &TMDBAdapter{
		remoteGuard: newRemoteGuard("tmdb", cfg.RateLimit, cfg.RequestTimeout, cfg.BreakerResetDelay, bus),
		baseURL:     cfg.BaseURL,
		apiKey:      cfg.APIKey,
	}
}

func (a *TMDBAdapter) Capabilities() Capabilities {
	return Capabilities{
		ID:                      "tmdb",
		Name:                    "The Movie Database",
		Version:                 "3",
		Category:                CategoryBoth,
		SupportedEntityTypes:    []model.EntityKind{model.KindMovie, model.KindSeries, model.KindSeason, model.KindEpisode},
		SupportedMetadataFields: []string{"title", "year", "plot", "genres", "rating", "tagline"},
		SupportedAssetTypes:     []model.AssetType{model.AssetPoster, model.AssetFanart, model.AssetBanner, model.AssetLandscape},
		Auth:                    AuthAPIKey,
		RateLimit:               RateLimitDecl{RequestsPerSecond: 4, BurstCapacity: 8},
		Search:                  true,
		AssetProvision:          true,
		DataQuality:             DataQuality{MetadataCompleteness: 0.9},
	}
}

type tmdbSearchResult struct {
	ID          int     `json:"id"`
	Title       string  `json:"title"`
	ReleaseDate string  `json:"release_date"`
	Popularity  float64 `json:"popularity"`
}

type tmdbSearchResponse struct {
	Results []tmdbSearchResult `json:"results"`
}

func (a *TMDBAdapter) Search(ctx context.Context, req SearchRequest) ([]SearchResult, error) {
	endpoint := fmt.Sprintf("%s/search/movie?api_key=%s&query=%s",
		a.baseURL, url.QueryEscape(a.apiKey), url.QueryEscape(req.Query))

	resp, err := a.do(ctx, ratelimit.PriorityBackground, func(ctx context.Context) (*http.Response, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		return a.client.Do(httpReq)
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body tmdbSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, apperr.New(apperr.ProviderInvalidResp, err).WithProvider("tmdb")
	}

	out := make([]SearchResult, 0, len(body.Results))
	for _, r := range body.Results {
		year := 0
		if len(r.ReleaseDate) >= 4 {
			fmt.Sscanf(r.ReleaseDate[:4], "%d", &year)
		}
		out = append(out, SearchResult{
			ExternalID: fmt.Sprintf("%d", r.ID),
			Title:      r.Title,
			Year:       year,
			Score:      r.Popularity,
		})
	}
	return out, nil
}

type tmdbMovieDetail struct {
	Title       string  `json:"title"`
	Overview    string  `json:"overview"`
	Tagline     string  `json:"tagline"`
	VoteAverage float64 `json:"vote_average"`
	Genres      []struct {
		Name string `json:"name"`
	} `json:"genres"`
	IMDBID string `json:"imdb_id"`
}

func (a *TMDBAdapter) GetMetadata(ctx context.Context, req MetadataRequest) (MetadataResponse, error) {
	externalID := req.Entity.ExternalIDs.TMDB
	if externalID == "" {
		return MetadataResponse{}, apperr.New(apperr.NotFound, fmt.Errorf("no tmdb id on entity %d", req.Entity.ID))
	}
	endpoint := fmt.Sprintf("%s/movie/%s?api_key=%s", a.baseURL, url.PathEscape(externalID), url.QueryEscape(a.apiKey))

	resp, err := a.do(ctx, ratelimit.PriorityBackground, func(ctx context.Context) (*http.Response, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		return a.client.Do(httpReq)
	})
	if err != nil {
		return MetadataResponse{}, err
	}
	defer resp.Body.Close()

	var detail tmdbMovieDetail
	if err := json.NewDecoder(resp.Body).Decode(&detail); err != nil {
		return MetadataResponse{}, apperr.New(apperr.ProviderInvalidResp, err).WithProvider("tmdb")
	}

	fields := map[string]any{}
	if detail.Title != "" {
		fields["title"] = detail.Title
	}
	if detail.Overview != "" {
		fields["plot"] = detail.Overview
	}
	if detail.Tagline != "" {
		fields["tagline"] = detail.Tagline
	}
	if detail.VoteAverage != 0 {
		fields["rating"] = detail.VoteAverage
	}
	if len(detail.Genres) > 0 {
		genres := make([]string, len(detail.Genres))
		for i, g := range detail.Genres {
			genres[i] = g.Name
		}
		fields["genres"] = genres
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
		ExternalIDs:  model.ExternalIDs{TMDB: externalID, IMDB: detail.IMDBID},
		Completeness: completeness,
		Confidence:   0.95,
	}, nil
}

type tmdbImagesResponse struct {
	Posters []tmdbImage `json:"posters"`
	Backdrops []tmdbImage `json:"backdrops"`
}

type tmdbImage struct {
	FilePath    string  `json:"file_path"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	VoteAverage float64 `json:"vote_average"`
	VoteCount   int     `json:"vote_count"`
	Language    string  `json:"iso_639_1"`
}

func (a *TMDBAdapter) GetAssets(ctx context.Context, req AssetRequest) ([]model.AssetCandidate, error) {
	externalID := req.Entity.ExternalIDs.TMDB
	if externalID == "" {
		return nil, nil
	}
	endpoint := fmt.Sprintf("%s/movie/%s/images?api_key=%s", a.baseURL, url.PathEscape(externalID), url.QueryEscape(a.apiKey))

	resp, err := a.do(ctx, ratelimit.PriorityBackground, func(ctx context.Context) (*http.Response, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		return a.client.Do(httpReq)
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body tmdbImagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, apperr.New(apperr.ProviderInvalidResp, err).WithProvider("tmdb")
	}

	wantPoster, wantBackdrop := false, false
	for _, t := range req.AssetTypes {
		switch t {
		case model.AssetPoster:
			wantPoster = true
		case model.AssetFanart:
			wantBackdrop = true
		}
	}

	var candidates []model.AssetCandidate
	if wantPoster {
		for _, img := range body.Posters {
			candidates = append(candidates, tmdbImageToCandidate(req.Entity.ID, model.AssetPoster, img))
		}
	}
	if wantBackdrop {
		for _, img := range body.Backdrops {
			candidates = append(candidates, tmdbImageToCandidate(req.Entity.ID, model.AssetFanart, img))
		}
	}
	return candidates, nil
}

func tmdbImageToCandidate(entityID int64, assetType model.AssetType, img tmdbImage) model.AssetCandidate {
	return model.AssetCandidate{
		EntityID:       entityID,
		AssetType:      assetType,
		URL:            "https://image.tmdb.org/t/p/original" + img.FilePath,
		Width:          img.Width,
		Height:         img.Height,
		Language:       img.Language,
		CommunityScore: img.VoteAverage,
		VoteCount:      img.VoteCount,
		ProviderName:   "tmdb",
	}
}

func (a *TMDBAdapter) TestConnection(ctx context.Context) ConnectionTestResult {
	endpoint := fmt.Sprintf("%s/configuration?api_key=%s", a.baseURL, url.QueryEscape(a.apiKey))
	resp, err := a.do(ctx, ratelimit.PriorityUser, func(ctx context.Context) (*http.Response, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		return a.client.Do(httpReq)
	})
	if err != nil {
		return ConnectionTestResult{OK: false, Message: err.Error()}
	}
	resp.Body.Close()
	return ConnectionTestResult{OK: true, Message: "tmdb reachable"}
}
