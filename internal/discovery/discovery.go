// Package discovery implements AssetDiscovery (spec.md §4.12): classifying
// the files found alongside a media item's main video file by extension and
// naming convention, then ingesting each into the asset cache. The basename
// pattern matching is grounded on the teacher's VOD-taxonomy classifier
// (internal/catalog's keyword/pattern matching idiom), adapted from
// category/region inference to image-type/subtitle-language inference.
package discovery

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/medialibrarian/curator/internal/apperr"
	"github.com/medialibrarian/curator/internal/assetcache"
	"github.com/medialibrarian/curator/internal/model"
)

var videoExtensions = map[string]bool{
	".mkv": true, ".mp4": true, ".avi": true, ".m4v": true, ".mov": true, ".ts": true, ".wmv": true,
}

var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".webp": true,
}

var subtitleExtensions = map[string]bool{
	".srt": true, ".ass": true, ".ssa": true, ".sub": true, ".vtt": true,
}

// imagePattern ranks basename regexes for one asset type, most specific first.
// Regexes that name the media file embed regexp.QuoteMeta of its basename
// (without extension).
type imagePattern struct {
	assetType model.AssetType
	regexes   []*regexp.Regexp
}

func buildImagePatterns(mediaBase string) []imagePattern {
	base := regexp.QuoteMeta(mediaBase)
	mk := func(names ...string) []*regexp.Regexp {
		out := make([]*regexp.Regexp, 0, len(names)*2)
		for _, n := range names {
			// <media>-<name>[digits].ext and bare <name>[digits].ext
			out = append(out,
				regexp.MustCompile(`(?i)^`+base+`-`+n+`\d*$`),
				regexp.MustCompile(`(?i)^`+n+`\d*$`),
			)
		}
		return out
	}
	return []imagePattern{
		{model.AssetPoster, mk("poster", "folder", "cover")},
		{model.AssetFanart, mk("fanart", "backdrop", "background")},
		{model.AssetBanner, mk("banner")},
		{model.AssetClearLogo, mk("clearlogo", "logo")},
		{model.AssetClearArt, mk("clearart")},
		{model.AssetDiscArt, mk("discart", "disc")},
		{model.AssetLandscape, mk("landscape", "thumb")},
		{model.AssetKeyArt, mk("keyart")},
		{model.AssetCharacterArt, mk("characterart")},
	}
}

var qualityTokenPattern = regexp.MustCompile(`(?i)2160p|1080p|720p|480p`)

// subtitleLanguageAliases maps the dot-separated language token a subtitle
// filename carries to its normalized three-letter code.
var subtitleLanguageAliases = map[string]string{
	"en": "eng", "eng": "eng", "english": "eng",
	"es": "spa", "spa": "spa", "spanish": "spa",
	"fr": "fre", "fre": "fre", "french": "fre",
	"de": "ger", "ger": "ger", "german": "ger",
	"ar": "ara", "ara": "ara", "arabic": "ara",
}

// Finding is one classified file ready for ingestion.
type Finding struct {
	AssetType model.AssetType
	Path      string // absolute path on disk
	Language  string // subtitles only
	Quality   string // trailers only
	Forced    bool   // subtitles only
	SDH       bool   // subtitles only
}

// Classify inspects every file in dir (non-recursive) other than the main
// video file and returns the recognized images, trailers, and subtitles.
// mediaBase is the main video file's basename without extension, used to
// match hyphenated and prefixed naming conventions.
func Classify(dir, mediaBase string) ([]Finding, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, apperr.New(apperr.FSNotFound, err)
	}
	patterns := buildImagePatterns(mediaBase)

	var findings []Finding
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		ext := strings.ToLower(filepath.Ext(name))
		stem := strings.TrimSuffix(name, filepath.Ext(name))
		full := filepath.Join(dir, name)

		switch {
		case imageExtensions[ext]:
			if at, ok := classifyImage(stem, patterns); ok {
				findings = append(findings, Finding{AssetType: at, Path: full})
			}
		case videoExtensions[ext] && isTrailer(stem, mediaBase):
			findings = append(findings, Finding{AssetType: model.AssetTrailer, Path: full, Quality: qualityTokenPattern.FindString(stem)})
		case subtitleExtensions[ext] && strings.HasPrefix(strings.ToLower(stem), strings.ToLower(mediaBase)):
			lang, forced, sdh := parseSubtitleTokens(stem, mediaBase)
			findings = append(findings, Finding{AssetType: model.AssetSubtitle, Path: full, Language: lang, Forced: forced, SDH: sdh})
		}
	}
	return findings, nil
}

func classifyImage(stem string, patterns []imagePattern) (model.AssetType, bool) {
	for _, p := range patterns {
		for _, re := range p.regexes {
			if re.MatchString(stem) {
				return p.assetType, true
			}
		}
	}
	return "", false
}

func isTrailer(stem, mediaBase string) bool {
	lower := strings.ToLower(stem)
	if strings.Contains(lower, "trailer") {
		return true
	}
	return lower == strings.ToLower(mediaBase)+"-trailer"
}

// parseSubtitleTokens reads the dot-separated suffix after mediaBase, e.g.
// "Movie.en.forced.sdh" -> lang=eng, forced=true, sdh=true.
func parseSubtitleTokens(stem, mediaBase string) (lang string, forced, sdh bool) {
	suffix := strings.TrimPrefix(stem, mediaBase)
	suffix = strings.TrimPrefix(suffix, ".")
	for _, tok := range strings.Split(suffix, ".") {
		tok = strings.ToLower(strings.TrimSpace(tok))
		switch tok {
		case "forced":
			forced = true
		case "sdh", "cc":
			sdh = true
		default:
			if code, ok := subtitleLanguageAliases[tok]; ok {
				lang = code
			}
		}
	}
	return lang, forced, sdh
}

// Store records a discovered asset's library and cache paths once ingested.
type Store interface {
	Record(ctx context.Context, entityID int64, assetType model.AssetType, libraryPath, cachePath, language, quality string, forced, sdh bool) error
}

// Service runs Classify then ingests each finding into AssetCache, recording
// the (library_path, cache_path) pair.
type Service struct {
	cache *assetcache.Cache
	store Store
}

// New constructs a Service.
func New(cache *assetcache.Cache, store Store) *Service {
	return &Service{cache: cache, store: store}
}

// DiscoverAndIngest classifies every auxiliary file in dir and ingests each
// into the asset cache, recording the result against entityID.
func (s *Service) DiscoverAndIngest(ctx context.Context, entityID int64, dir, mediaBase string) (int, error) {
	findings, err := Classify(dir, mediaBase)
	if err != nil {
		return 0, err
	}
	ingested := 0
	for _, f := range findings {
		mime := mimeFor(f.Path)
		result, err := s.cache.Add(ctx, f.Path, assetcache.AddMetadata{
			MimeType:   mime,
			SourceKind: model.SourceLocal,
		})
		if err != nil {
			return ingested, err
		}
		if err := s.store.Record(ctx, entityID, f.AssetType, f.Path, result.Path, f.Language, f.Quality, f.Forced, f.SDH); err != nil {
			return ingested, err
		}
		ingested++
	}
	return ingested, nil
}

func mimeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	case ".srt":
		return "application/x-subrip"
	case ".vtt":
		return "text/vtt"
	default:
		return ""
	}
}
