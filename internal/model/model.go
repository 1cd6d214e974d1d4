// Package model holds the persistent data shapes shared across the ingestion
// and enrichment pipeline: entities, libraries, jobs, cache assets, and the
// small policy records (locks, provider config, priority profiles) that
// govern how providers are allowed to write into an entity.
package model

import "time"

// EntityKind discriminates the single entities table.
type EntityKind string

const (
	KindMovie   EntityKind = "movie"
	KindSeries  EntityKind = "series"
	KindSeason  EntityKind = "season"
	KindEpisode EntityKind = "episode"
)

// EntityState is the enrichment lifecycle state. Transitions are monotonic
// (discovered -> enriched -> published -> error) except on explicit reset.
type EntityState string

const (
	StateDiscovered EntityState = "discovered"
	StateEnriched   EntityState = "enriched"
	StatePublished  EntityState = "published"
	StateError      EntityState = "error"
)

// Entity is a movie, series, season, or episode known to the system.
// Path is unique within a library.
type Entity struct {
	ID                 int64
	LibraryID          int64
	Kind               EntityKind
	ParentID           *int64 // season->series, episode->season
	Path               string
	Title              string
	Year               int
	ExternalIDs        ExternalIDs
	State              EntityState
	LastScrapedAt      *time.Time
	EnrichmentPriority int // 0-10
	Monitored          bool
	Fields             map[string]any // free-form metadata fields (plot, genres, ...)
	Version            int64          // optimistic-concurrency token, bumped on every write
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// ExternalIDs are the cross-catalog identifiers resolvable for an entity.
type ExternalIDs struct {
	IMDB string
	TMDB string
	TVDB string
}

// MediaKind is the kind of content a Library holds.
type MediaKind string

const (
	MediaMovie MediaKind = "movie"
	MediaTV    MediaKind = "tv"
	MediaMusic MediaKind = "music"
)

// Library is a configured root directory containing entities of one kind.
type Library struct {
	ID              int64
	Name            string
	RootPath        string
	Kind            MediaKind
	AutoEnrich      bool
	PublishingPolicy string
	CreatedAt       time.Time
}

// JobStatus is the two-state lifecycle of an active (non-archived) job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
)

// Job priority classes. Lower numeric value is higher priority.
const (
	PriorityCritical = 1
	PriorityHigh     = 3
	PriorityNormal   = 5
	PriorityLow      = 8
)

// JobType enumerates the closed set of job types the queue dispatches.
type JobType string

const (
	JobScanLibrary             JobType = "scan-library"
	JobDirectoryScan           JobType = "directory-scan"
	JobCacheAsset              JobType = "cache-asset"
	JobEnrichMetadata          JobType = "enrich-metadata"
	JobFetchProviderAssets     JobType = "fetch-provider-assets"
	JobSelectAssets            JobType = "select-assets"
	JobPublish                 JobType = "publish"
	JobWebhookReceived         JobType = "webhook-received"
	JobScheduledFileScan       JobType = "scheduled-file-scan"
	JobScheduledProviderUpdate JobType = "scheduled-provider-update"
	JobScheduledCleanup        JobType = "scheduled-cleanup"
	JobBulkEnrich              JobType = "bulk-enrich"
	JobNotifyPrefix            JobType = "notify-" // notify-* family, suffix is caller-defined
)

// Job is a unit of work in the durable priority queue.
type Job struct {
	ID         int64
	Type       JobType
	Priority   int
	Payload    map[string]any
	Status     JobStatus
	RetryCount int
	MaxRetries int
	LastError  string
	CreatedAt  time.Time
	StartedAt  *time.Time
	Manual     bool
}

// HistoryOutcome is the terminal disposition recorded for a completed job.
type HistoryOutcome string

const (
	OutcomeSucceeded HistoryOutcome = "succeeded"
	OutcomeFailed    HistoryOutcome = "failed"
	OutcomeAbandoned HistoryOutcome = "abandoned"
)

// RetentionClass buckets JobHistory rows for cleanupHistory's per-class cutoff.
type RetentionClass string

const (
	RetentionCompleted RetentionClass = "completed"
	RetentionFailed    RetentionClass = "failed"
)

// JobHistory is the terminal record written on completion/abandonment.
type JobHistory struct {
	ID         int64
	JobID      int64
	Type       JobType
	Priority   int
	Payload    map[string]any
	Outcome    HistoryOutcome
	LastError  string
	RetryCount int
	CreatedAt  time.Time
	FinishedAt time.Time
	Retention  RetentionClass
}

// AssetSourceKind classifies how a CacheAsset entered the cache.
type AssetSourceKind string

const (
	SourceProvider AssetSourceKind = "provider"
	SourceLocal    AssetSourceKind = "local"
	SourceUser     AssetSourceKind = "user"
)

// CacheAsset is a content-addressed row in the on-disk asset store.
type CacheAsset struct {
	ID             int64
	ContentHash    string // sha-256 hex
	FilePath       string // sharded path under the cache root
	FileSize       int64
	MimeType       string
	Width          int
	Height         int
	PerceptualHash string
	SourceKind     AssetSourceKind
	SourceURL      string
	ProviderName   string
	ReferenceCount int
	CreatedAt      time.Time
	LastAccessedAt time.Time
}

// AssetType is the kind of artwork or auxiliary asset an entity can carry.
type AssetType string

const (
	AssetPoster       AssetType = "poster"
	AssetFanart       AssetType = "fanart"
	AssetBanner       AssetType = "banner"
	AssetClearLogo    AssetType = "clearlogo"
	AssetClearArt     AssetType = "clearart"
	AssetDiscArt      AssetType = "discart"
	AssetLandscape    AssetType = "landscape"
	AssetKeyArt       AssetType = "keyart"
	AssetThumb        AssetType = "thumb"
	AssetCharacterArt AssetType = "characterart"
	AssetTrailer      AssetType = "trailer"
	AssetSubtitle     AssetType = "subtitle"
)

// AssetCandidate is a provider-sourced asset proposal for an entity, not yet selected.
type AssetCandidate struct {
	ID           int64
	EntityID     int64
	AssetType    AssetType
	URL          string
	Width        int
	Height       int
	Language     string
	CommunityScore float64
	VoteCount    int
	ProviderName string
	Score        float64 // computed selection score, see FetchOrchestrator
	PerceptualHash string // set once AssetCache has downloaded and hashed the candidate; empty until then
}

// FieldLock marks (entity, field) as forbidden to overwrite from providers.
type FieldLock struct {
	EntityID int64
	Field    string
	LockedAt time.Time
}

// ProviderTestStatus is the outcome of the last testConnection() call.
type ProviderTestStatus string

const (
	TestNeverTested ProviderTestStatus = "never_tested"
	TestSuccess     ProviderTestStatus = "success"
	TestError       ProviderTestStatus = "error"
)

// ProviderConfig is the persisted configuration/state for one provider.
type ProviderConfig struct {
	Name              string
	Enabled           bool
	APIKey            *string
	EnabledAssetTypes []AssetType
	LastTestStatus    ProviderTestStatus
	LastTestAt        *time.Time
	LastTestError     string
}

// PriorityProfile maps each asset type and metadata field to an ordered list
// of provider names, consulted by FetchOrchestrator to pick a winner.
type PriorityProfile struct {
	Name          string
	FieldOrder    map[string][]string // metadata field -> ordered provider ids
	AssetTypeOrder map[AssetType][]string
}

// ForcedLocalFields are metadata fields always sourced from the local media
// probe and never written by any provider (spec.md §4.8-5).
var ForcedLocalFields = map[string]bool{
	"runtime":       true,
	"codecs":        true,
	"resolution":    true,
	"aspect":        true,
	"bitrate":       true,
	"framerate":     true,
	"audioChannels": true,
	"duration":      true,
	"fileSize":      true,
	"container":     true,
}

// ScanStatus is the lifecycle of one library scan (spec.md §4.11).
type ScanStatus string

const (
	ScanRunning   ScanStatus = "running"
	ScanCompleted ScanStatus = "completed"
	ScanCancelled ScanStatus = "cancelled"
)

// ScanJob is the progress row a dashboard reads to show live scan counts.
type ScanJob struct {
	ID               int64
	LibraryID        int64
	Status           ScanStatus
	TotalDirectories int
	Discovered       int
	Updated          int
	Queued           int
	Errored          int
	Skipped          int
	LastError        string
	CancelRequested  bool
	CreatedAt        time.Time
	FinishedAt       *time.Time
}
