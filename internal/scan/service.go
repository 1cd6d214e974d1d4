package scan

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/medialibrarian/curator/internal/apperr"
	"github.com/medialibrarian/curator/internal/discovery"
	"github.com/medialibrarian/curator/internal/entity"
	"github.com/medialibrarian/curator/internal/eventbus"
	"github.com/medialibrarian/curator/internal/library"
	"github.com/medialibrarian/curator/internal/model"
)

// Enqueuer is the narrow capability handlers use to chain jobs, per
// spec.md §9's "handlers receive a narrow Enqueuer capability rather than
// the whole [queue] service". jobqueue.Service's store (jobstore.Store)
// satisfies this directly.
type Enqueuer interface {
	Enqueue(ctx context.Context, job model.Job) (int64, error)
}

var videoExtensions = map[string]bool{
	".mkv": true, ".mp4": true, ".avi": true, ".m4v": true, ".mov": true, ".ts": true, ".wmv": true,
}

var yearPattern = regexp.MustCompile(`[\(\[](\d{4})[\)\]]`)

// Service implements ScanService (spec.md §4.11): phase 1 discovers
// immediate subdirectories of a library root and enqueues one directory-scan
// job per subdirectory; phase 2 (DirectoryScan) classifies one directory's
// main video file, upserts the entity, and runs AssetDiscovery against the
// remaining files.
type Service struct {
	libraries library.Store
	entities  entity.Store
	scanJobs  JobStore
	discover  *discovery.Service
	queue     Enqueuer
	bus       *eventbus.Bus
}

// New constructs a Service.
func New(libraries library.Store, entities entity.Store, scanJobs JobStore, discover *discovery.Service, queue Enqueuer, bus *eventbus.Bus) *Service {
	return &Service{libraries: libraries, entities: entities, scanJobs: scanJobs, discover: discover, queue: queue, bus: bus}
}

// StartScan is phase 1: list immediate subdirectories of the library root,
// create a scan_job progress row, and enqueue one directory-scan job per
// subdirectory at PriorityNormal. An empty root produces a scan_job that
// completes immediately with zero directories (spec.md §8's boundary case).
func (s *Service) StartScan(ctx context.Context, libraryID int64) (model.ScanJob, error) {
	lib, err := s.libraries.Get(ctx, libraryID)
	if err != nil {
		return model.ScanJob{}, err
	}

	job, err := s.scanJobs.Create(ctx, libraryID)
	if err != nil {
		return model.ScanJob{}, err
	}

	entries, err := os.ReadDir(lib.RootPath)
	if err != nil {
		_ = s.scanJobs.Finish(ctx, job.ID, model.ScanCompleted)
		return model.ScanJob{}, apperr.New(apperr.FSNotFound, err)
	}

	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, filepath.Join(lib.RootPath, e.Name()))
		}
	}
	sort.Strings(dirs)

	if err := s.scanJobs.SetTotal(ctx, job.ID, len(dirs)); err != nil {
		return model.ScanJob{}, err
	}

	for _, dir := range dirs {
		cancelled, err := s.scanJobs.IsCancelRequested(ctx, job.ID)
		if err != nil {
			return model.ScanJob{}, err
		}
		if cancelled {
			break
		}
		_, err = s.queue.Enqueue(ctx, model.Job{
			Type:     model.JobDirectoryScan,
			Priority: model.PriorityNormal,
			Payload: map[string]any{
				"scanJobId": job.ID,
				"libraryId": libraryID,
				"directory": dir,
				"autoEnrich": lib.AutoEnrich,
			},
			MaxRetries: 3,
		})
		if err != nil {
			return model.ScanJob{}, err
		}
		if err := s.scanJobs.IncrementQueued(ctx, job.ID); err != nil {
			return model.ScanJob{}, err
		}
	}

	if cancelled, _ := s.scanJobs.IsCancelRequested(ctx, job.ID); cancelled {
		_ = s.scanJobs.Finish(ctx, job.ID, model.ScanCancelled)
	} else if len(dirs) == 0 {
		_ = s.scanJobs.Finish(ctx, job.ID, model.ScanCompleted)
	}

	if s.bus != nil {
		s.bus.Publish(eventbus.TopicScanProgress, map[string]any{
			"scanJobId": job.ID, "libraryId": libraryID, "totalDirectories": len(dirs),
		})
	}
	return s.scanJobs.Get(ctx, job.ID)
}

// DirectoryScanHandler is registered with jobqueue.Service for
// model.JobDirectoryScan. It reads the scan-job id, library id, directory,
// and autoEnrich flag from the job payload.
func (s *Service) DirectoryScanHandler(ctx context.Context, job model.Job) error {
	scanJobID := int64Payload(job.Payload, "scanJobId")
	libraryID := int64Payload(job.Payload, "libraryId")
	dir, _ := job.Payload["directory"].(string)
	autoEnrich, _ := job.Payload["autoEnrich"].(bool)

	if scanJobID != 0 {
		if cancelled, err := s.scanJobs.IsCancelRequested(ctx, scanJobID); err == nil && cancelled {
			return nil // short-circuit per spec.md §4.11's cancellation checkpoint
		}
	}

	entityID, isNew, err := s.scanOneDirectory(ctx, libraryID, dir)
	if err != nil {
		lastAttempt := job.RetryCount >= job.MaxRetries
		if apperr.IsRetryable(err) && !lastAttempt {
			// Not yet terminal: jobqueue will retry this directory-scan job,
			// so it must not count toward scan_job completion until the
			// retries are exhausted or it succeeds.
			return err
		}
		// Terminal for this directory: either the error isn't retryable, or
		// this was the last attempt and jobqueue will archive it permanently
		// without invoking this handler again. Either way the scan as a
		// whole must still proceed and this directory still counts toward
		// scan_job completion.
		if scanJobID != 0 {
			_ = s.scanJobs.IncrementErrored(ctx, scanJobID, err.Error())
			s.maybeFinish(ctx, scanJobID)
		}
		if apperr.IsRetryable(err) {
			return err // report the failure so jobqueue records it accurately
		}
		return nil
	}
	if entityID == 0 {
		// No recognized video file in this directory (spec.md §4.11: skip,
		// not an error) but the directory-scan job it belongs to still
		// terminated, so it must still count toward scan_job completion.
		if scanJobID != 0 {
			_ = s.scanJobs.IncrementSkipped(ctx, scanJobID)
			s.maybeFinish(ctx, scanJobID)
		}
		return nil
	}

	if scanJobID != 0 {
		if isNew {
			_ = s.scanJobs.IncrementDiscovered(ctx, scanJobID)
		} else {
			_ = s.scanJobs.IncrementUpdated(ctx, scanJobID)
		}
	}

	if autoEnrich {
		if _, err := s.queue.Enqueue(ctx, model.Job{
			Type:     model.JobEnrichMetadata,
			Priority: model.PriorityNormal,
			Payload:  map[string]any{"entityId": entityID},
			MaxRetries: 3,
		}); err != nil {
			return err
		}
	}

	if scanJobID != 0 {
		s.maybeFinish(ctx, scanJobID)
	}
	return nil
}

// maybeFinish marks a scan_job completed once every directory-scan job it
// queued has terminated. Skipped (no video file) and errored directories
// terminate just as discovered/updated ones do; omitting them from the sum
// would leave scan_jobs running forever whenever any subdirectory lacks a
// recognized video file, an explicitly normal case.
func (s *Service) maybeFinish(ctx context.Context, scanJobID int64) {
	j, err := s.scanJobs.Get(ctx, scanJobID)
	if err != nil || j.Status != model.ScanRunning {
		return
	}
	if j.Discovered+j.Updated+j.Errored+j.Skipped >= j.Queued {
		_ = s.scanJobs.Finish(ctx, scanJobID, model.ScanCompleted)
	}
}

// scanOneDirectory is phase 2 (spec.md §4.11): select the largest
// recognized video file, upsert the entity by path, and run AssetDiscovery
// against everything else in the directory. Returns entityID=0 when the
// directory has no recognized video file (not an error, just skipped).
func (s *Service) scanOneDirectory(ctx context.Context, libraryID int64, dir string) (entityID int64, isNew bool, err error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return 0, false, apperr.New(apperr.FSNotFound, err)
	}

	var mainFile string
	var mainSize int64
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(f.Name()))
		if !videoExtensions[ext] {
			continue
		}
		info, err := f.Info()
		if err != nil {
			continue
		}
		if info.Size() > mainSize {
			mainFile = filepath.Join(dir, f.Name())
			mainSize = info.Size()
		}
	}
	if mainFile == "" {
		return 0, false, nil
	}

	title, year := parseTitleYear(filepath.Base(dir))
	e, err := s.entities.UpsertByPath(ctx, model.Entity{
		LibraryID: libraryID,
		Kind:      model.KindMovie,
		Path:      mainFile,
		Title:     title,
		Year:      year,
		State:     model.StateDiscovered,
		Monitored: true,
	})
	if err != nil {
		return 0, false, apperr.New(apperr.Storage, err)
	}
	isNew = e.Version == 0

	mediaBase := strings.TrimSuffix(filepath.Base(mainFile), filepath.Ext(mainFile))
	if _, err := s.discover.DiscoverAndIngest(ctx, e.ID, dir, mediaBase); err != nil {
		return e.ID, isNew, err
	}
	return e.ID, isNew, nil
}

// parseTitleYear applies the title heuristic of spec.md §4.11 to a directory
// basename: the title is the text before the first "(YYYY)" or "[YYYY]"
// token (the whole name when there is none), and the year comes from that
// token. No extension is stripped.
func parseTitleYear(base string) (string, int) {
	year := 0
	title := base
	if m := yearPattern.FindStringSubmatchIndex(base); m != nil {
		if y, err := strconv.Atoi(base[m[2]:m[3]]); err == nil {
			year = y
		}
		title = strings.TrimSpace(base[:m[0]])
	}
	title = strings.Trim(title, " .-_")
	return title, year
}

func int64Payload(payload map[string]any, key string) int64 {
	v, ok := payload[key]
	if !ok {
		return 0
	}
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	default:
		return 0
	}
}
