package mediastreams

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/medialibrarian/curator/internal/discovery"
	"github.com/medialibrarian/curator/internal/mediaprobe"
	"github.com/medialibrarian/curator/internal/model"
	"github.com/medialibrarian/curator/internal/storage"
)

func TestReplaceProbeResult_insertsAndReplaces(t *testing.T) {
	db, err := storage.Open(":memory:")
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO libraries (id, name, root_path, kind) VALUES (1, 'Movies', '/movies', 'movie')`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO entities (id, library_id, kind, path, title) VALUES (1, 1, 'movie', '/movies/a.mkv', 'A')`)
	require.NoError(t, err)

	store := New(db)
	result := mediaprobe.Result{
		VideoStreams: []mediaprobe.VideoStream{{Codec: "h264", Width: 1920, Height: 1080, FrameRate: 23.976, BitRate: 5000000}},
		AudioStreams: []mediaprobe.AudioStream{{Codec: "aac", Channels: 6, BitRate: 384000, Language: "eng"}},
	}
	require.NoError(t, store.ReplaceProbeResult(context.Background(), 1, result))

	var videoCount, audioCount int
	require.NoError(t, db.Get(&videoCount, `SELECT COUNT(*) FROM video_streams WHERE entity_id = 1`))
	require.NoError(t, db.Get(&audioCount, `SELECT COUNT(*) FROM audio_streams WHERE entity_id = 1`))
	require.Equal(t, 1, videoCount)
	require.Equal(t, 1, audioCount)

	require.NoError(t, store.ReplaceProbeResult(context.Background(), 1, mediaprobe.Result{}))
	require.NoError(t, db.Get(&videoCount, `SELECT COUNT(*) FROM video_streams WHERE entity_id = 1`))
	require.Equal(t, 0, videoCount)
}

func TestSubtitleRecorder_addsSubtitleStreamRowOnlyForSubtitles(t *testing.T) {
	db, err := storage.Open(":memory:")
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO libraries (id, name, root_path, kind) VALUES (1, 'Movies', '/movies', 'movie')`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO entities (id, library_id, kind, path, title) VALUES (1, 1, 'movie', '/movies/a.mkv', 'A')`)
	require.NoError(t, err)

	base := discovery.NewSQLiteStore(db)
	recorder := WrapDiscoveryStore(base, db)

	require.NoError(t, recorder.Record(context.Background(), 1, model.AssetSubtitle, "/movies/a.en.srt", "cache/a.srt", "en", "", false, false))
	require.NoError(t, recorder.Record(context.Background(), 1, model.AssetPoster, "/movies/poster.jpg", "cache/poster.jpg", "", "", false, false))

	var subtitleCount, discoveredCount int
	require.NoError(t, db.Get(&subtitleCount, `SELECT COUNT(*) FROM subtitle_streams WHERE entity_id = 1`))
	require.NoError(t, db.Get(&discoveredCount, `SELECT COUNT(*) FROM discovered_assets WHERE entity_id = 1`))
	require.Equal(t, 1, subtitleCount)
	require.Equal(t, 2, discoveredCount)
}
