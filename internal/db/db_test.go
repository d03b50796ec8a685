package db

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/collar.amc/internal/amc"
	"github.com/banshee-data/collar.amc/internal/correction"
	"github.com/banshee-data/collar.amc/internal/events"
	"github.com/banshee-data/collar.amc/internal/fence"
	"github.com/banshee-data/collar.amc/internal/testutil"
)

var (
	_ amc.PastureSource       = (*DB)(nil)
	_ amc.SettingsStore       = (*DB)(nil)
	_ correction.CounterStore = (*DB)(nil)
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "collar.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func localHostRequest(method, path string) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}

func TestPragmasApplied(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)

	var journalMode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
	assert.Equal(t, "wal", journalMode)

	var busyTimeout int
	require.NoError(t, db.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout))
	assert.Equal(t, 5000, busyTimeout)

	var synchronous int
	require.NoError(t, db.QueryRow("PRAGMA synchronous").Scan(&synchronous))
	assert.Equal(t, 1, synchronous, "NORMAL")
}

// ----------------------------------------------------------------------------
// Migrations
// ----------------------------------------------------------------------------

func TestMigrations_AtLatest(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)

	migrations, err := getMigrationsFS()
	require.NoError(t, err)
	latest, err := LatestMigrationVersion(migrations)
	require.NoError(t, err)
	assert.Equal(t, uint(2), latest)

	v, dirty, err := db.MigrateVersion(migrations)
	require.NoError(t, err)
	assert.False(t, dirty)
	assert.Equal(t, latest, v)

	// Re-running is a no-op.
	require.NoError(t, db.MigrateUp(migrations))
}

func TestMigrations_DownAndUp(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	migrations, err := getMigrationsFS()
	require.NoError(t, err)

	require.NoError(t, db.MigrateDown(migrations))
	v, _, err := db.MigrateVersion(migrations)
	require.NoError(t, err)
	assert.Equal(t, uint(1), v)

	_, err = db.RecentCorrections(context.Background(), 10)
	assert.Error(t, err, "the correction log table is gone")

	require.NoError(t, db.MigrateUp(migrations))
	_, err = db.RecentCorrections(context.Background(), 10)
	assert.NoError(t, err)
}

func TestMigrations_Force(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	migrations, err := getMigrationsFS()
	require.NoError(t, err)

	require.NoError(t, db.MigrateForce(migrations, 1))
	v, dirty, err := db.MigrateVersion(migrations)
	require.NoError(t, err)
	assert.False(t, dirty)
	assert.Equal(t, uint(1), v)
}

func TestMigrations_Dirty(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	migrations, err := getMigrationsFS()
	require.NoError(t, err)

	s, err := db.Schema()
	require.NoError(t, err)
	assert.Equal(t, SchemaStatus{Version: 2, Latest: 2}, s)
	assert.Equal(t, "2", s.String())

	_, err = db.Exec("UPDATE schema_migrations SET dirty = 1")
	require.NoError(t, err)
	s, err = db.Schema()
	require.NoError(t, err)
	assert.Equal(t, "2 (dirty)", s.String())
	assert.ErrorIs(t, db.MigrateUp(migrations), ErrDirtySchema)

	require.NoError(t, db.MigrateForce(migrations, 1))
	s, err = db.Schema()
	require.NoError(t, err)
	assert.Equal(t, "1 (latest 2)", s.String())
	require.NoError(t, db.MigrateUp(migrations))
}

func TestLatestMigrationVersion(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		files   fstest.MapFS
		want    uint
		wantErr bool
	}{
		{
			name: "picks the highest up file",
			files: fstest.MapFS{
				"000001_a.up.sql":   {},
				"000001_a.down.sql": {},
				"000007_b.up.sql":   {},
				"000003_c.up.sql":   {},
			},
			want: 7,
		},
		{name: "empty", files: fstest.MapFS{}, wantErr: true},
		{name: "unnumbered", files: fstest.MapFS{"init.up.sql": {}}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := LatestMigrationVersion(tt.files)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// ----------------------------------------------------------------------------
// Pastures
// ----------------------------------------------------------------------------

func TestPastures_SaveAndLoad(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	ctx := context.Background()

	want := testutil.SquareWithHole(3)
	require.NoError(t, db.SavePasture(ctx, want))

	got, err := db.LoadPasture(ctx, 3)
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("LoadPasture mismatch (-want +got):\n%s", diff)
	}
	assert.NoError(t, got.VerifyChecksum(), "a stored pasture keeps its checksum")

	_, err = db.LoadPasture(ctx, 4)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, db.SavePasture(ctx, nil), fence.ErrInvalidPasture)
}

func TestPastures_KeepsCorruptChecksum(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	ctx := context.Background()

	p := testutil.SquareWithHole(5)
	p.Checksum ^= 1
	require.NoError(t, db.SavePasture(ctx, p))

	got, err := db.LoadPasture(ctx, 5)
	require.NoError(t, err)
	assert.ErrorIs(t, got.VerifyChecksum(), fence.ErrChecksumMismatch)
}

func TestPastures_CorruptBlob(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	ctx := context.Background()

	_, err := db.Exec(`INSERT INTO pastures (version, checksum, fence_count, body) VALUES (9, 0, 0, ?)`, []byte{0xff, 0x00})
	require.NoError(t, err)

	_, err = db.LoadPasture(ctx, 9)
	assert.ErrorIs(t, err, fence.ErrInvalidPasture)
}

func TestPastures_LatestListPrune(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	ctx := context.Background()

	_, ok, err := db.LatestPastureVersion(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	for _, v := range []uint32{2, 7, 4} {
		require.NoError(t, db.SavePasture(ctx, testutil.BigSquare(v, 100)))
	}
	latest, ok, err := db.LatestPastureVersion(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint32(7), latest)

	list, err := db.ListPastures(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []uint32{7, 4, 2}, []uint32{list[0].Version, list[1].Version, list[2].Version})
	assert.Equal(t, 1, list[0].FenceCount)
	assert.Positive(t, list[0].Size)

	n, err := db.PrunePastures(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	_, err = db.LoadPasture(ctx, 2)
	assert.ErrorIs(t, err, ErrNotFound)
}

// ----------------------------------------------------------------------------
// Counters and settings
// ----------------------------------------------------------------------------

func TestCounters(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	ctx := context.Background()

	got, err := db.LoadCounters(ctx)
	require.NoError(t, err)
	assert.Equal(t, correction.Counters{}, got)

	first := correction.Counters{WarnCount: 3, ZapCount: 1, ZapCountDay: 1, ZapDay: "2026-10-19", ZapPain: 1}
	require.NoError(t, db.SaveCounters(first))
	second := first
	second.WarnCount, second.ZapPain = 4, 0
	require.NoError(t, db.SaveCounters(second))

	got, err = db.LoadCounters(ctx)
	require.NoError(t, err)
	assert.Equal(t, second, got)

	var rows int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM counters`).Scan(&rows))
	assert.Equal(t, 1, rows)
}

func TestKeepMode(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	ctx := context.Background()

	keep, err := db.KeepMode(ctx)
	require.NoError(t, err)
	assert.False(t, keep, "unset means restart in teach")

	require.NoError(t, db.SetKeepMode(ctx, true))
	keep, err = db.KeepMode(ctx)
	require.NoError(t, err)
	assert.True(t, keep)

	require.NoError(t, db.SetSetting(ctx, keyKeepMode, "maybe"))
	_, err = db.KeepMode(ctx)
	assert.Error(t, err)

	_, err = db.Setting(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

// ----------------------------------------------------------------------------
// Correction log
// ----------------------------------------------------------------------------

func TestLogCorrections(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	ctx := context.Background()

	at := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
	ch := make(chan events.Event, 8)
	ch <- events.CorrectionStarted{Episode: "e1", MeanDist: 12}
	ch <- events.ToneOn{}
	ch <- events.Zapped{Episode: "e1", Total: 5}
	ch <- events.CorrectionPaused{Episode: "e1", Reason: "moveback", MeanDist: 8}
	ch <- events.CorrectionStarted{Episode: "e1", Resumed: true, MeanDist: 14}
	ch <- events.CorrectionEnded{Episode: "e1", Reason: "inside"}
	close(ch)

	db.LogCorrections(ctx, ch, func() time.Time { return at })

	entries, err := db.RecentCorrections(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 5)

	var kinds []string
	for _, e := range entries {
		kinds = append(kinds, e.Kind)
		assert.Equal(t, "e1", e.Episode)
		assert.True(t, at.Equal(e.At))
	}
	assert.Equal(t, []string{"ended", "resumed", "paused", "zapped", "started"}, kinds)
	assert.Equal(t, "inside", entries[0].Reason)
	assert.Equal(t, uint32(5), entries[3].ZapTotal)
	assert.Equal(t, int16(8), entries[2].MeanDist)
	assert.Contains(t, entries[0].String(), "Kind: ended")

	limited, err := db.RecentCorrections(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestLogCorrections_StopsOnCancel(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		db.LogCorrections(ctx, make(chan events.Event), nil)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("LogCorrections did not stop")
	}
}

// ----------------------------------------------------------------------------
// Admin routes
// ----------------------------------------------------------------------------

func TestAttachAdminRoutes(t *testing.T) {
	t.Parallel()
	db := newTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.SavePasture(ctx, testutil.SquareWithHole(11)))
	require.NoError(t, db.RecordCorrection(ctx, CorrectionEntry{Episode: "e", Kind: "started", At: time.Unix(100, 0)}))

	mux := http.NewServeMux()
	db.AttachAdminRoutes(mux)

	t.Run("pastures", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, localHostRequest(http.MethodGet, "/debug/pastures"))
		require.Equal(t, http.StatusOK, rec.Code)

		var list []PastureInfo
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
		require.Len(t, list, 1)
		assert.Equal(t, uint32(11), list[0].Version)
		assert.Equal(t, 2, list[0].FenceCount)
	})

	t.Run("corrections", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, localHostRequest(http.MethodGet, "/debug/corrections"))
		require.Equal(t, http.StatusOK, rec.Code)

		var entries []CorrectionEntry
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
		require.Len(t, entries, 1)
		assert.Equal(t, "started", entries[0].Kind)
	})

	t.Run("backup", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, localHostRequest(http.MethodGet, "/debug/backup"))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))

		zr, err := gzip.NewReader(rec.Body)
		require.NoError(t, err)
		body, err := io.ReadAll(zr)
		require.NoError(t, err)
		assert.Equal(t, "SQLite format 3\x00", string(body[:16]))
	})
}
