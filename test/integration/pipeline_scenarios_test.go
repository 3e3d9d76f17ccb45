package integration

import (
	"context"
	"database/sql"
	"sort"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	snapshotrepo "github.com/Ramsey-B/clover/internal/repositories/snapshot"
	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/delta"
	"github.com/Ramsey-B/clover/pkg/duplicate"
	"github.com/Ramsey-B/clover/pkg/ingest"
	"github.com/Ramsey-B/clover/pkg/lineage"
	"github.com/Ramsey-B/clover/pkg/models"
)

// memStore is an in-memory stand-in for the PostgreSQL repositories. It
// mirrors their conflict semantics (keyed upserts, conditional snapshot
// overwrite, insert-once deltas) so the engines can be exercised end to end
// without a database.
type memStore struct {
	items      map[string]*models.ContentItem
	snapshots  map[string]map[time.Time]*models.Snapshot
	iterations map[string]*models.IterationRecord
	deltas     map[string]models.Delta
}

func newMemStore() *memStore {
	return &memStore{
		items:      map[string]*models.ContentItem{},
		snapshots:  map[string]map[time.Time]*models.Snapshot{},
		iterations: map[string]*models.IterationRecord{},
		deltas:     map[string]models.Delta{},
	}
}

func (s *memStore) Get(ctx context.Context, id string) (*models.ContentItem, error) {
	return s.items[id], nil
}

func (s *memStore) Insert(ctx context.Context, item *models.ContentItem) (bool, error) {
	if _, ok := s.items[item.ID]; ok {
		return false, nil
	}
	s.items[item.ID] = item
	return true, nil
}

func (s *memStore) MergeRollups(ctx context.Context, id string, views int64, viewsSource, tags, ownerID *string) error {
	item := s.items[id]
	if views > item.LifetimeViews {
		item.LifetimeViews = views
	}
	if item.Tags == nil {
		item.Tags = tags
	}
	if item.OwnerID == nil {
		item.OwnerID = ownerID
	}
	return nil
}

func (s *memStore) FindRemovedByTitleAndType(ctx context.Context, title string, contentType models.ContentType, before time.Time) ([]models.ContentItem, error) {
	var out []models.ContentItem
	for _, item := range s.items {
		if item.Status == models.ContentStatusRemoved &&
			item.Title == title &&
			item.ContentType == contentType &&
			item.PublishTime.Before(before) {
			out = append(out, *item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IterationNumber > out[j].IterationNumber })
	return out, nil
}

func (s *memStore) markRemoved(id string, when time.Time) {
	item := s.items[id]
	item.Status = models.ContentStatusRemoved
	item.RemovedDate = &when
}

func (s *memStore) Upsert(ctx context.Context, snap *models.Snapshot) (*snapshotrepo.UpsertResult, error) {
	day := models.Day(snap.SnapshotDate)
	byDay, ok := s.snapshots[snap.ItemID]
	if !ok {
		byDay = map[time.Time]*models.Snapshot{}
		s.snapshots[snap.ItemID] = byDay
	}
	stored := *snap
	stored.SnapshotDate = day

	if _, exists := byDay[day]; !exists {
		byDay[day] = &stored
		return &snapshotrepo.UpsertResult{Snapshot: &stored, IsNew: true}, nil
	}
	if snap.Source != models.SnapshotSourceSync {
		// manual uploads never overwrite an existing day
		return &snapshotrepo.UpsertResult{}, nil
	}
	byDay[day] = &stored
	return &snapshotrepo.UpsertResult{Snapshot: &stored, Updated: true}, nil
}

func (s *memStore) ListForItems(ctx context.Context, itemIDs []string) ([]models.Snapshot, error) {
	var out []models.Snapshot
	for _, id := range itemIDs {
		for _, snap := range s.snapshots[id] {
			out = append(out, *snap)
		}
	}
	return out, nil
}

func (s *memStore) LatestPairs(ctx context.Context) ([]models.SnapshotPair, error) {
	var pairs []models.SnapshotPair
	for itemID, byDay := range s.snapshots {
		if len(byDay) < 2 {
			continue
		}
		snaps := make([]models.Snapshot, 0, len(byDay))
		for _, snap := range byDay {
			snaps = append(snaps, *snap)
		}
		sort.Slice(snaps, func(i, j int) bool { return snaps[i].SnapshotDate.After(snaps[j].SnapshotDate) })
		pairs = append(pairs, models.SnapshotPair{
			ItemID:   itemID,
			Current:  snaps[0],
			Previous: snaps[1],
		})
	}
	return pairs, nil
}

func (s *memStore) Create(ctx context.Context, rec *models.IterationRecord) error {
	if _, ok := s.iterations[rec.CurrentItemID]; ok {
		return nil
	}
	s.iterations[rec.CurrentItemID] = rec
	return nil
}

func deltaKey(d *models.Delta) string {
	return d.ItemID + "|" + d.FromDate.Format(time.DateOnly) + "|" + d.ToDate.Format(time.DateOnly)
}

func (s *memStore) InsertDelta(ctx context.Context, d *models.Delta) (bool, error) {
	if _, ok := s.deltas[deltaKey(d)]; ok {
		return false, nil
	}
	s.deltas[deltaKey(d)] = *d
	return true, nil
}

// deltaStore adapts memStore to the calculator's insert surface
type deltaStore struct{ *memStore }

func (d deltaStore) Insert(ctx context.Context, rec *models.Delta) (bool, error) {
	return d.InsertDelta(ctx, rec)
}

func (d deltaStore) Count(ctx context.Context) (int, error) {
	return len(d.deltas), nil
}

type memTx struct {
	database.Tx
}

func (t *memTx) IsOpen() bool                       { return true }
func (t *memTx) Commit(ctx context.Context) error   { return nil }
func (t *memTx) Rollback(ctx context.Context) error { return nil }

type memDB struct {
	database.DB
}

func (db *memDB) PingContext(ctx context.Context) error { return nil }

func (db *memDB) GetTx(ctx context.Context, opts *sql.TxOptions) (context.Context, database.Tx, error) {
	return ctx, &memTx{}, nil
}

type pipeline struct {
	store      *memStore
	ingestor   *ingest.Ingestor
	calculator *delta.Calculator
	detector   *duplicate.Detector
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	store := newMemStore()
	linker := lineage.NewLinker(store, logger)
	return &pipeline{
		store:      store,
		ingestor:   ingest.NewIngestor(&memDB{}, store, store, store, linker, nil, nil, logger),
		calculator: delta.NewCalculator(store, deltaStore{store}, nil, logger),
		detector:   duplicate.NewDetector(store, logger),
	}
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func uploadRecord(title string, publish, snapDate time.Time, earnings float64, qualifiedViews int64) models.NormalizedRecord {
	return models.NormalizedRecord{
		Title:       title,
		ContentType: models.ContentTypeVideo,
		PublishTime: publish,
		Snapshots: []models.SnapshotPoint{{
			Date:           snapDate,
			Earnings:       earnings,
			QualifiedViews: qualifiedViews,
			SecondsViewed:  qualifiedViews * 30,
		}},
	}
}

func TestPipeline_TakedownAndReuploadBuildsLineage(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	// first upload of the video
	_, err := p.ingestor.Ingest(ctx, map[string]models.NormalizedRecord{
		"v1": uploadRecord("Morning Routine", day(2024, 1, 1), day(2024, 1, 10), 10.00, 1000),
	}, day(2024, 1, 10))
	require.NoError(t, err)
	assert.Equal(t, 1, p.store.items["v1"].IterationNumber)

	// the platform takes it down; it is later re-uploaded under a new id
	p.store.markRemoved("v1", day(2024, 2, 1))

	result, err := p.ingestor.Ingest(ctx, map[string]models.NormalizedRecord{
		"v2": uploadRecord("Morning Routine", day(2024, 2, 5), day(2024, 2, 10), 2.00, 50),
	}, day(2024, 2, 10))
	require.NoError(t, err)
	assert.Equal(t, 1, result.CreatedItems)

	v2 := p.store.items["v2"]
	assert.Equal(t, 2, v2.IterationNumber)
	require.NotNil(t, v2.OriginalItemID)
	assert.Equal(t, "v1", *v2.OriginalItemID)
	require.NotNil(t, v2.PreviousIterationID)
	assert.Equal(t, "v1", *v2.PreviousIterationID)

	// second takedown and re-upload: the chain keeps pointing at the root
	p.store.markRemoved("v2", day(2024, 3, 1))

	_, err = p.ingestor.Ingest(ctx, map[string]models.NormalizedRecord{
		"v3": uploadRecord("Morning Routine", day(2024, 3, 5), day(2024, 3, 10), 1.00, 20),
	}, day(2024, 3, 10))
	require.NoError(t, err)

	v3 := p.store.items["v3"]
	assert.Equal(t, 3, v3.IterationNumber)
	assert.Equal(t, "v1", *v3.OriginalItemID)
	assert.Equal(t, "v2", *v3.PreviousIterationID)

	// every iteration left an audit record
	assert.Len(t, p.store.iterations, 3)
	assert.Equal(t, 3, p.store.iterations["v3"].IterationNumber)
	assert.Equal(t, "v1", p.store.iterations["v3"].OriginalItemID)
}

func TestPipeline_SameTitleDifferentTypeStartsFreshLineage(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	photo := uploadRecord("Funny Clip", day(2024, 1, 1), day(2024, 1, 10), 3.00, 200)
	photo.ContentType = models.ContentTypePhoto
	_, err := p.ingestor.Ingest(ctx, map[string]models.NormalizedRecord{"ph1": photo}, day(2024, 1, 10))
	require.NoError(t, err)

	p.store.markRemoved("ph1", day(2024, 2, 1))

	// a video sharing the removed photo's title is unrelated content
	_, err = p.ingestor.Ingest(ctx, map[string]models.NormalizedRecord{
		"vid1": uploadRecord("Funny Clip", day(2024, 2, 5), day(2024, 2, 10), 1.00, 40),
	}, day(2024, 2, 10))
	require.NoError(t, err)

	vid := p.store.items["vid1"]
	require.NotNil(t, vid)
	assert.Equal(t, 1, vid.IterationNumber)
	assert.Nil(t, vid.OriginalItemID)
	assert.Nil(t, vid.PreviousIterationID)
	assert.Equal(t, 1, p.store.iterations["vid1"].IterationNumber)
}

func TestPipeline_ConsecutiveUploadsMaterializeDeltas(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	_, err := p.ingestor.Ingest(ctx, map[string]models.NormalizedRecord{
		"v1": uploadRecord("Clip", day(2024, 1, 1), day(2024, 3, 1), 10.00, 1000),
	}, day(2024, 3, 1))
	require.NoError(t, err)

	// one snapshot is not enough for a delta
	created, err := p.calculator.Recompute(ctx)
	require.NoError(t, err)
	assert.Empty(t, created)

	_, err = p.ingestor.Ingest(ctx, map[string]models.NormalizedRecord{
		"v1": uploadRecord("Clip", day(2024, 1, 1), day(2024, 3, 2), 12.50, 1100),
	}, day(2024, 3, 2))
	require.NoError(t, err)

	created, err = p.calculator.Recompute(ctx)
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.InDelta(t, 2.50, created[0].EarningsDelta, 1e-9)
	assert.Equal(t, int64(100), created[0].QualifiedViewsDelta)

	// recompute is idempotent over the same pair
	created, err = p.calculator.Recompute(ctx)
	require.NoError(t, err)
	assert.Empty(t, created)
	assert.Len(t, p.store.deltas, 1)
}

func TestPipeline_DuplicateUploadIsFlaggedBeforeIngest(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	batch := map[string]models.NormalizedRecord{}
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		batch["v_"+id] = uploadRecord("Clip "+id, day(2024, 1, 1), day(2024, 3, 9), 5.00, 100)
	}
	_, err := p.ingestor.Ingest(ctx, batch, day(2024, 3, 9))
	require.NoError(t, err)

	// the same export re-uploaded with the next day's date
	reupload := map[string]models.NormalizedRecord{}
	for id, record := range batch {
		record.Snapshots[0].Date = day(2024, 3, 10)
		reupload[id] = record
	}

	check, err := p.detector.CheckDuplicate(ctx, reupload, day(2024, 3, 10))
	require.NoError(t, err)
	assert.True(t, check.IsDuplicate)
	require.NotNil(t, check.ExistingDate)
	assert.Equal(t, day(2024, 3, 9), *check.ExistingDate)
	assert.Equal(t, 100, check.MatchScorePercent)

	// the same values under the original date are a legitimate re-send
	check, err = p.detector.CheckDuplicate(ctx, batch, day(2024, 3, 9))
	require.NoError(t, err)
	assert.False(t, check.IsDuplicate)
}

func TestPipeline_ManualUploadNeverOverwritesStoredDay(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	_, err := p.ingestor.Ingest(ctx, map[string]models.NormalizedRecord{
		"v1": uploadRecord("Clip", day(2024, 1, 1), day(2024, 3, 1), 10.00, 1000),
	}, day(2024, 3, 1))
	require.NoError(t, err)

	// a second manual upload for the same day is ignored
	result, err := p.ingestor.Ingest(ctx, map[string]models.NormalizedRecord{
		"v1": uploadRecord("Clip", day(2024, 1, 1), day(2024, 3, 1), 99.00, 9999),
	}, day(2024, 3, 1))
	require.NoError(t, err)
	assert.Equal(t, 0, result.CreatedSnapshots)
	assert.Equal(t, 0, result.UpdatedSnapshots)
	assert.InDelta(t, 10.00, p.store.snapshots["v1"][day(2024, 3, 1)].LifetimeEarnings, 1e-9)

	// a platform sync for the same day is authoritative and overwrites
	synced := uploadRecord("Clip", day(2024, 1, 1), day(2024, 3, 1), 11.00, 1050)
	synced.Source = models.SnapshotSourceSync
	result, err = p.ingestor.Ingest(ctx, map[string]models.NormalizedRecord{"v1": synced}, day(2024, 3, 1))
	require.NoError(t, err)
	assert.Equal(t, 1, result.UpdatedSnapshots)
	assert.InDelta(t, 11.00, p.store.snapshots["v1"][day(2024, 3, 1)].LifetimeEarnings, 1e-9)
}

func TestPipeline_BackfilledSnapshotYieldsNewPair(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	for _, d := range []int{1, 5} {
		_, err := p.ingestor.Ingest(ctx, map[string]models.NormalizedRecord{
			"v1": uploadRecord("Clip", day(2024, 1, 1), day(2024, 3, d), float64(d), int64(d*100)),
		}, day(2024, 3, d))
		require.NoError(t, err)
	}

	created, err := p.calculator.Recompute(ctx)
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, day(2024, 3, 1), created[0].FromDate)
	assert.Equal(t, day(2024, 3, 5), created[0].ToDate)

	// backfill March 3rd; the next pass pairs the 3rd with the 5th and the
	// old 1st→5th delta stays on file
	_, err = p.ingestor.Ingest(ctx, map[string]models.NormalizedRecord{
		"v1": uploadRecord("Clip", day(2024, 1, 1), day(2024, 3, 3), 3.00, 300),
	}, day(2024, 3, 3))
	require.NoError(t, err)

	created, err = p.calculator.Recompute(ctx)
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, day(2024, 3, 3), created[0].FromDate)
	assert.Equal(t, day(2024, 3, 5), created[0].ToDate)
	assert.Len(t, p.store.deltas, 2)
}
