package duplicate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/pkg/models"
)

type fakeSnapshotLister struct {
	snapshots []models.Snapshot
	err       error
	requested []string
}

func (f *fakeSnapshotLister) ListForItems(ctx context.Context, itemIDs []string) ([]models.Snapshot, error) {
	f.requested = itemIDs
	return f.snapshots, f.err
}

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func batchRecord(earnings float64, qualifiedViews int64) models.NormalizedRecord {
	return models.NormalizedRecord{
		Title:       "Video",
		ContentType: models.ContentTypeVideo,
		PublishTime: day(2024, 1, 1),
		Snapshots: []models.SnapshotPoint{{
			Date:           day(2024, 3, 10),
			Earnings:       earnings,
			QualifiedViews: qualifiedViews,
		}},
	}
}

func storedSnapshot(itemID string, date time.Time, earnings float64, qualifiedViews int64) models.Snapshot {
	return models.Snapshot{
		ItemID:                 itemID,
		SnapshotDate:           date,
		LifetimeEarnings:       earnings,
		LifetimeQualifiedViews: qualifiedViews,
	}
}

func TestCheckDuplicate_FlagsReuploadUnderNewDate(t *testing.T) {
	// all ten items already stored on March 9 with identical values
	batch := map[string]models.NormalizedRecord{}
	var stored []models.Snapshot
	for _, id := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"} {
		batch["p_"+id] = batchRecord(5.00, 100)
		stored = append(stored, storedSnapshot("p_"+id, day(2024, 3, 9), 5.00, 100))
	}

	lister := &fakeSnapshotLister{snapshots: stored}
	det := NewDetector(lister, testLogger())

	result, err := det.CheckDuplicate(context.Background(), batch, day(2024, 3, 10))
	require.NoError(t, err)

	assert.True(t, result.IsDuplicate)
	require.NotNil(t, result.ExistingDate)
	assert.Equal(t, day(2024, 3, 9), *result.ExistingDate)
	assert.Equal(t, day(2024, 3, 10), result.ProposedDate)
	assert.Equal(t, 100, result.MatchScorePercent)
	assert.NotEmpty(t, result.Fingerprint)
}

func TestCheckDuplicate_ExactThresholdIsNotDuplicate(t *testing.T) {
	// 9 of 10 matching is exactly 90%, which must NOT qualify
	batch := map[string]models.NormalizedRecord{}
	var stored []models.Snapshot
	for i, id := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"} {
		batch["p_"+id] = batchRecord(5.00, 100)
		earnings := 5.00
		if i == 0 {
			earnings = 9.99
		}
		stored = append(stored, storedSnapshot("p_"+id, day(2024, 3, 9), earnings, 100))
	}

	det := NewDetector(&fakeSnapshotLister{snapshots: stored}, testLogger())

	result, err := det.CheckDuplicate(context.Background(), batch, day(2024, 3, 10))
	require.NoError(t, err)
	assert.False(t, result.IsDuplicate)
	assert.Nil(t, result.ExistingDate)
}

func TestCheckDuplicate_MatchOnProposedDateIsClean(t *testing.T) {
	// re-posting the same values under the same date is an update, not a
	// duplicate
	batch := map[string]models.NormalizedRecord{
		"p1": batchRecord(5.00, 100),
		"p2": batchRecord(7.00, 200),
	}
	stored := []models.Snapshot{
		storedSnapshot("p1", day(2024, 3, 10), 5.00, 100),
		storedSnapshot("p2", day(2024, 3, 10), 7.00, 200),
	}

	det := NewDetector(&fakeSnapshotLister{snapshots: stored}, testLogger())

	proposed := time.Date(2024, 3, 10, 15, 30, 0, 0, time.UTC)
	result, err := det.CheckDuplicate(context.Background(), batch, proposed)
	require.NoError(t, err)
	assert.False(t, result.IsDuplicate)
}

func TestCheckDuplicate_SubCentEarningsStillMatch(t *testing.T) {
	batch := map[string]models.NormalizedRecord{
		"p1": batchRecord(5.004, 100),
		"p2": batchRecord(7.00, 200),
	}
	stored := []models.Snapshot{
		storedSnapshot("p1", day(2024, 3, 9), 5.00, 100),
		storedSnapshot("p2", day(2024, 3, 9), 7.00, 200),
	}

	det := NewDetector(&fakeSnapshotLister{snapshots: stored}, testLogger())

	result, err := det.CheckDuplicate(context.Background(), batch, day(2024, 3, 10))
	require.NoError(t, err)
	assert.True(t, result.IsDuplicate)
}

func TestCheckDuplicate_QualifiedViewsMustMatchExactly(t *testing.T) {
	batch := map[string]models.NormalizedRecord{
		"p1": batchRecord(5.00, 100),
	}
	stored := []models.Snapshot{
		storedSnapshot("p1", day(2024, 3, 9), 5.00, 101),
	}

	det := NewDetector(&fakeSnapshotLister{snapshots: stored}, testLogger())

	result, err := det.CheckDuplicate(context.Background(), batch, day(2024, 3, 10))
	require.NoError(t, err)
	assert.False(t, result.IsDuplicate)
}

func TestCheckDuplicate_NoHistoryIsClean(t *testing.T) {
	batch := map[string]models.NormalizedRecord{
		"p1": batchRecord(5.00, 100),
	}

	lister := &fakeSnapshotLister{}
	det := NewDetector(lister, testLogger())

	result, err := det.CheckDuplicate(context.Background(), batch, day(2024, 3, 10))
	require.NoError(t, err)
	assert.False(t, result.IsDuplicate)
	assert.NotEmpty(t, result.Fingerprint)
	assert.ElementsMatch(t, []string{"p1"}, lister.requested)
}

func TestCheckDuplicate_EmptyBatchSkipsStore(t *testing.T) {
	lister := &fakeSnapshotLister{}
	det := NewDetector(lister, testLogger())

	result, err := det.CheckDuplicate(context.Background(), map[string]models.NormalizedRecord{}, day(2024, 3, 10))
	require.NoError(t, err)
	assert.False(t, result.IsDuplicate)
	assert.NotEmpty(t, result.Fingerprint)
	assert.Nil(t, lister.requested)
}

func TestCheckDuplicate_StoreFailurePropagates(t *testing.T) {
	batch := map[string]models.NormalizedRecord{
		"p1": batchRecord(5.00, 100),
	}
	det := NewDetector(&fakeSnapshotLister{err: errors.New("timeout")}, testLogger())

	_, err := det.CheckDuplicate(context.Background(), batch, day(2024, 3, 10))
	require.Error(t, err)
}

func TestCheckDuplicate_PicksBestMatchingDate(t *testing.T) {
	batch := map[string]models.NormalizedRecord{
		"p1": batchRecord(5.00, 100),
		"p2": batchRecord(7.00, 200),
	}
	stored := []models.Snapshot{
		// March 8: one of two matches (50%) — below threshold
		storedSnapshot("p1", day(2024, 3, 8), 5.00, 100),
		storedSnapshot("p2", day(2024, 3, 8), 1.00, 1),
		// March 9: both match (100%)
		storedSnapshot("p1", day(2024, 3, 9), 5.00, 100),
		storedSnapshot("p2", day(2024, 3, 9), 7.00, 200),
	}

	det := NewDetector(&fakeSnapshotLister{snapshots: stored}, testLogger())

	result, err := det.CheckDuplicate(context.Background(), batch, day(2024, 3, 10))
	require.NoError(t, err)
	assert.True(t, result.IsDuplicate)
	require.NotNil(t, result.ExistingDate)
	assert.Equal(t, day(2024, 3, 9), *result.ExistingDate)
}
