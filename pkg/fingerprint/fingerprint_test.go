package fingerprint

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Ramsey-B/clover/pkg/models"
)

func record(points ...models.SnapshotPoint) models.NormalizedRecord {
	return models.NormalizedRecord{
		Title:       "clip",
		ContentType: models.ContentTypeVideo,
		PublishTime: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Snapshots:   points,
	}
}

func TestGenerate_Deterministic(t *testing.T) {
	batch := map[string]models.NormalizedRecord{
		"a": record(models.SnapshotPoint{Earnings: 12.34, QualifiedViews: 500, SecondsViewed: 9000}),
		"b": record(models.SnapshotPoint{Earnings: 1.5, QualifiedViews: 20, SecondsViewed: 300}),
	}

	first := Generate(batch)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Generate(batch))
	}
	assert.Len(t, first, 64)
}

func TestGenerate_OrderIndependent(t *testing.T) {
	// Same logical batch built in different insertion orders must hash the same
	a := map[string]models.NormalizedRecord{
		"x": record(models.SnapshotPoint{Earnings: 3, QualifiedViews: 1, SecondsViewed: 1}),
		"y": record(models.SnapshotPoint{Earnings: 4, QualifiedViews: 2, SecondsViewed: 2}),
	}
	b := map[string]models.NormalizedRecord{
		"y": record(models.SnapshotPoint{Earnings: 4, QualifiedViews: 2, SecondsViewed: 2}),
		"x": record(models.SnapshotPoint{Earnings: 3, QualifiedViews: 1, SecondsViewed: 1}),
	}

	assert.Equal(t, Generate(a), Generate(b))
}

func TestGenerate_ValueSensitive(t *testing.T) {
	base := map[string]models.NormalizedRecord{
		"a": record(models.SnapshotPoint{Earnings: 12.34, QualifiedViews: 500, SecondsViewed: 9000}),
	}
	changed := map[string]models.NormalizedRecord{
		"a": record(models.SnapshotPoint{Earnings: 12.35, QualifiedViews: 500, SecondsViewed: 9000}),
	}

	assert.NotEqual(t, Generate(base), Generate(changed))
}

func TestGenerate_SubCentNoise(t *testing.T) {
	a := map[string]models.NormalizedRecord{
		"a": record(models.SnapshotPoint{Earnings: 12.340001, QualifiedViews: 500, SecondsViewed: 9000}),
	}
	b := map[string]models.NormalizedRecord{
		"a": record(models.SnapshotPoint{Earnings: 12.34, QualifiedViews: 500, SecondsViewed: 9000}),
	}

	assert.Equal(t, Generate(a), Generate(b))
}

func TestGenerate_UsesLatestPoint(t *testing.T) {
	multi := map[string]models.NormalizedRecord{
		"a": record(
			models.SnapshotPoint{Date: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), Earnings: 1, QualifiedViews: 10, SecondsViewed: 100},
			models.SnapshotPoint{Date: time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC), Earnings: 2, QualifiedViews: 20, SecondsViewed: 200},
		),
	}
	latestOnly := map[string]models.NormalizedRecord{
		"a": record(
			models.SnapshotPoint{Date: time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC), Earnings: 2, QualifiedViews: 20, SecondsViewed: 200},
		),
	}

	assert.Equal(t, Generate(latestOnly), Generate(multi))
}

func TestTupleLine(t *testing.T) {
	assert.Equal(t, "p1|12.34|500|9000", TupleLine("p1", 12.34, 500, 9000))
	assert.Equal(t, "p1|0.00|0|0", TupleLine("p1", 0, 0, 0))
}
