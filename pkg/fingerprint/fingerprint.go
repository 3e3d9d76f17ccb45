// Package fingerprint computes deterministic digests of uploaded metric
// batches, used by the duplicate-upload advisory check.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"

	"github.com/Ramsey-B/clover/pkg/models"
)

// Generate creates a deterministic fingerprint for a batch of normalized
// records. Each item contributes one tuple line built from its latest
// snapshot point; lines are sorted lexicographically before hashing so the
// digest is independent of map iteration order.
func Generate(batch map[string]models.NormalizedRecord) string {
	lines := make([]string, 0, len(batch))
	for itemID, record := range batch {
		point := record.LatestSnapshot()
		if point == nil {
			lines = append(lines, TupleLine(itemID, 0, 0, 0))
			continue
		}
		lines = append(lines, TupleLine(itemID, point.Earnings, point.QualifiedViews, point.SecondsViewed))
	}
	sort.Strings(lines)

	hash := sha256.Sum256([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(hash[:])
}

// TupleLine builds the canonical per-item line. Earnings are fixed to two
// decimal places so floating-point noise below a cent never changes the
// digest.
func TupleLine(itemID string, earnings float64, qualifiedViews, secondsViewed int64) string {
	var sb strings.Builder
	sb.WriteString(itemID)
	sb.WriteByte('|')
	sb.WriteString(strconv.FormatFloat(earnings, 'f', 2, 64))
	sb.WriteByte('|')
	sb.WriteString(strconv.FormatInt(qualifiedViews, 10))
	sb.WriteByte('|')
	sb.WriteString(strconv.FormatInt(secondsViewed, 10))
	return sb.String()
}
