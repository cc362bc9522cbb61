package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"

	"github.com/agrovista/satreport/internal/model"
)

// CacheKey derives the content-addressed key for a provider statistics
// request. The same field, date window and index set always map to the
// same key regardless of index ordering or casing.
func CacheKey(fieldID string, dateStart, dateEnd time.Time, indices []model.IndexName) string {
	norm := make([]string, 0, len(indices))
	seen := make(map[string]bool, len(indices))
	for _, idx := range indices {
		u := strings.ToUpper(strings.TrimSpace(string(idx)))
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		norm = append(norm, u)
	}
	sort.Strings(norm)

	canonical := fieldID + "|" +
		dateStart.UTC().Format("2006-01-02") + "|" +
		dateEnd.UTC().Format("2006-01-02") + "|" +
		strings.Join(norm, ",")

	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// NarrativeKey derives the cache key for a generated narrative. It is
// bound to the parcel, the reporting window and the timestamp of the
// freshest monthly row, so new satellite data invalidates the entry.
func NarrativeKey(parcelID string, dateStart, dateEnd, latestUpdate time.Time) string {
	canonical := "narrative|" + parcelID + "|" +
		dateStart.UTC().Format("2006-01-02") + "|" +
		dateEnd.UTC().Format("2006-01-02") + "|" +
		latestUpdate.UTC().Format(time.RFC3339)
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}
