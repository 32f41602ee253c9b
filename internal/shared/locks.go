package shared

import (
	"fmt"
	"time"
)

// SnapshotLockKey names the critical section guarding one (product, day)
// cost snapshot.
func SnapshotLockKey(productID int64, day time.Time) string {
	return fmt.Sprintf("costing:snapshot:%d:%s:lock", productID, day.Format("2006-01-02"))
}
