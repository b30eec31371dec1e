package mergerag

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// nodeNamespace scopes name-based node ids so they never collide with ids
// minted by other uuid.NewSHA1 users.
var nodeNamespace = uuid.MustParse("6f1d3c52-8a0e-4b7e-9d41-2f5c7a9e0b13")

// NewID generates a globally unique, time-sortable UUIDv7 (RFC 9562).
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// NodeID derives a stable node id from the node's position and content.
// Rebuilding the same document with the same chunking parameters yields the
// same ids, which keeps persisted indexes and vector hits comparable.
func NodeID(seed string, level, start, end int, text string) string {
	name := fmt.Sprintf("%s\x00%d\x00%d\x00%d\x00%s", seed, level, start, end, text)
	return uuid.NewSHA1(nodeNamespace, []byte(name)).String()
}

// NowUnix returns current time as Unix seconds.
func NowUnix() int64 {
	return time.Now().Unix()
}
