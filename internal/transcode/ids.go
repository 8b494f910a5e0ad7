package transcode

import (
	"crypto/md5"
	"encoding/hex"
)

// TaskID derives a deterministic task identifier from a content key, so
// repeated requests for the same source map to the same task instead of
// spawning duplicate workers.
func TaskID(contentKey string) string {
	sum := md5.Sum([]byte(contentKey))
	return "task_" + hex.EncodeToString(sum[:])[:16]
}
