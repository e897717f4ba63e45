package eventing

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"time"
)

// NewInstanceID returns a random hex identifier for a client connection.
func NewInstanceID() string {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return strconv.FormatInt(time.Now().UnixNano(), 16)
	}
	return hex.EncodeToString(buf[:])
}

// SnapshotMsgID is the broker dedup key of a snapshot: hub id plus the
// snapshot timestamp in nanoseconds.
func SnapshotMsgID(hubID string, ts time.Time) string {
	return hubID + ":" + strconv.FormatInt(ts.UnixNano(), 10)
}
