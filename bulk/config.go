package bulk

import "time"

// Config carries the externally-supplied, per-round knobs: whether the
// round runs in application-broadcast (leader-aggregated) mode, and the
// deadline for each phase (§5 "Timeouts").
type Config struct {
	AppBroadcast    bool          `json:"app_broadcast"`
	ShuffleDeadline time.Duration `json:"shuffle_deadline"`
	DataDeadline    time.Duration `json:"data_deadline"`
}

// GetDataFunc supplies the local node's cleartext contribution for this
// round, chunked; hasMore is false once the final chunk has been returned.
type GetDataFunc func(maxBytes int) (data []byte, hasMore bool)
