// Package dashboard serves the pipeline's live state over HTTP/WebSocket for
// operator visibility. Adapted from the teacher's internal/api package: same
// Hub/Client broadcast mechanism and HTTP surface, repointed from
// market-making P&L/position state to signal-pipeline throughput and
// detector health.
package dashboard

import (
	"time"

	"signalbot/internal/config"
	"signalbot/internal/metrics"
	"signalbot/pkg/types"
)

// PipelineSnapshot represents the complete dashboard state: one frame of the
// signal pipeline's live condition, analogous to the teacher's
// DashboardSnapshot.
type PipelineSnapshot struct {
	Timestamp time.Time `json:"timestamp"`

	Detectors []types.DetectorStatus `json:"detectors"`

	Throughput ThroughputSummary `json:"throughput"`

	RecentConfirmed []types.SignalConfirmedEvent `json:"recent_confirmed"`
	RecentRejected  []types.SignalRejectedEvent  `json:"recent_rejected"`

	Config ConfigSummary `json:"config"`
}

// ThroughputSummary mirrors metrics.Snapshot for dashboard JSON exposure.
type ThroughputSummary struct {
	TradesIngested       int64                           `json:"trades_ingested"`
	DepthUpdatesIngested int64                            `json:"depth_updates_ingested"`
	TradesDropped        int64                            `json:"trades_dropped"`
	CandidatesGenerated  int64                            `json:"candidates_generated"`
	SignalsConfirmed     int64                            `json:"signals_confirmed"`
	SignalsRejected      int64                            `json:"signals_rejected"`
	RejectionsByReason   map[types.RejectionReason]int64  `json:"rejections_by_reason"`
	DetectorErrors       int64                            `json:"detector_errors"`
	UptimeSeconds        float64                          `json:"uptime_seconds"`
}

// NewThroughputSummary converts a metrics.Snapshot into its dashboard form.
func NewThroughputSummary(snap metrics.Snapshot) ThroughputSummary {
	return ThroughputSummary{
		TradesIngested:       snap.TradesIngested,
		DepthUpdatesIngested: snap.DepthUpdatesIngested,
		TradesDropped:        snap.TradesDropped,
		CandidatesGenerated:  snap.CandidatesGenerated,
		SignalsConfirmed:     snap.SignalsConfirmed,
		SignalsRejected:      snap.SignalsRejected,
		RejectionsByReason:   snap.RejectionsByReason,
		DetectorErrors:       snap.DetectorErrors,
		UptimeSeconds:        snap.SnapshotAt.Sub(snap.StartedAt).Seconds(),
	}
}

// ConfigSummary exposes the subset of running configuration useful for
// operator sanity-checking, matching the teacher's ConfigSummary shape.
type ConfigSummary struct {
	Symbol              string   `json:"symbol"`
	ConfidenceThreshold float64  `json:"confidence_threshold"`
	TakeProfitBps       float64  `json:"take_profit_bps"`
	StopLossBps         float64  `json:"stop_loss_bps"`
	AllowedOrigins      []string `json:"allowed_origins"`
}

// NewConfigSummary builds a ConfigSummary from the running configuration.
func NewConfigSummary(cfg config.Config) ConfigSummary {
	return ConfigSummary{
		Symbol:              cfg.Ingest.Symbol,
		ConfidenceThreshold: cfg.SignalManager.ConfidenceThreshold,
		TakeProfitBps:       cfg.SignalManager.TakeProfitBps,
		StopLossBps:         cfg.SignalManager.StopLossBps,
		AllowedOrigins:      cfg.Dashboard.AllowedOrigins,
	}
}
