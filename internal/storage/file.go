package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"signalbot/pkg/types"
)

// FileStore persists the storage contract to JSON files in a directory,
// using the teacher's internal/store.Store atomic write-then-rename pattern
// (write to .tmp, then rename) so a crash mid-write never corrupts state.
// Intended as the no-Postgres fallback deployment mode (spec §10.3's
// dual-mode StoreConfig).
type FileStore struct {
	dir string
	mu  sync.Mutex

	signals   []fileSignal
	jobs      []Job
	anomalies []ActiveAnomaly
	nextJobID int64
}

type fileSignal struct {
	Symbol          string         `json:"symbol"`
	SignalType      string         `json:"signal_type"`
	Side            string         `json:"side"`
	Price           string         `json:"price"`
	Confidence      string         `json:"confidence"`
	TakeProfit      string         `json:"take_profit"`
	StopLoss        string         `json:"stop_loss"`
	DetectorKind    string         `json:"detector_kind"`
	CorrelatedCount int            `json:"correlated_count"`
	Data            map[string]any `json:"data,omitempty"`
	ConfirmedAtMs   int64          `json:"confirmed_at_ms"`
}

// OpenFileStore creates a FileStore backed by dir, loading any existing
// state written by a prior run.
func OpenFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	fs := &FileStore{dir: dir}
	if err := fs.load(); err != nil {
		return nil, err
	}
	return fs, nil
}

func (s *FileStore) load() error {
	if err := readJSONFile(filepath.Join(s.dir, "signals.json"), &s.signals); err != nil {
		return err
	}
	if err := readJSONFile(filepath.Join(s.dir, "jobs.json"), &s.jobs); err != nil {
		return err
	}
	if err := readJSONFile(filepath.Join(s.dir, "anomalies.json"), &s.anomalies); err != nil {
		return err
	}
	for _, job := range s.jobs {
		if job.ID >= s.nextJobID {
			s.nextJobID = job.ID + 1
		}
	}
	return nil
}

func readJSONFile(path string, dest any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("unmarshal %s: %w", path, err)
	}
	return nil
}

// writeAtomic writes data to path via a .tmp file then rename, matching the
// teacher's SavePosition crash-safety guarantee.
func writeAtomic(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return os.Rename(tmp, path)
}

func (s *FileStore) SaveSignalHistory(ctx context.Context, signal types.ConfirmedSignal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.signals = append(s.signals, fileSignal{
		Symbol:          signal.Processed.Candidate.Symbol,
		SignalType:      string(signal.Processed.Candidate.Type),
		Side:            string(signal.Side),
		Price:           signal.Processed.Candidate.Price.String(),
		Confidence:      signal.FinalConfidence.String(),
		TakeProfit:      signal.TakeProfit.String(),
		StopLoss:        signal.StopLoss.String(),
		DetectorKind:    signal.Processed.DetectorKind,
		CorrelatedCount: signal.Correlation.CorrelatedCount,
		Data:            signal.Processed.Candidate.Data,
		ConfirmedAtMs:   signal.ConfirmedAt,
	})
	return writeAtomic(filepath.Join(s.dir, "signals.json"), s.signals)
}

func (s *FileStore) GetRecentSignals(ctx context.Context, sinceMs int64, limit int) ([]types.ConfirmedSignal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	matched := make([]fileSignal, 0, len(s.signals))
	for _, sig := range s.signals {
		if sig.ConfirmedAtMs >= sinceMs {
			matched = append(matched, sig)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ConfirmedAtMs > matched[j].ConfirmedAtMs })
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}

	out := make([]types.ConfirmedSignal, 0, len(matched))
	for _, sig := range matched {
		price, _ := decimal.NewFromString(sig.Price)
		confidence, _ := decimal.NewFromString(sig.Confidence)
		takeProfit, _ := decimal.NewFromString(sig.TakeProfit)
		stopLoss, _ := decimal.NewFromString(sig.StopLoss)
		out = append(out, types.ConfirmedSignal{
			Processed: types.ProcessedSignal{
				Candidate: types.SignalCandidate{
					Type:   types.SignalType(sig.SignalType),
					Side:   types.Side(sig.Side),
					Price:  price,
					Symbol: sig.Symbol,
					Data:   sig.Data,
				},
				DetectorKind: sig.DetectorKind,
			},
			FinalConfidence: confidence,
			Correlation:     types.CorrelationStats{CorrelatedCount: sig.CorrelatedCount},
			Side:            types.Side(sig.Side),
			TakeProfit:      takeProfit,
			StopLoss:        stopLoss,
			ConfirmedAt:     sig.ConfirmedAtMs,
		})
	}
	return out, nil
}

func (s *FileStore) PurgeSignalHistory(ctx context.Context, olderThan time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := olderThan.UnixMilli()
	kept := s.signals[:0]
	for _, sig := range s.signals {
		if sig.ConfirmedAtMs >= cutoff {
			kept = append(kept, sig)
		}
	}
	s.signals = kept
	return writeAtomic(filepath.Join(s.dir, "signals.json"), s.signals)
}

func (s *FileStore) PurgeSignalHistoryExcess(ctx context.Context, keep int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if keep <= 0 || len(s.signals) <= keep {
		return nil
	}
	sort.Slice(s.signals, func(i, j int) bool { return s.signals[i].ConfirmedAtMs < s.signals[j].ConfirmedAtMs })
	s.signals = s.signals[len(s.signals)-keep:]
	return writeAtomic(filepath.Join(s.dir, "signals.json"), s.signals)
}

func (s *FileStore) EnqueueJob(ctx context.Context, kind string, payload map[string]any) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextJobID
	s.nextJobID++
	s.jobs = append(s.jobs, Job{ID: id, Kind: kind, Payload: payload, EnqueuedAt: time.Now()})
	return id, writeAtomic(filepath.Join(s.dir, "jobs.json"), s.jobs)
}

func (s *FileStore) DequeueJobs(ctx context.Context, limit int) ([]Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if job.CompletedAt == nil {
			pending = append(pending, job)
		}
	}
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

func (s *FileStore) MarkJobCompleted(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for i := range s.jobs {
		if s.jobs[i].ID == id {
			s.jobs[i].CompletedAt = &now
			return writeAtomic(filepath.Join(s.dir, "jobs.json"), s.jobs)
		}
	}
	return fmt.Errorf("job %d not found", id)
}

func (s *FileStore) SaveActiveAnomaly(ctx context.Context, anomaly ActiveAnomaly) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.anomalies {
		if s.anomalies[i].ID == anomaly.ID {
			s.anomalies[i] = anomaly
			return writeAtomic(filepath.Join(s.dir, "anomalies.json"), s.anomalies)
		}
	}
	s.anomalies = append(s.anomalies, anomaly)
	return writeAtomic(filepath.Join(s.dir, "anomalies.json"), s.anomalies)
}

func (s *FileStore) RemoveActiveAnomaly(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.anomalies[:0]
	for _, a := range s.anomalies {
		if a.ID != id {
			kept = append(kept, a)
		}
	}
	s.anomalies = kept
	return writeAtomic(filepath.Join(s.dir, "anomalies.json"), s.anomalies)
}

func (s *FileStore) GetActiveAnomalies(ctx context.Context) ([]ActiveAnomaly, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ActiveAnomaly, len(s.anomalies))
	copy(out, s.anomalies)
	return out, nil
}

// Close is a no-op for file-based storage, matching the teacher's Store.Close.
func (s *FileStore) Close() error {
	return nil
}
