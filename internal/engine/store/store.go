// Package store implements the execution engine's in-memory record
// table plus optional append-only JSON-lines persistence (spec.md
// §4.10 step 7, §6's "Persisted state").
package store

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/relaygate/core/internal/engine/engerr"
	"github.com/relaygate/core/internal/engine/models"
	"github.com/relaygate/core/internal/platform/logging"
)

// Store holds every ExecutionRecord for the process lifetime, keyed by
// id, with an optional append-only persistence path.
type Store struct {
	mu      sync.RWMutex
	records map[string]*models.ExecutionRecord

	persistMu sync.Mutex
	persistTo string

	logger *logging.Logger
}

// New builds a Store. persistTo may be empty to disable persistence.
func New(persistTo string, logger *logging.Logger) *Store {
	return &Store{
		records:   make(map[string]*models.ExecutionRecord),
		persistTo: persistTo,
		logger:    logger,
	}
}

// Reachable reports whether the configured persistence path (if any)
// is still writable, for use as a readiness probe.
func (s *Store) Reachable() error {
	if s.persistTo == "" {
		return nil
	}
	f, err := os.OpenFile(s.persistTo, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	return f.Close()
}

func nowMS() int64 { return time.Now().UnixMilli() }

// Create inserts a freshly queued record and returns it.
func (s *Store) Create(id, tenantID string, req models.ExecutionRequest, limits models.ExecutionLimits) *models.ExecutionRecord {
	rec := &models.ExecutionRecord{
		ID:          id,
		TenantID:    tenantID,
		Status:      models.StatusQueued,
		Request:     req,
		Limits:      limits,
		Events:      []models.Event{{TsMS: nowMS(), Stage: "queued", Message: "job queued"}},
		CreatedAtMS: nowMS(),
	}
	s.mu.Lock()
	s.records[id] = rec
	s.mu.Unlock()
	return rec
}

// Get returns the record for id.
func (s *Store) Get(id string) (*models.ExecutionRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	return r, ok
}

// AppendEvent appends a timeline entry under the record's own
// existence in the map; callers hold no external lock, so mutation
// happens under the store's write lock (spec.md §5).
func (s *Store) AppendEvent(id, stage, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return
	}
	rec.Events = append(rec.Events, models.Event{TsMS: nowMS(), Stage: stage, Message: message})
}

// MarkRunning transitions a record Queued -> Running exactly once.
func (s *Store) MarkRunning(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok || rec.Status != models.StatusQueued {
		return
	}
	rec.Status = models.StatusRunning
	ts := nowMS()
	rec.StartedAtMS = &ts
}

// MarkRejected transitions a record Queued -> Rejected.
func (s *Store) MarkRejected(id, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return
	}
	rec.Status = models.StatusRejected
	rec.Error = reason
	ts := nowMS()
	rec.FinishedAtMS = &ts
	rec.Events = append(rec.Events, models.Event{TsMS: ts, Stage: "rejected", Message: reason})
}

// MarkFinished implements spec.md §4.10 step 7: sets the finish
// timestamp, appends a "finished" event, and persists the record if a
// path is configured. Persistence failures are logged and swallowed.
func (s *Store) MarkFinished(id string, status models.Status, output *models.Output, testResults []models.TestResult, errMsg string) (*models.ExecutionRecord, error) {
	s.mu.Lock()
	rec, ok := s.records[id]
	if !ok {
		s.mu.Unlock()
		return nil, engerr.New(engerr.CodeNotFound, "unknown execution id")
	}
	rec.Status = status
	rec.Output = output
	rec.TestResults = testResults
	rec.Error = errMsg
	ts := nowMS()
	rec.FinishedAtMS = &ts
	rec.Events = append(rec.Events, models.Event{TsMS: ts, Stage: "finished", Message: "execution finished"})
	snapshot := *rec
	s.mu.Unlock()

	s.persist(&snapshot)
	return rec, nil
}

func (s *Store) persist(rec *models.ExecutionRecord) {
	if s.persistTo == "" {
		return
	}
	line, err := json.Marshal(rec)
	if err != nil {
		s.warn("marshal execution record for persistence", err)
		return
	}
	line = append(line, '\n')

	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	f, err := os.OpenFile(s.persistTo, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		s.warn("open persistence file", err)
		return
	}
	defer f.Close()
	if _, err := f.Write(line); err != nil {
		s.warn("append execution record", err)
	}
}

func (s *Store) warn(msg string, err error) {
	if s.logger != nil {
		s.logger.Warn("execution store persistence failed", logging.String("detail", msg), logging.String("error", err.Error()))
	}
}
