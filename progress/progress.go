// Package progress implements the Progress Manager:
// process-wide, per-upload-id tracked ingestion state with subscriber
// fan-out and at-most-one-pending-update backpressure.
package progress

import (
	"sync"
	"time"

	"github.com/iland112/icao-local-pkd/core"
)

// Stage is a node in the per-upload progress state machine.
type Stage string

const (
	StageUploaded             Stage = "UPLOADED"
	StageParsing              Stage = "PARSING"
	StageValidationInProgress Stage = "VALIDATION_IN_PROGRESS"
	StageValidationCompleted  Stage = "VALIDATION_COMPLETED"
	StageDbSaving             Stage = "DB_SAVING"
	StageLdapSaving           Stage = "LDAP_SAVING"
	StageCompleted            Stage = "COMPLETED"
	StageFailed               Stage = "FAILED"
)

// LogRow is one per-certificate outcome line kept in the bounded ring
// buffer so a client attaching mid-upload still sees recent activity.
type LogRow struct {
	Fingerprint string
	CertType    core.CertType
	Outcome     core.ValidationStatus
	Message     string
	At          time.Time
}

// Stats accumulates the per-upload validation statistics: counts by outcome, a signature-
// algorithm histogram, a key-size histogram, and ICAO compliance counts.
type Stats struct {
	ByOutcome         map[core.ValidationStatus]int
	BySignatureAlgo   map[string]int
	ByKeyBits         map[int]int
	ByComplianceLevel map[core.IcaoComplianceLevel]int
}

func newStats() Stats {
	return Stats{
		ByOutcome:         map[core.ValidationStatus]int{},
		BySignatureAlgo:   map[string]int{},
		ByKeyBits:         map[int]int{},
		ByComplianceLevel: map[core.IcaoComplianceLevel]int{},
	}
}

// Record folds one certificate's outcome into the running statistics.
func (s *Stats) Record(outcome core.ValidationStatus, sigAlgo string, keyBits int, compliance core.IcaoComplianceLevel) {
	s.ByOutcome[outcome]++
	if sigAlgo != "" {
		s.BySignatureAlgo[sigAlgo]++
	}
	if keyBits > 0 {
		s.ByKeyBits[keyBits]++
	}
	if compliance != "" {
		s.ByComplianceLevel[compliance]++
	}
}

// Snapshot is an immutable copy of one upload's progress state, handed
// to subscribers so they never see a mutation in flight.
type Snapshot struct {
	UploadID  int64
	Stage     Stage
	Current   int
	Total     int
	Message   string
	Stats     Stats
	Recent    []LogRow
	UpdatedAt time.Time
}

const ringSize = 50

// state is the mutable per-upload record, guarded by its own mutex so
// one upload's updates never block another's.
type state struct {
	mu   sync.Mutex
	snap Snapshot
	subs map[int]chan Snapshot
	next int
}

// Manager is the process-wide, upload-id-keyed progress tracker.
type Manager struct {
	mu      sync.Mutex
	uploads map[int64]*state
}

func NewManager() *Manager {
	return &Manager{uploads: make(map[int64]*state)}
}

func (m *Manager) stateFor(uploadID int64) *state {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.uploads[uploadID]
	if !ok {
		st = &state{
			snap: Snapshot{UploadID: uploadID, Stage: StageUploaded, Stats: newStats(), UpdatedAt: time.Now()},
			subs: make(map[int]chan Snapshot),
		}
		m.uploads[uploadID] = st
	}
	return st
}

// Start registers a fresh snapshot for uploadID with the given total
// entry count, replacing any prior state (a retried upload starts over).
func (m *Manager) Start(uploadID int64, total int) {
	st := m.stateFor(uploadID)
	st.mu.Lock()
	st.snap = Snapshot{UploadID: uploadID, Stage: StageUploaded, Total: total, Stats: newStats(), UpdatedAt: time.Now()}
	st.mu.Unlock()
	m.publish(st)
}

// SetStage moves uploadID to a new stage with an informational message.
func (m *Manager) SetStage(uploadID int64, stage Stage, message string) {
	st := m.stateFor(uploadID)
	st.mu.Lock()
	st.snap.Stage = stage
	st.snap.Message = message
	st.snap.UpdatedAt = time.Now()
	st.mu.Unlock()
	m.publish(st)
}

// Advance increments the processed-entry counter by delta; updates
// within one upload are monotonic in processed_entries.
func (m *Manager) Advance(uploadID int64, delta int) {
	st := m.stateFor(uploadID)
	st.mu.Lock()
	st.snap.Current += delta
	st.snap.UpdatedAt = time.Now()
	st.mu.Unlock()
	m.publish(st)
}

// RecordOutcome folds one certificate's validation outcome into the
// running statistics and the recent-activity ring buffer.
func (m *Manager) RecordOutcome(uploadID int64, row LogRow, sigAlgo string, keyBits int, compliance core.IcaoComplianceLevel) {
	st := m.stateFor(uploadID)
	st.mu.Lock()
	st.snap.Stats.Record(row.Outcome, sigAlgo, keyBits, compliance)
	st.snap.Recent = append(st.snap.Recent, row)
	if len(st.snap.Recent) > ringSize {
		st.snap.Recent = st.snap.Recent[len(st.snap.Recent)-ringSize:]
	}
	st.snap.UpdatedAt = time.Now()
	st.mu.Unlock()
	m.publish(st)
}

// Finish marks uploadID COMPLETED or FAILED with a final message.
func (m *Manager) Finish(uploadID int64, failed bool, message string) {
	stage := StageCompleted
	if failed {
		stage = StageFailed
	}
	m.SetStage(uploadID, stage, message)
}

// Get returns a copy of the current snapshot for uploadID.
func (m *Manager) Get(uploadID int64) Snapshot {
	st := m.stateFor(uploadID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return copySnapshot(st.snap)
}

// Subscribe registers a channel that receives the current snapshot
// immediately and every update thereafter. Each subscriber's channel is
// buffered to 1; a pending update is overwritten rather than blocking
// the publisher (at most one pending update per subscriber).
// The returned func unregisters the subscriber and must be called when
// the caller stops reading.
func (m *Manager) Subscribe(uploadID int64) (<-chan Snapshot, func()) {
	st := m.stateFor(uploadID)
	ch := make(chan Snapshot, 1)

	st.mu.Lock()
	id := st.next
	st.next++
	st.subs[id] = ch
	ch <- copySnapshot(st.snap)
	st.mu.Unlock()

	cancel := func() {
		st.mu.Lock()
		delete(st.subs, id)
		st.mu.Unlock()
	}
	return ch, cancel
}

// Forget discards all state for uploadID, called once an upload is
// deleted so the process-wide map does not grow without bound.
func (m *Manager) Forget(uploadID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.uploads, uploadID)
}

func (m *Manager) publish(st *state) {
	st.mu.Lock()
	snap := copySnapshot(st.snap)
	subs := make([]chan Snapshot, 0, len(st.subs))
	for _, ch := range st.subs {
		subs = append(subs, ch)
	}
	st.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- snap:
		default:
			// drop the stale pending update, then push the fresh one
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}

func copySnapshot(s Snapshot) Snapshot {
	out := s
	out.Stats = Stats{
		ByOutcome:         copyCountMap(s.Stats.ByOutcome),
		BySignatureAlgo:   copyStrCountMap(s.Stats.BySignatureAlgo),
		ByKeyBits:         copyIntCountMap(s.Stats.ByKeyBits),
		ByComplianceLevel: copyComplianceCountMap(s.Stats.ByComplianceLevel),
	}
	out.Recent = append([]LogRow(nil), s.Recent...)
	return out
}

func copyCountMap(in map[core.ValidationStatus]int) map[core.ValidationStatus]int {
	out := make(map[core.ValidationStatus]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func copyStrCountMap(in map[string]int) map[string]int {
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func copyIntCountMap(in map[int]int) map[int]int {
	out := make(map[int]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func copyComplianceCountMap(in map[core.IcaoComplianceLevel]int) map[core.IcaoComplianceLevel]int {
	out := make(map[core.IcaoComplianceLevel]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
