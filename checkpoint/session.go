package checkpoint

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/haldane-ai/checkpoint-go/checkpoint/recovery"
	"github.com/haldane-ai/checkpoint-go/checkpoint/store"
	"github.com/haldane-ai/checkpoint-go/checkpoint/telemetry"
)

// Session is the outermost container: a named agent's DAG, backend,
// and safe-execution orchestrator, plus a metrics snapshot. It is the
// intended entry point for callers; DAG and Orchestrator are exported
// for advanced use but Session wraps every mutating call with metric
// bookkeeping.
type Session struct {
	name       string
	dag        *DAG
	orch       *Orchestrator
	backend    store.Backend
	serializer Serializer
	emitter    telemetry.Emitter
	logger     zerolog.Logger

	metricsMu sync.Mutex
	metrics   Metrics
}

// SetEmitter replaces the session's telemetry sink. The default is
// telemetry.NullEmitter, which discards every event.
func (s *Session) SetEmitter(e telemetry.Emitter) {
	if e == nil {
		e = telemetry.NullEmitter{}
	}
	s.emitter = e
}

// SetLogger replaces the session's ambient process logger.
func (s *Session) SetLogger(l zerolog.Logger) {
	s.logger = l
}

// Metrics is a read-only counter snapshot for a session.
type Metrics struct {
	CheckpointsCreated int64
	Rollbacks          int64
	Recoveries         int64
	BranchesCreated    int64
	ErrorsCaught       int64
	TimeSavedEstimate  time.Duration
}

// NewSession constructs a Session over an already-open backend and
// serializer, reusing whatever state the backend already holds.
func NewSession(ctx context.Context, name string, backend store.Backend, serializer Serializer) (*Session, error) {
	dag, err := NewDAG(ctx, backend, serializer)
	if err != nil {
		return nil, err
	}
	return &Session{
		name:       name,
		dag:        dag,
		orch:       NewOrchestrator(dag),
		backend:    backend,
		serializer: serializer,
		emitter:    telemetry.NullEmitter{},
		logger:     zerolog.Nop(),
	}, nil
}

// Name returns the agent name this session was constructed with.
func (s *Session) Name() string { return s.name }

// CurrentBranch returns the name of the branch currently checked out.
func (s *Session) CurrentBranch() string { return s.dag.CurrentBranch() }

// Checkpoint creates a new DAG node on the current branch.
func (s *Session) Checkpoint(ctx context.Context, state, metadata Value, description, logicStep string) (Record, error) {
	rec, err := s.dag.Checkpoint(ctx, state, metadata, description, logicStep)
	if err != nil {
		s.logger.Error().Err(err).Str("session", s.name).Msg("checkpoint failed")
		return Record{}, err
	}
	s.metricsMu.Lock()
	s.metrics.CheckpointsCreated++
	s.metricsMu.Unlock()
	s.emitter.Emit(telemetry.Event{
		Op:           "checkpoint",
		CheckpointID: rec.ID,
		Branch:       rec.Branch,
		Meta:         map[string]any{"agent": s.name, "logic_step": logicStep},
	})
	return rec, nil
}

// Rollback walks the DAG back to an ancestor. The elapsed wall-clock
// time between the rolled-back head and the restored checkpoint is
// added to the time_saved_estimate metric, an estimate of how much
// redundant work the rollback avoided redoing.
func (s *Session) Rollback(ctx context.Context, opts RollbackOptions) (Record, error) {
	var before Record
	hadHead := false
	if headID := s.currentHeadID(); headID != nil {
		if rec, err := s.dag.Get(*headID); err == nil {
			before = rec
			hadHead = true
		}
	}
	target, err := s.dag.Rollback(ctx, opts)
	if err != nil {
		s.logger.Error().Err(err).Str("session", s.name).Msg("rollback failed")
		return Record{}, err
	}
	s.metricsMu.Lock()
	s.metrics.Rollbacks++
	if hadHead {
		if saved := before.Timestamp.Sub(target.Timestamp); saved > 0 {
			s.metrics.TimeSavedEstimate += saved
		}
	}
	s.metricsMu.Unlock()
	s.emitter.Emit(telemetry.Event{
		Op:           "rollback",
		CheckpointID: target.ID,
		Branch:       target.Branch,
		Meta:         map[string]any{"agent": s.name, "steps": opts.Steps},
	})
	return target, nil
}

func (s *Session) currentHeadID() *string {
	for _, b := range s.dag.Branches() {
		if b.IsCurrent {
			return b.HeadID
		}
	}
	return nil
}

// NewBranch forks a new branch from the current head.
func (s *Session) NewBranch(ctx context.Context, name string) (BranchRecord, error) {
	br, err := s.dag.NewBranch(ctx, name)
	if err != nil {
		s.logger.Error().Err(err).Str("session", s.name).Msg("branch creation failed")
		return BranchRecord{}, err
	}
	s.metricsMu.Lock()
	s.metrics.BranchesCreated++
	s.metricsMu.Unlock()
	s.emitter.Emit(telemetry.Event{
		Op:     "branch",
		Branch: br.Name,
		Meta:   map[string]any{"agent": s.name},
	})
	return br, nil
}

// SwitchBranch changes the current-branch cursor.
func (s *Session) SwitchBranch(ctx context.Context, name string) error {
	return s.dag.SwitchBranch(ctx, name)
}

// Merge folds a source branch's head into the current branch.
func (s *Session) Merge(ctx context.Context, sourceBranch string, strategy MergeStrategy) (Record, error) {
	rec, err := s.dag.Merge(ctx, sourceBranch, strategy)
	if err != nil {
		s.logger.Error().Err(err).Str("session", s.name).Str("source", sourceBranch).Msg("merge failed")
		return Record{}, err
	}
	s.emitter.Emit(telemetry.Event{
		Op:           "merge",
		CheckpointID: rec.ID,
		Branch:       rec.Branch,
		Meta:         map[string]any{"agent": s.name, "source": sourceBranch},
	})
	return rec, nil
}

// Diff compares two checkpoints' state mappings key-wise.
func (s *Session) Diff(idA, idB string) (DiffResult, error) {
	return s.dag.Diff(idA, idB)
}

// History returns up to limit checkpoints on branch (or every branch
// when empty), oldest first.
func (s *Session) History(limit int, branch string) []Record {
	return s.dag.History(limit, branch)
}

// Branches lists every branch, sorted by name.
func (s *Session) Branches() []BranchRecord {
	return s.dag.Branches()
}

// Get retrieves a single checkpoint by id.
func (s *Session) Get(id string) (Record, error) {
	return s.dag.Get(id)
}

// VisualizeTree renders the DAG as an ASCII tree.
func (s *Session) VisualizeTree() string {
	return s.dag.VisualizeTree()
}

// SafeExecute runs the checkpoint-execute-recover loop, folding
// errors_caught/recoveries/rollbacks into the session's metrics.
// fallback may be nil, in which case exhausting strategy always ends
// in an *ExecutionError.
func (s *Session) SafeExecute(ctx context.Context, state, metadata Value, logicStep string, call, fallback Callable, strategy recovery.Strategy) (ExecutionResult, error) {
	result, err := s.orch.SafeExecute(ctx, state, metadata, logicStep, call, fallback, strategy)

	s.metricsMu.Lock()
	s.metrics.CheckpointsCreated++ // pre-attempt checkpoint always created
	if result.Post.ID != "" {
		s.metrics.CheckpointsCreated++ // success or fallback checkpoint
	}
	s.metrics.ErrorsCaught += int64(result.ErrorsCaught)
	if result.RolledBack {
		s.metrics.Rollbacks++
	}
	if result.Recovered {
		s.metrics.Recoveries++
		s.metrics.TimeSavedEstimate += time.Since(result.Pre.Timestamp)
	}
	s.metricsMu.Unlock()

	if err != nil {
		s.logger.Warn().Err(err).Str("session", s.name).Str("logic_step", logicStep).Msg("safe_execute gave up")
	}
	s.emitter.Emit(telemetry.Event{
		Op:           "safe_execute",
		CheckpointID: result.Post.ID,
		Branch:       result.Post.Branch,
		Meta: map[string]any{
			"agent":         s.name,
			"logic_step":    logicStep,
			"recovered":     result.Recovered,
			"errors_caught": result.ErrorsCaught,
			"attempts":      result.Attempts,
		},
	})

	return result, err
}

// Metrics returns a snapshot of the session's counters.
func (s *Session) Metrics() Metrics {
	s.metricsMu.Lock()
	defer s.metricsMu.Unlock()
	return s.metrics
}

// Close releases the underlying backend's resources.
func (s *Session) Close() error {
	return s.backend.Close()
}

// ExportFormatVersion is the current ExportDocument.Version. Bump it
// when the document's shape changes in a way ImportSession must
// distinguish.
const ExportFormatVersion = 1

// ExportDocument is the serializable form Export/ImportSession
// exchange.
type ExportDocument struct {
	Version       int            `json:"version"`
	AgentName     string         `json:"agent_name"`
	CurrentBranch string         `json:"current_branch"`
	Branches      []BranchRecord `json:"branches"`
	Checkpoints   []Record       `json:"checkpoints"`
}

// Export produces a full snapshot of the session: every checkpoint,
// every branch, the current-branch name, and the agent name.
func (s *Session) Export() ExportDocument {
	return ExportDocument{
		Version:       ExportFormatVersion,
		AgentName:     s.name,
		CurrentBranch: s.dag.CurrentBranch(),
		Branches:      s.dag.Branches(),
		Checkpoints:   s.dag.History(0, ""),
	}
}

// ImportSession rebuilds a Session from an ExportDocument into a fresh
// backend, validating the DAG's structural invariants before
// committing anything. A malformed document returns an *ImportError
// and leaves backend untouched.
func ImportSession(ctx context.Context, doc ExportDocument, backend store.Backend, serializer Serializer) (*Session, error) {
	if err := validateExport(doc); err != nil {
		return nil, err
	}

	for _, rec := range doc.Checkpoints {
		sr, err := toStoreRecord(rec, serializer)
		if err != nil {
			return nil, &ImportError{Reason: fmt.Sprintf("checkpoint %s: %v", rec.ID, err)}
		}
		if err := backend.Put(ctx, sr); err != nil {
			return nil, &ImportError{Reason: fmt.Sprintf("checkpoint %s: %v", rec.ID, err)}
		}
	}
	for _, br := range doc.Branches {
		if err := backend.PutBranch(ctx, toStoreBranch(br)); err != nil {
			return nil, &ImportError{Reason: fmt.Sprintf("branch %s: %v", br.Name, err)}
		}
	}

	return NewSession(ctx, doc.AgentName, backend, serializer)
}

// validateExport checks the DAG's structural invariants (one current
// branch, resolvable parent/head links, an acyclic history, stable
// fingerprints, main always present) against a document before any
// backend write, so a bad import is rejected atomically.
func validateExport(doc ExportDocument) error {
	if doc.Version != ExportFormatVersion {
		return &ImportError{Reason: fmt.Sprintf("unsupported export version %d, want %d", doc.Version, ExportFormatVersion)}
	}
	if doc.AgentName == "" {
		return &ImportError{Reason: "missing agent_name"}
	}

	byID := make(map[string]Record, len(doc.Checkpoints))
	for _, rec := range doc.Checkpoints {
		if _, dup := byID[rec.ID]; dup {
			return &ImportError{Reason: fmt.Sprintf("duplicate checkpoint id %s", rec.ID)}
		}
		byID[rec.ID] = rec
	}

	// Invariant 2: every non-root parent_id resolves; invariant 4: the
	// parent_id graph is acyclic (detected via bounded ancestor walk).
	for _, rec := range doc.Checkpoints {
		seen := map[string]bool{rec.ID: true}
		cur := rec
		for cur.ParentID != nil {
			parent, ok := byID[*cur.ParentID]
			if !ok {
				return &ImportError{Reason: fmt.Sprintf("checkpoint %s: parent_id %s does not exist", rec.ID, *cur.ParentID)}
			}
			if seen[parent.ID] {
				return &ImportError{Reason: fmt.Sprintf("checkpoint %s: cyclic parent_id chain", rec.ID)}
			}
			seen[parent.ID] = true
			cur = parent
		}
	}

	// Invariant 6: fingerprint must be reproducible from (state,
	// metadata, logic_step) using the text serializer's canonical form.
	text := NewSerializer(FlavorText)
	for _, rec := range doc.Checkpoints {
		want := text.Fingerprint(rec.State, rec.Metadata, rec.LogicStep)
		if rec.Fingerprint != "" && rec.Fingerprint != want {
			return &ImportError{Reason: fmt.Sprintf("checkpoint %s: fingerprint mismatch", rec.ID)}
		}
	}

	// Invariant 1: exactly one current branch.
	currentCount := 0
	names := map[string]bool{}
	hasMain := false
	for _, br := range doc.Branches {
		if names[br.Name] {
			return &ImportError{Reason: fmt.Sprintf("duplicate branch name %s", br.Name)}
		}
		names[br.Name] = true
		if br.Name == MainBranch {
			hasMain = true
		}
		if br.IsCurrent {
			currentCount++
		}
		// Invariant 3: a non-null head must resolve to a real checkpoint.
		if br.HeadID != nil {
			if _, ok := byID[*br.HeadID]; !ok {
				return &ImportError{Reason: fmt.Sprintf("branch %s: head_id %s does not exist", br.Name, *br.HeadID)}
			}
		}
	}
	if currentCount != 1 {
		return &ImportError{Reason: fmt.Sprintf("exactly one branch must be current, found %d", currentCount)}
	}
	// Invariant 5: main always exists.
	if !hasMain {
		return &ImportError{Reason: "branch set is missing main"}
	}
	if doc.CurrentBranch != "" && !names[doc.CurrentBranch] {
		return &ImportError{Reason: fmt.Sprintf("current_branch %q is not among the exported branches", doc.CurrentBranch)}
	}

	return nil
}
