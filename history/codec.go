package history

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/agentrewind/types"
)

// FormatVersion is written into every exported document.
const FormatVersion = 1

// LogDocument is the exported form of a branch log.
type LogDocument struct {
	Version  int            `json:"version"`
	BranchID types.BranchID `json:"branch_id"`
	Root     types.Sequence `json:"root"`
	Events   []types.Event  `json:"events"`
}

// CheckpointRecord is one exported CheckpointSet. Blobs encode as base64.
type CheckpointRecord struct {
	Sequence types.Sequence    `json:"sequence"`
	Agents   map[string][]byte `json:"agents"`
}

// CheckpointDocument is the exported form of a branch's checkpoints.
type CheckpointDocument struct {
	Version     int                `json:"version"`
	BranchID    types.BranchID     `json:"branch_id"`
	Root        types.Sequence     `json:"root"`
	Checkpoints []CheckpointRecord `json:"checkpoints"`
}

// TreeDocument is the exported form of the branch tree.
type TreeDocument struct {
	Version int `json:"version"`
	TreeSnapshot
}

// =============================================================================
// Encode
// =============================================================================

// ExportLog encodes the branch log.
func (j *Journal) ExportLog() ([]byte, error) {
	doc := LogDocument{
		Version:  FormatVersion,
		BranchID: j.branch,
		Root:     j.log.Root(),
		Events:   j.log.All(),
	}
	return json.Marshal(doc)
}

// ExportCheckpoints encodes every checkpoint of the branch. Checkpoints
// inherited from the fork source sit below Root.
func (j *Journal) ExportCheckpoints() ([]byte, error) {
	entries, err := j.Entries()
	if err != nil {
		return nil, err
	}
	doc := CheckpointDocument{
		Version:     FormatVersion,
		BranchID:    j.branch,
		Root:        j.log.Root(),
		Checkpoints: make([]CheckpointRecord, len(entries)),
	}
	for i, e := range entries {
		doc.Checkpoints[i] = CheckpointRecord{Sequence: e.Sequence, Agents: e.Checkpoint.Blobs()}
	}
	return json.Marshal(doc)
}

// ExportTree encodes a tree snapshot.
func ExportTree(snap TreeSnapshot) ([]byte, error) {
	return json.Marshal(TreeDocument{Version: FormatVersion, TreeSnapshot: snap})
}

// =============================================================================
// Decode
// =============================================================================

func checkVersion(v int) error {
	if v != FormatVersion {
		return types.Errorf(types.ErrInvalidRequest, "unsupported format version %d", v)
	}
	return nil
}

// DecodeLog parses and validates an exported log.
func DecodeLog(data []byte) (LogDocument, error) {
	var doc LogDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return LogDocument{}, types.NewError(types.ErrInvalidRequest, "malformed log document").WithCause(err)
	}
	if err := checkVersion(doc.Version); err != nil {
		return LogDocument{}, err
	}
	if types.Sequence(len(doc.Events)) < doc.Root {
		return LogDocument{}, types.Errorf(types.ErrInvalidRequest,
			"log root %d exceeds its %d events", doc.Root, len(doc.Events))
	}
	for i, evt := range doc.Events {
		if evt.Sequence != types.Sequence(i+1) {
			return LogDocument{}, types.Errorf(types.ErrInvalidRequest,
				"event at position %d has sequence %d, want %d", i, evt.Sequence, i+1)
		}
		if err := evt.Validate(); err != nil {
			return LogDocument{}, fmt.Errorf("event %d: %w", evt.Sequence, err)
		}
	}
	return doc, nil
}

// DecodeCheckpoints parses and validates exported checkpoints.
func DecodeCheckpoints(data []byte) (CheckpointDocument, error) {
	var doc CheckpointDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return CheckpointDocument{}, types.NewError(types.ErrInvalidRequest, "malformed checkpoint document").WithCause(err)
	}
	if err := checkVersion(doc.Version); err != nil {
		return CheckpointDocument{}, err
	}
	seen := make(map[types.Sequence]bool, len(doc.Checkpoints))
	for _, rec := range doc.Checkpoints {
		if seen[rec.Sequence] {
			return CheckpointDocument{}, types.Errorf(types.ErrInvalidRequest, "duplicate checkpoint at sequence %d", rec.Sequence)
		}
		seen[rec.Sequence] = true
	}
	if !seen[doc.Root] {
		return CheckpointDocument{}, types.Errorf(types.ErrInvalidRequest, "missing root checkpoint %d", doc.Root)
	}
	return doc, nil
}

// DecodeTree parses an exported tree and rebuilds it.
func DecodeTree(data []byte) (*Tree, error) {
	var doc TreeDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, types.NewError(types.ErrInvalidRequest, "malformed tree document").WithCause(err)
	}
	if err := checkVersion(doc.Version); err != nil {
		return nil, err
	}
	return NewTreeFromSnapshot(doc.TreeSnapshot)
}

// Entries converts the document into index entries.
func (d CheckpointDocument) Entries() []Entry {
	out := make([]Entry, len(d.Checkpoints))
	for i, rec := range d.Checkpoints {
		out[i] = Entry{
			Sequence:   rec.Sequence,
			Checkpoint: types.NewCheckpointSet(rec.Sequence, rec.Agents),
			BranchID:   d.BranchID,
		}
	}
	return out
}

// =============================================================================
// Import
// =============================================================================

// ImportJournal rebuilds a branch from its exported log and checkpoints and
// registers it in index.
func ImportJournal(index *Index, logDoc LogDocument, cpDoc CheckpointDocument, opts ...Option) (*Journal, error) {
	if logDoc.BranchID != cpDoc.BranchID || logDoc.Root != cpDoc.Root {
		return nil, types.Errorf(types.ErrInvalidRequest,
			"log (branch %s, root %d) and checkpoints (branch %s, root %d) do not match",
			logDoc.BranchID, logDoc.Root, cpDoc.BranchID, cpDoc.Root)
	}
	log, err := NewEventLog(logDoc.BranchID, logDoc.Root, logDoc.Events[:logDoc.Root])
	if err != nil {
		return nil, err
	}
	for _, evt := range logDoc.Events[logDoc.Root:] {
		if _, err := log.Append(evt); err != nil {
			return nil, err
		}
	}
	if err := checkEntriesFit(cpDoc, log); err != nil {
		return nil, err
	}
	if err := index.Replace(logDoc.BranchID, logDoc.Root, cpDoc.Entries()); err != nil {
		return nil, err
	}
	o := buildOptions(opts)
	o.logger.Info("branch imported",
		zap.Stringer("branch_id", logDoc.BranchID),
		zap.Int("events", log.Len()),
		zap.Int("checkpoints", len(cpDoc.Checkpoints)))
	return newJournal(log, index, o), nil
}

// ReplaceLog swaps the branch's events for those in doc. Checkpoints above
// the new tail are dropped.
func (j *Journal) ReplaceLog(doc LogDocument) error {
	if doc.BranchID != j.branch || doc.Root != j.log.Root() {
		return types.Errorf(types.ErrInvalidRequest,
			"log for branch %s root %d cannot replace branch %s root %d",
			doc.BranchID, doc.Root, j.branch, j.log.Root())
	}
	fresh, err := NewEventLog(j.branch, doc.Root, doc.Events[:doc.Root])
	if err != nil {
		return err
	}
	for _, evt := range doc.Events[doc.Root:] {
		if _, err := fresh.Append(evt); err != nil {
			return err
		}
	}
	tail := types.Sequence(fresh.Len())

	entries, err := j.Entries()
	if err != nil {
		return err
	}
	var kept []Entry
	for _, e := range entries {
		if e.Sequence <= tail {
			kept = append(kept, e)
		}
	}
	if err := j.index.Replace(j.branch, doc.Root, kept); err != nil {
		return err
	}
	j.log.reset(fresh.events)
	return nil
}

// ReplaceCheckpoints swaps the branch's checkpoints for those in doc.
func (j *Journal) ReplaceCheckpoints(doc CheckpointDocument) error {
	if doc.BranchID != j.branch || doc.Root != j.log.Root() {
		return types.Errorf(types.ErrInvalidRequest,
			"checkpoints for branch %s root %d cannot replace branch %s root %d",
			doc.BranchID, doc.Root, j.branch, j.log.Root())
	}
	if err := checkEntriesFit(doc, j.log); err != nil {
		return err
	}
	return j.index.Replace(j.branch, doc.Root, doc.Entries())
}

func checkEntriesFit(doc CheckpointDocument, log *EventLog) error {
	tail := types.Sequence(log.Len())
	for _, rec := range doc.Checkpoints {
		if rec.Sequence > tail {
			return types.Errorf(types.ErrInvalidRequest,
				"checkpoint %d is past the log tail %d", rec.Sequence, tail)
		}
	}
	return nil
}
