// Package ledger implements C8: the append-only record of stable commits
// per session, consulted by the orchestrator (C7). Only the interface is
// specified by spec.md; persistence format is explicitly a Non-goal. This
// package provides the interface plus two concrete reference
// implementations (in-memory and file-backed), neither prescriptive.
package ledger

import (
	"encoding/binary"
	"math"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/zeebo/blake3"
)

// StableThreshold mirrors spec.md §6: "A record is considered 'stable' iff
// energy < 0.1."
const StableThreshold = 0.1

// MerkleRoot is an opaque 32-byte digest.
type MerkleRoot [32]byte

// ZeroRoot is the root of an empty ledger.
var ZeroRoot MerkleRoot

// Commit is one append-only ledger record.
type Commit struct {
	CommitID    string
	SessionID   string
	NodeID      string
	MerkleRoot  MerkleRoot
	ParentHash  *MerkleRoot
	Timestamp   time.Time
	Energy      float64
	Stable      bool
}

// Ledger is the collaborator interface the orchestrator consults. Matches
// spec.md §6 exactly: start_session, commit_node, end_session,
// current_merkle_root.
type Ledger interface {
	StartSession(sessionID, task string) error
	CommitNode(nodeID string, parentHash *MerkleRoot, energy float64) (commitID string, err error)
	EndSession(status string) error
	CurrentMerkleRoot() MerkleRoot
}

// chainRoot implements Open Question 2's resolution: each commit's root
// folds the previous root in, content-hash style, via
//   root_i = blake3(root_{i-1} || node_id || energy_bytes || stable_byte || commit_id)
// giving a single-branch hash chain analogous to a degenerate merkle tree.
// root_0 is 32 zero bytes, matching the original's empty-ledger placeholder.
func chainRoot(prev MerkleRoot, nodeID string, energy float64, stable bool, commitID string) MerkleRoot {
	h := blake3.New()
	h.Write(prev[:])
	h.Write([]byte(nodeID))

	var energyBytes [8]byte
	binary.BigEndian.PutUint64(energyBytes[:], math.Float64bits(energy))
	h.Write(energyBytes[:])

	if stable {
		h.Write([]byte{1})
	} else {
		h.Write([]byte{0})
	}
	h.Write([]byte(commitID))

	var out MerkleRoot
	copy(out[:], h.Sum(nil))
	return out
}

// MemoryLedger is an in-memory reference implementation: commits live only
// for the process lifetime. Safe for concurrent use; all mutations are
// serialized behind a single mutex, mirroring the teacher's CXDBSink
// append-serialization pattern (one mutex held only across the map/slice
// mutation, never across I/O — there is no I/O here).
type MemoryLedger struct {
	mu          sync.Mutex
	sessionID   string
	task        string
	status      string
	commits     []Commit
	currentRoot MerkleRoot
}

// NewMemoryLedger returns an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{currentRoot: ZeroRoot}
}

func (l *MemoryLedger) StartSession(sessionID, task string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sessionID = sessionID
	l.task = task
	l.status = "running"
	return nil
}

func (l *MemoryLedger) CommitNode(nodeID string, parentHash *MerkleRoot, energy float64) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	commitID := ulid.Make().String()
	stable := energy < StableThreshold
	root := chainRoot(l.currentRoot, nodeID, energy, stable, commitID)

	l.commits = append(l.commits, Commit{
		CommitID:   commitID,
		SessionID:  l.sessionID,
		NodeID:     nodeID,
		MerkleRoot: root,
		ParentHash: parentHash,
		Timestamp:  time.Now(),
		Energy:     energy,
		Stable:     stable,
	})
	l.currentRoot = root
	return commitID, nil
}

func (l *MemoryLedger) EndSession(status string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.status = status
	return nil
}

func (l *MemoryLedger) CurrentMerkleRoot() MerkleRoot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.currentRoot
}

// Commits returns a copy of all recorded commits, for tests and
// diagnostics.
func (l *MemoryLedger) Commits() []Commit {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Commit, len(l.commits))
	copy(out, l.commits)
	return out
}
