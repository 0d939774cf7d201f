package ledger

import (
	"bufio"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/vmihailenco/msgpack/v5"
)

// record is the on-disk msgpack-encoded shape of one FileLedger append. It
// deliberately differs from Commit (which carries a [32]byte MerkleRoot
// array, awkward to round-trip through msgpack) by flattening hashes to
// byte slices.
type record struct {
	CommitID    string  `msgpack:"commit_id"`
	SessionID   string  `msgpack:"session_id"`
	NodeID      string  `msgpack:"node_id"`
	MerkleRoot  []byte  `msgpack:"merkle_root"`
	ParentHash  []byte  `msgpack:"parent_hash,omitempty"`
	TimestampNS int64   `msgpack:"timestamp_ns"`
	Energy      float64 `msgpack:"energy"`
	Stable      bool    `msgpack:"stable"`
}

// FileLedger is an append-only, msgpack-encoded ledger: each commit is
// written as one self-delimiting msgpack record to a single file, never
// rewritten. Serialization discipline follows the teacher's CXDBSink.append:
// one mutex held across "compute next root, then write", never across
// anything but local I/O (persistence format is explicitly out of scope
// per spec.md Non-goals, so this is a reference shape, not a contract).
type FileLedger struct {
	mu          sync.Mutex
	path        string
	file        *os.File
	enc         *msgpack.Encoder
	sessionID   string
	currentRoot MerkleRoot
}

// OpenFileLedger creates or appends to the ledger file at path.
func OpenFileLedger(path string) (*FileLedger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("ledger: open %s: %w", path, err)
	}

	root, err := replayRoot(path)
	if err != nil {
		f.Close()
		return nil, err
	}

	return &FileLedger{
		path:        path,
		file:        f,
		enc:         msgpack.NewEncoder(f),
		currentRoot: root,
	}, nil
}

// replayRoot recovers the current merkle root by replaying every record
// already in the file, so a reopened ledger resumes its hash chain rather
// than restarting at ZeroRoot.
func replayRoot(path string) (MerkleRoot, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return ZeroRoot, nil
	}
	if err != nil {
		return ZeroRoot, fmt.Errorf("ledger: replay %s: %w", path, err)
	}
	defer f.Close()

	root := ZeroRoot
	dec := msgpack.NewDecoder(bufio.NewReader(f))
	for {
		var rec record
		if err := dec.Decode(&rec); err != nil {
			break // EOF or trailing partial write; stop replay here
		}
		copy(root[:], rec.MerkleRoot)
	}
	return root, nil
}

func (l *FileLedger) StartSession(sessionID, task string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sessionID = sessionID
	return nil
}

func (l *FileLedger) CommitNode(nodeID string, parentHash *MerkleRoot, energy float64) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	commitID := ulid.Make().String()
	stable := energy < StableThreshold
	root := chainRoot(l.currentRoot, nodeID, energy, stable, commitID)

	rec := record{
		CommitID:    commitID,
		SessionID:   l.sessionID,
		NodeID:      nodeID,
		MerkleRoot:  root[:],
		TimestampNS: time.Now().UnixNano(),
		Energy:      energy,
		Stable:      stable,
	}
	if parentHash != nil {
		rec.ParentHash = parentHash[:]
	}

	if err := l.enc.Encode(&rec); err != nil {
		return "", fmt.Errorf("ledger: append commit for node %s: %w", nodeID, err)
	}
	l.currentRoot = root
	return commitID, nil
}

func (l *FileLedger) EndSession(status string) error {
	return nil
}

func (l *FileLedger) CurrentMerkleRoot() MerkleRoot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.currentRoot
}

// Close closes the underlying file. Records are written to the file
// directly by CommitNode, so there is no buffer to flush.
func (l *FileLedger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

var _ Ledger = (*FileLedger)(nil)
var _ Ledger = (*MemoryLedger)(nil)
