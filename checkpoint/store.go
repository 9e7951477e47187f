package checkpoint

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/google/renameio"
	"github.com/mesosagent/agentd/agenterrors"
	"github.com/mesosagent/agentd/fslocker"
	"github.com/mesosagent/agentd/logger"
)

// Store writes and reads checkpoint records under a Layout's meta root. All
// writes go through renameio (write-temp-then-rename), the same atomicity
// primitive the teacher uses for its config and state files, so a crash
// mid-write never leaves a half-written record behind. A per-path flock via
// fslocker.FSLocker guards against two agent processes racing on the same
// meta root during recovery.
type Store struct {
	layout *Layout
	locker *fslocker.FSLocker
}

// NewStore creates a Store rooted at layout.Root. The lock directory is a
// sibling of the meta root so locking never contends with the checkpoint
// tree it is protecting.
func NewStore(layout *Layout) (*Store, error) {
	lockDir := layout.Root + ".locks"
	locker, err := fslocker.NewFSLocker(lockDir)
	if err != nil {
		return nil, &agenterrors.CheckpointIOError{Path: lockDir, Err: err}
	}
	return &Store{layout: layout, locker: locker}, nil
}

// Checkpoint atomically writes record as JSON to path, creating parent
// directories as needed.
func (s *Store) Checkpoint(ctx context.Context, path string, record interface{}) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return &agenterrors.CheckpointIOError{Path: path, Err: err}
	}
	data, err := json.Marshal(record)
	if err != nil {
		return &agenterrors.CheckpointIOError{Path: path, Err: err}
	}
	if err := renameio.WriteFile(path, data, 0644); err != nil {
		return &agenterrors.CheckpointIOError{Path: path, Err: err}
	}
	logger.G(ctx).WithField("path", path).Debug("checkpointed record")
	return nil
}

// ReadInto reads and JSON-decodes the record at path into out.
func (s *Store) ReadInto(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return &agenterrors.RecoveryParseError{Path: path, Err: err}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &agenterrors.RecoveryParseError{Path: path, Err: err}
	}
	return nil
}

// AppendUpdate appends one JSON-encoded UpdateRecord line to path. Each
// append is itself written through a temp-file-plus-rename of the whole
// file contents: the update logs are expected to be small (one line per
// status update for a single task's single run), so rewriting the file on
// every append keeps the same atomicity guarantee as Checkpoint without a
// second I/O primitive.
func (s *Store) AppendUpdate(path string, rec UpdateRecord) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return &agenterrors.CheckpointIOError{Path: path, Err: err}
	}
	var existing []UpdateRecord
	if data, err := os.ReadFile(path); err == nil {
		for _, line := range splitLines(data) {
			if len(line) == 0 {
				continue
			}
			var r UpdateRecord
			if err := json.Unmarshal(line, &r); err == nil {
				existing = append(existing, r)
			}
		}
	} else if !os.IsNotExist(err) {
		return &agenterrors.CheckpointIOError{Path: path, Err: err}
	}
	existing = append(existing, rec)

	buf := make([]byte, 0, 256*len(existing))
	for _, r := range existing {
		line, err := json.Marshal(r)
		if err != nil {
			return &agenterrors.CheckpointIOError{Path: path, Err: err}
		}
		buf = append(buf, line...)
		buf = append(buf, '\n')
	}
	if err := renameio.WriteFile(path, buf, 0644); err != nil {
		return &agenterrors.CheckpointIOError{Path: path, Err: err}
	}
	return nil
}

// ReadUpdates reads every UpdateRecord logged at path, in append order.
func (s *Store) ReadUpdates(path string) ([]UpdateRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &agenterrors.RecoveryParseError{Path: path, Err: err}
	}
	var out []UpdateRecord
	for _, line := range splitLines(data) {
		if len(line) == 0 {
			continue
		}
		var r UpdateRecord
		if err := json.Unmarshal(line, &r); err != nil {
			return nil, &agenterrors.RecoveryParseError{Path: path, Err: err}
		}
		out = append(out, r)
	}
	return out, nil
}

func splitLines(data []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			lines = append(lines, data[start:i])
			start = i + 1
		}
	}
	if start < len(data) {
		lines = append(lines, data[start:])
	}
	return lines
}

// LockMetaRoot takes an exclusive lock on the whole meta root for the
// duration of recovery, matching the teacher's fslocker usage pattern of
// scoping a lock to a single logical path rather than the filesystem root.
func (s *Store) LockMetaRoot() (*fslocker.ExclusiveLock, error) {
	return s.locker.ExclusiveLock("recovery", nil)
}
