package checkpoint

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/mesosagent/agentd/agenterrors"
)

// UpdateLatestLink atomically repoints the "latest" run symlink at
// linkPath to target, using the same temp-then-rename pattern as the
// record writes (os.Symlink has no in-place update, so the temp name is
// created fresh and renamed over the old link).
func (s *Store) UpdateLatestLink(linkPath, target string) error {
	if err := os.MkdirAll(filepath.Dir(linkPath), 0755); err != nil {
		return &agenterrors.CheckpointIOError{Path: linkPath, Err: err}
	}
	tmp := filepath.Join(filepath.Dir(linkPath), fmt.Sprintf(".%s.tmp%d", filepath.Base(linkPath), rand.Int()))
	if err := os.Symlink(target, tmp); err != nil {
		return &agenterrors.CheckpointIOError{Path: linkPath, Err: err}
	}
	if err := os.Rename(tmp, linkPath); err != nil {
		_ = os.Remove(tmp)
		return &agenterrors.CheckpointIOError{Path: linkPath, Err: err}
	}
	return nil
}
