package cache

import "github.com/sirupsen/logrus"

// CountDelta is the change applied to a folder's denormalized counters
type CountDelta struct {
	NonFolderItemCount int
	Unread             int
}

// IsZero reports whether applying d would change nothing
func (d CountDelta) IsZero() bool {
	return d.NonFolderItemCount == 0 && d.Unread == 0
}

// Negate returns the inverse delta
func (d CountDelta) Negate() CountDelta {
	return CountDelta{NonFolderItemCount: -d.NonFolderItemCount, Unread: -d.Unread}
}

// AdjustFolderCounts applies delta to the folder named by ref. Both counters
// are clamped at zero. It reports false when no folder matches.
func (s *Store) AdjustFolderCounts(ref FolderRef, delta CountDelta) bool {
	s.check()
	if delta.IsZero() {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	f := s.resolveFolder(ref)
	if f == nil {
		s.logger.WithField("folder", ref.String()).Debug("Folder not cached, skipping count adjustment")
		return false
	}
	f.NonFolderItemCount = clamp(f.NonFolderItemCount + delta.NonFolderItemCount)
	f.Unread = clamp(f.Unread + delta.Unread)
	s.dirty.Folders = true

	s.logger.WithFields(logrus.Fields{
		"folder":                f.Name,
		"unread":                f.Unread,
		"non_folder_item_count": f.NonFolderItemCount,
	}).Debug("Adjusted folder counts")
	return true
}

func clamp(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
