package cache

import (
	"strings"

	"github.com/brandon/mailsync/pkg/types"
)

// FolderRef names a folder either by id or by name
type FolderRef struct {
	ID   string
	Name string
}

// FolderByID refers to a folder through its id
func FolderByID(id string) FolderRef { return FolderRef{ID: id} }

// FolderByName refers to a folder through its name or absolute path
func FolderByName(name string) FolderRef { return FolderRef{Name: name} }

func (r FolderRef) String() string {
	if r.Name != "" {
		return r.Name
	}
	return r.ID
}

// Folders returns a copy of the cached folder tree
func (s *Store) Folders() []types.Folder {
	s.check()
	s.mu.RLock()
	defer s.mu.RUnlock()

	return types.CloneFolders(s.folders)
}

// WriteFolders replaces the cached folder tree
func (s *Store) WriteFolders(folders []types.Folder) {
	s.check()
	s.mu.Lock()
	defer s.mu.Unlock()

	s.folders = types.CloneFolders(folders)
	s.dirty.Folders = true
}

// FindFolder resolves ref against the folder tree
func (s *Store) FindFolder(ref FolderRef) (types.Folder, bool) {
	s.check()
	s.mu.RLock()
	defer s.mu.RUnlock()

	f := s.resolveFolder(ref)
	if f == nil {
		return types.Folder{}, false
	}
	out := *f
	out.Folders = types.CloneFolders(f.Folders)
	return out, true
}

// resolveFolder looks an id up to its name, then finds the folder by name.
// Must be called with s.mu held.
func (s *Store) resolveFolder(ref FolderRef) *types.Folder {
	name := ref.Name
	if name == "" && ref.ID != "" {
		byID := s.walkFolders(func(f *types.Folder) bool { return f.ID == ref.ID })
		if byID == nil {
			return nil
		}
		name = byID.Name
	}
	if name == "" {
		return nil
	}
	return s.walkFolders(func(f *types.Folder) bool { return folderNameMatches(f, name) })
}

func (s *Store) walkFolders(match func(*types.Folder) bool) *types.Folder {
	var found *types.Folder
	for i := range s.folders {
		s.folders[i].Walk(func(f *types.Folder) bool {
			if match(f) {
				found = f
				return false
			}
			return true
		})
		if found != nil {
			return found
		}
	}
	return nil
}

func folderNameMatches(f *types.Folder, name string) bool {
	if strings.EqualFold(f.Name, name) {
		return true
	}
	path := strings.TrimPrefix(f.AbsFolderPath, "/")
	return path != "" && strings.EqualFold(path, strings.TrimPrefix(name, "/"))
}
