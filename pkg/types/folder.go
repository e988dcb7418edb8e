package types

// Folder represents a mail folder with its denormalized counters
type Folder struct {
	ID                 string   `json:"id"`
	Name               string   `json:"name"`
	AbsFolderPath      string   `json:"abs_folder_path"`
	Unread             int      `json:"unread"`
	NonFolderItemCount int      `json:"non_folder_item_count"`
	Folders            []Folder `json:"folders,omitempty"`
	Query              string   `json:"query,omitempty"`
	IsLocalFolder      bool     `json:"is_local_folder,omitempty"`
}

// IsSearchFolder reports whether the folder is backed by a saved query
func (f *Folder) IsSearchFolder() bool {
	return f.Query != ""
}

// Walk visits f and all of its descendants depth-first until visit returns false
func (f *Folder) Walk(visit func(*Folder) bool) bool {
	if !visit(f) {
		return false
	}
	for i := range f.Folders {
		if !f.Folders[i].Walk(visit) {
			return false
		}
	}
	return true
}

// CloneFolders deep-copies a folder tree
func CloneFolders(folders []Folder) []Folder {
	if folders == nil {
		return nil
	}
	out := make([]Folder, len(folders))
	for i, f := range folders {
		out[i] = f
		out[i].Folders = CloneFolders(f.Folders)
	}
	return out
}
