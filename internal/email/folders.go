package email

import (
	"sort"
	"strconv"
	"strings"

	"github.com/brandon/mailsync/pkg/types"
)

type folderNode struct {
	folder   types.Folder
	children []*folderNode
}

// buildFolderTree nests LISTed mailboxes by their hierarchy delimiter. A
// folder's id is its full mailbox name; parents the server did not list are
// created as containers.
func buildFolderTree(entries []mailboxEntry) []types.Folder {
	sorted := append([]mailboxEntry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	nodes := make(map[string]*folderNode, len(sorted))
	var roots []*folderNode

	var ensure func(segments []string, delim string) *folderNode
	ensure = func(segments []string, delim string) *folderNode {
		name := strings.Join(segments, delim)
		if n, ok := nodes[name]; ok {
			return n
		}
		n := &folderNode{folder: types.Folder{
			ID:            name,
			Name:          segments[len(segments)-1],
			AbsFolderPath: "/" + strings.Join(segments, "/"),
		}}
		nodes[name] = n
		if len(segments) == 1 {
			roots = append(roots, n)
		} else {
			parent := ensure(segments[:len(segments)-1], delim)
			parent.children = append(parent.children, n)
		}
		return n
	}

	for _, e := range sorted {
		segments := []string{e.Name}
		if e.Delimiter != "" {
			segments = strings.Split(e.Name, e.Delimiter)
		}
		n := ensure(segments, e.Delimiter)
		n.folder.Unread = e.Unseen
		n.folder.NonFolderItemCount = e.Messages
	}

	return flattenNodes(roots)
}

func flattenNodes(nodes []*folderNode) []types.Folder {
	if len(nodes) == 0 {
		return nil
	}
	out := make([]types.Folder, len(nodes))
	for i, n := range nodes {
		out[i] = n.folder
		out[i].Folders = flattenNodes(n.children)
	}
	return out
}

// contactsFromMessages derives an address book from the correspondents of a
// folder, skipping self. Each contact carries how often it was seen.
func contactsFromMessages(folder string, msgs []types.MailItem, self string) []types.Contact {
	self = strings.ToLower(self)
	index := make(map[string]int)
	var out []types.Contact

	for _, m := range msgs {
		for _, list := range [][]types.Address{m.From, m.To, m.Cc} {
			for _, a := range list {
				email := strings.ToLower(strings.TrimSpace(a.Address))
				if email == "" || email == self {
					continue
				}
				if i, ok := index[email]; ok {
					c := &out[i]
					c.Attributes["count"] = incr(c.Attributes["count"])
					if c.FirstName == "" && c.LastName == "" {
						c.FirstName, c.LastName = splitName(a.Name)
					}
					continue
				}
				first, last := splitName(a.Name)
				index[email] = len(out)
				out = append(out, types.Contact{
					ID:         email,
					FolderID:   folder,
					FirstName:  first,
					LastName:   last,
					Email:      email,
					Attributes: map[string]string{"count": "1"},
				})
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out
}

func splitName(name string) (first, last string) {
	fields := strings.Fields(name)
	switch len(fields) {
	case 0:
		return "", ""
	case 1:
		return fields[0], ""
	}
	return strings.Join(fields[:len(fields)-1], " "), fields[len(fields)-1]
}

func incr(n string) string {
	v, _ := strconv.Atoi(n)
	return strconv.Itoa(v + 1)
}
