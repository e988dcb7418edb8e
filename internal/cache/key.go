package cache

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/brandon/mailsync/pkg/types"
)

// Operation names used in cache keys
const (
	OpSearch        = "search"
	OpContactPicker = "contactPicker"
	OpGetMessage    = "getMessage"
)

// Sort orders
const (
	SortDateDesc = "dateDesc"
	SortNameAsc  = "nameAsc"
)

// QueryKey identifies a cached query result by its operation and variables
type QueryKey struct {
	Operation string
	Variables map[string]any
}

// String renders the canonical key: operation({"json":"with sorted keys"})
func (k QueryKey) String() string {
	vars := k.Variables
	if vars == nil {
		vars = map[string]any{}
	}
	payload, err := json.Marshal(vars)
	if err != nil {
		payload = []byte("{}")
	}
	return fmt.Sprintf("%s(%s)", k.Operation, payload)
}

// ParseKey splits a canonical key back into a QueryKey
func ParseKey(key string) (QueryKey, bool) {
	open := strings.IndexByte(key, '(')
	if open <= 0 || !strings.HasSuffix(key, ")") {
		return QueryKey{}, false
	}
	vars, ok := KeyToVariables(key)
	if !ok {
		return QueryKey{}, false
	}
	return QueryKey{Operation: key[:open], Variables: vars}, true
}

// KeyToVariables parses the variables embedded in a composite key. Malformed
// keys report false.
func KeyToVariables(key string) (map[string]any, bool) {
	open := strings.IndexByte(key, '(')
	end := strings.LastIndexByte(key, ')')
	if open < 0 || end <= open {
		return nil, false
	}
	var vars map[string]any
	if err := json.Unmarshal([]byte(key[open+1:end]), &vars); err != nil {
		return nil, false
	}
	if vars == nil {
		return nil, false
	}
	return vars, true
}

// InFolder returns the search query matching everything in folder
func InFolder(folder string) string {
	return fmt.Sprintf("in:%q", folder)
}

// FolderViewKey is the key of the paginated list shown for a folder
func FolderViewKey(folder string, kind types.ResultKey) QueryKey {
	return QueryKey{
		Operation: OpSearch,
		Variables: map[string]any{
			"query":  InFolder(folder),
			"types":  typesVariable(kind),
			"sortBy": SortDateDesc,
		},
	}
}

// ContactsInFolderKey lists the contacts of one address book folder
func ContactsInFolderKey(folder string) QueryKey {
	return QueryKey{
		Operation: OpSearch,
		Variables: map[string]any{
			"query":  InFolder(folder),
			"types":  "contact",
			"sortBy": SortNameAsc,
		},
	}
}

// ContactPickerKey backs the contact chooser filtered to a folder
func ContactPickerKey(folder string) QueryKey {
	return QueryKey{
		Operation: OpContactPicker,
		Variables: map[string]any{"folder": folder},
	}
}

// AllContactsKey lists every contact regardless of folder
func AllContactsKey() QueryKey {
	return QueryKey{
		Operation: OpSearch,
		Variables: map[string]any{
			"query":  "#type:contact",
			"types":  "contact",
			"sortBy": SortNameAsc,
		},
	}
}

// MessageKey is the key of a single message fetch
func MessageKey(id string) QueryKey {
	return QueryKey{Operation: OpGetMessage, Variables: map[string]any{"id": id}}
}

func typesVariable(kind types.ResultKey) string {
	if kind == types.ResultConversations {
		return "conversation"
	}
	return "message"
}

// ResultKindOf maps a key's "types" variable to the list it populates
func ResultKindOf(vars map[string]any) types.ResultKey {
	switch vars["types"] {
	case "conversation":
		return types.ResultConversations
	case "contact":
		return types.ResultContacts
	}
	return types.ResultMessages
}

// scopesOf returns the lower-cased folder names or ids a key is scoped to
func scopesOf(vars map[string]any) []string {
	var scopes []string
	if folder, ok := vars["folder"].(string); ok && folder != "" {
		scopes = append(scopes, strings.ToLower(folder))
	}
	query, _ := vars["query"].(string)
	for _, term := range splitQuery(query) {
		var value string
		switch {
		case strings.HasPrefix(term, "in:"):
			value = term[len("in:"):]
		case strings.HasPrefix(term, "inid:"):
			value = term[len("inid:"):]
		default:
			continue
		}
		value = strings.Trim(value, `"`)
		if value != "" {
			scopes = append(scopes, strings.ToLower(value))
		}
	}
	return scopes
}

// splitQuery splits on spaces outside of double quotes
func splitQuery(q string) []string {
	var terms []string
	var cur strings.Builder
	quoted := false
	for _, r := range q {
		switch {
		case r == '"':
			quoted = !quoted
			cur.WriteRune(r)
		case r == ' ' && !quoted:
			if cur.Len() > 0 {
				terms = append(terms, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteRune(r)
		}
	}
	if cur.Len() > 0 {
		terms = append(terms, cur.String())
	}
	return terms
}
