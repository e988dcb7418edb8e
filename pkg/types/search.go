package types

// ResultKey names one of the lists a SearchResult can carry
type ResultKey string

const (
	ResultMessages      ResultKey = "messages"
	ResultConversations ResultKey = "conversations"
	ResultContacts      ResultKey = "contacts"
)

// SearchResult is one page (or the accumulated pages) of a search query
type SearchResult struct {
	Messages      []MailItem `json:"messages,omitempty"`
	Conversations []MailItem `json:"conversations,omitempty"`
	Contacts      []Contact  `json:"contacts,omitempty"`
	SortBy        string     `json:"sort_by,omitempty"`
	More          bool       `json:"more"`
	Offset        int        `json:"offset"`
}

// Items returns the mail list stored under key
func (r *SearchResult) Items(key ResultKey) []MailItem {
	if r == nil {
		return nil
	}
	switch key {
	case ResultMessages:
		return r.Messages
	case ResultConversations:
		return r.Conversations
	}
	return nil
}

// SetItems replaces the mail list stored under key
func (r *SearchResult) SetItems(key ResultKey, items []MailItem) {
	switch key {
	case ResultMessages:
		r.Messages = items
	case ResultConversations:
		r.Conversations = items
	}
}

// Clone returns a copy whose lists can be modified independently
func (r *SearchResult) Clone() *SearchResult {
	if r == nil {
		return nil
	}
	c := *r
	c.Messages = cloneItems(r.Messages)
	c.Conversations = cloneItems(r.Conversations)
	c.Contacts = append([]Contact(nil), r.Contacts...)
	return &c
}

func cloneItems(items []MailItem) []MailItem {
	if items == nil {
		return nil
	}
	out := make([]MailItem, len(items))
	for i := range items {
		out[i] = *items[i].Clone()
	}
	return out
}
