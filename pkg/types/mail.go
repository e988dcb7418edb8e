package types

import "time"

// ItemKind distinguishes messages from conversations
type ItemKind string

const (
	KindMessage      ItemKind = "message"
	KindConversation ItemKind = "conversation"
)

// Address types, as used on the wire
const (
	AddressFrom   = "f"
	AddressTo     = "t"
	AddressCc     = "c"
	AddressBcc    = "b"
	AddressSender = "s"
)

// Identifiable is implemented by anything that can appear in a search result list
type Identifiable interface {
	ItemID() string
}

// Address represents a single mail address
type Address struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
	Type    string `json:"type,omitempty"`
}

// Attachment describes a message part that is not the body
type Attachment struct {
	AttachmentID string `json:"attachment_id,omitempty"`
	Part         string `json:"part,omitempty"`
	Filename     string `json:"filename"`
	ContentType  string `json:"content_type,omitempty"`
	Size         int64  `json:"size,omitempty"`
}

// MailItem represents a message or a conversation
type MailItem struct {
	ID             string       `json:"id"`
	Kind           ItemKind     `json:"kind"`
	FolderID       string       `json:"folder_id"`
	ConversationID string       `json:"conversation_id,omitempty"`
	Flags          string       `json:"flags,omitempty"`
	Date           time.Time    `json:"date"`
	Subject        string       `json:"subject"`
	From           []Address    `json:"from,omitempty"`
	To             []Address    `json:"to,omitempty"`
	Cc             []Address    `json:"cc,omitempty"`
	Bcc            []Address    `json:"bcc,omitempty"`
	Sender         []Address    `json:"sender,omitempty"`
	Excerpt        string       `json:"excerpt,omitempty"`
	BodyText       string       `json:"body_text,omitempty"`
	BodyHTML       string       `json:"body_html,omitempty"`
	Attachments    []Attachment `json:"attachments,omitempty"`
	Messages       []MailItem   `json:"messages,omitempty"`
}

func (m MailItem) ItemID() string { return m.ID }

// IsConversation reports whether the item aggregates other messages
func (m *MailItem) IsConversation() bool {
	return m.Kind == KindConversation
}

// HasBody reports whether the full message content has been fetched
func (m *MailItem) HasBody() bool {
	return m.BodyText != "" || m.BodyHTML != ""
}

// FolderIDs returns the folders the item lives in. A conversation is a member
// of every folder one of its messages is in.
func (m *MailItem) FolderIDs() []string {
	if !m.IsConversation() || len(m.Messages) == 0 {
		if m.FolderID == "" {
			return nil
		}
		return []string{m.FolderID}
	}
	seen := make(map[string]struct{}, len(m.Messages))
	var ids []string
	for _, msg := range m.Messages {
		if msg.FolderID == "" {
			continue
		}
		if _, ok := seen[msg.FolderID]; ok {
			continue
		}
		seen[msg.FolderID] = struct{}{}
		ids = append(ids, msg.FolderID)
	}
	return ids
}

// Clone returns a deep copy so that optimistic writes never alias cached state
func (m *MailItem) Clone() *MailItem {
	if m == nil {
		return nil
	}
	c := *m
	c.From = append([]Address(nil), m.From...)
	c.To = append([]Address(nil), m.To...)
	c.Cc = append([]Address(nil), m.Cc...)
	c.Bcc = append([]Address(nil), m.Bcc...)
	c.Sender = append([]Address(nil), m.Sender...)
	c.Attachments = append([]Attachment(nil), m.Attachments...)
	if m.Messages != nil {
		c.Messages = make([]MailItem, len(m.Messages))
		for i := range m.Messages {
			c.Messages[i] = *m.Messages[i].Clone()
		}
	}
	return &c
}
