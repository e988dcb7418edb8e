package types

// Contact represents an address book entry
type Contact struct {
	ID         string            `json:"id"`
	FolderID   string            `json:"folder_id"`
	FirstName  string            `json:"first_name,omitempty"`
	LastName   string            `json:"last_name,omitempty"`
	Email      string            `json:"email,omitempty"`
	Company    string            `json:"company,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

func (c Contact) ItemID() string { return c.ID }
