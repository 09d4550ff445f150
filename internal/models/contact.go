package models

// Contact is one address-book entry exported from a tenant's session.
// Saved marks contacts present in the phone's address book as opposed to
// chat-only numbers.
type Contact struct {
	Phone string `json:"phone"`
	Name  string `json:"name,omitempty"`
	Saved bool   `json:"saved"`
}
