package models

// Notification is an in-app message for one user.
type Notification struct {
	ID        string  `json:"id"`
	UserID    string  `json:"userId"`
	Message   string  `json:"message"`
	Link      *string `json:"link,omitempty"`
	IsRead    bool    `json:"isRead"`
	CreatedAt string  `json:"createdAt"`
}

// Recipient is the contact data the dispatcher needs for out-of-app channels.
type Recipient struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	Phone  string `json:"phone"`
}
