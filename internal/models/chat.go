package models

// UploadedFile is a file accepted by the chat backend
type UploadedFile struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ClientID string `json:"-"`
}

// ChatPost is the message submitted once per mail message
type ChatPost struct {
	ChannelID string   `json:"channel_id"`
	Message   string   `json:"message"`
	FileIDs   []string `json:"file_ids"`
}

// ErrorResponse represents an error response of the status API
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}
