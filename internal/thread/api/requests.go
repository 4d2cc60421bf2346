package api

// MessagePayload is the body of POST .../messages. Type defaults to a plain
// answer; oauth_callback routes to the integration path instead.
type MessagePayload struct {
	Type            string `json:"type"`
	Answer          string `json:"answer"`
	AnswerToEventID string `json:"answerToEventId"`

	// oauth_callback fields
	Integration string `json:"integration"`
	Code        string `json:"code"`
	State       string `json:"state"`
}

// UploadPayload is the body of POST .../upload.
type UploadPayload struct {
	Content  string `json:"content" binding:"required"`
	MimeType string `json:"mimeType" binding:"required"`
	Filename string `json:"filename"`
}
