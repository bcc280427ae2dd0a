package slip

import "time"

// Document is one persisted slip record. The store owns it; the pipeline
// only holds transient working copies during a capture or review session.
type Document struct {
	ID         string    `json:"id"`
	ImageURI   string    `json:"imageUri"`
	ImageHash  string    `json:"imageHash"`
	OCRData    string    `json:"ocrData"` // JSON-serialized OCRPayload
	CategoryID string    `json:"categoryId"`
	BudgetID   string    `json:"budgetId"`
	Confirmed  bool      `json:"confirmed"`
	FileName   string    `json:"fileName,omitempty"` // server-side copy of the capture, when one was taken
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Category is a filing category a confirmed slip is assigned to
type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Budget is a budget a confirmed slip is filed under
type Budget struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
