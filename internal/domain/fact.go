package domain

// Fact is a durable statement about a user's travel preferences.
// At most one fact is stored per (UserID, Category).
type Fact struct {
	UserID   string `json:"user_id"`
	FactText string `json:"fact_text"`
	Category string `json:"category"`
}
