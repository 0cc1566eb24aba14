// Package domain contains core domain types for the tripmind application.
package domain

// Role identifies the author of a conversation turn.
type Role string

// Conversation roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Turn is a single immutable entry of a conversation.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// SessionState is the mutable per-conversation record kept next to the turns.
type SessionState struct {
	UserQuery  string   `json:"user_query,omitempty"`
	Facts      []string `json:"facts,omitempty"`
	TravelPlan string   `json:"travel_plan,omitempty"`
}

// SessionUpdate is a partial update of a SessionState.
// Nil fields leave the stored value untouched; Facts are added, not replaced.
type SessionUpdate struct {
	UserQuery  *string
	Facts      []string
	TravelPlan *string
}

// Apply merges u into s and returns the result. Facts keep insertion order
// and are deduplicated by exact string equality.
func (s SessionState) Apply(u SessionUpdate) SessionState {
	out := SessionState{
		UserQuery:  s.UserQuery,
		Facts:      append([]string(nil), s.Facts...),
		TravelPlan: s.TravelPlan,
	}
	if u.UserQuery != nil {
		out.UserQuery = *u.UserQuery
	}
	if u.TravelPlan != nil {
		out.TravelPlan = *u.TravelPlan
	}
	if len(u.Facts) == 0 {
		return out
	}
	seen := make(map[string]struct{}, len(out.Facts)+len(u.Facts))
	for _, f := range out.Facts {
		seen[f] = struct{}{}
	}
	for _, f := range u.Facts {
		if f == "" {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out.Facts = append(out.Facts, f)
	}
	return out
}
