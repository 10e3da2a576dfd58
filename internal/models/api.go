package models

// APIResponse is the uniform HTTP envelope.
type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// OpportunityView is an Opportunity decorated with the caller's score and
// marks for list rendering.
type OpportunityView struct {
	Opportunity
	Tags     []string `json:"tags"`
	Score    *float64 `json:"score,omitempty"`
	Favorite bool     `json:"favorite"`
	Seen     bool     `json:"seen"`
}
