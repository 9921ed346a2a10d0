// internal/workers/voice/parse-shopping-query/models.go
package parseshoppingquery

import "voicemart/internal/models"

type Input struct {
	Text     string `json:"text"`
	Language string `json:"language,omitempty"`
}

type Output struct {
	RequestID     string                       `json:"requestId"`
	Status        string                       `json:"status"` // built or needs_clarification
	Intent        string                       `json:"intent,omitempty"`
	Query         *models.StructuredQuery      `json:"query,omitempty"`
	QueryKey      string                       `json:"queryKey,omitempty"`
	Canonical     string                       `json:"canonical,omitempty"`
	Clarification *models.ClarificationRequest `json:"clarification,omitempty"`
	Reply         string                       `json:"reply"`
}
