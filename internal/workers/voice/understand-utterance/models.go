// internal/workers/voice/understand-utterance/models.go
package understandutterance

import "voicemart/internal/models"

type Input struct {
	Text       string  `json:"text"`
	Language   string  `json:"language,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	SessionID  string  `json:"sessionId,omitempty"`
}

type Output struct {
	RequestID     string                       `json:"requestId"`
	SessionID     string                       `json:"sessionId,omitempty"`
	Status        string                       `json:"status"` // ranked, degraded, all_sources_failed, needs_clarification
	Reply         string                       `json:"reply"`
	Intent        string                       `json:"intent,omitempty"`
	Query         *models.StructuredQuery      `json:"query,omitempty"`
	Clarification *models.ClarificationRequest `json:"clarification,omitempty"`
	Products      []Product                    `json:"products"`
	Sources       []models.SourceReport        `json:"sources,omitempty"`
}

// Product is a ranked item flattened for process variables.
type Product struct {
	Title        string   `json:"title"`
	Price        float64  `json:"price,omitempty"`
	Currency     string   `json:"currency,omitempty"`
	Brand        string   `json:"brand,omitempty"`
	Category     string   `json:"category,omitempty"`
	Availability string   `json:"availability,omitempty"`
	URL          string   `json:"url,omitempty"`
	Score        float64  `json:"score"`
	Sources      []string `json:"sources"`
}
