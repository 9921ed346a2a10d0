// internal/models/product.go
package models

import "time"

type SourceKind string

const (
	SourceScrape SourceKind = "scrape"
	SourceAPI    SourceKind = "api"
)

type RateLimit struct {
	Capacity   int           `json:"capacity"`
	RefillRate float64       `json:"refillRate"`
	MaxWait    time.Duration `json:"maxWait"`
}

// SourceHandle identifies a configured connector. Higher Priority wins.
type SourceHandle struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Kind      SourceKind `json:"kind"`
	Priority  int        `json:"priority"`
	RateLimit RateLimit  `json:"rateLimit"`
}

const (
	AvailabilityInStock    = "in_stock"
	AvailabilityOutOfStock = "out_of_stock"
	AvailabilityUnknown    = "unknown"
)

type CandidateProduct struct {
	SourceID     string            `json:"sourceId"`
	ExternalID   string            `json:"externalId"`
	Title        string            `json:"title"`
	Price        float64           `json:"price"`
	Currency     string            `json:"currency"`
	Availability string            `json:"availability"`
	Brand        string            `json:"brand,omitempty"`
	Category     string            `json:"category,omitempty"`
	URL          string            `json:"url,omitempty"`
	ImageURL     string            `json:"imageUrl,omitempty"`
	Rating       float64           `json:"rating,omitempty"`
	Attributes   map[string]string `json:"attributes,omitempty"`
	FetchedAt    time.Time         `json:"fetchedAt"`
}

type FailureKind string

const (
	FailureTimeout       FailureKind = "timeout"
	FailureRateLimited   FailureKind = "rate_limited"
	FailureUpstreamError FailureKind = "upstream_error"
	FailureParseError    FailureKind = "parse_error"
)

// FailureMarker is what a negative cache entry holds instead of candidates.
type FailureMarker struct {
	Kind     FailureKind `json:"kind"`
	Message  string      `json:"message,omitempty"`
	FailedAt time.Time   `json:"failedAt"`
}

type CacheEntry struct {
	Key        string             `json:"key"`
	SourceID   string             `json:"sourceId"`
	Candidates []CandidateProduct `json:"candidates"`
	FetchedAt  time.Time          `json:"fetchedAt"`
	TTL        time.Duration      `json:"ttl"`
	Failure    *FailureMarker     `json:"failure,omitempty"`
}

func (e CacheEntry) Negative() bool {
	return e.Failure != nil
}

type ResultStatus string

const (
	StatusRanked           ResultStatus = "ranked"
	StatusDegraded         ResultStatus = "degraded"
	StatusAllSourcesFailed ResultStatus = "all_sources_failed"
)

type SourceOutcome string

const (
	OutcomeOK             SourceOutcome = "ok"
	OutcomeCached         SourceOutcome = "cached"
	OutcomeFailed         SourceOutcome = "failed"
	OutcomeNegativeCached SourceOutcome = "negative_cached"
	OutcomeCutOff         SourceOutcome = "cut_off"
)

// Answered reports whether the source contributed a (possibly empty) result set.
func (o SourceOutcome) Answered() bool {
	return o == OutcomeOK || o == OutcomeCached
}

type SourceReport struct {
	SourceID string        `json:"sourceId"`
	Outcome  SourceOutcome `json:"outcome"`
	Failure  FailureKind   `json:"failure,omitempty"`
	Message  string        `json:"message,omitempty"`
	Count    int           `json:"count"`
	Duration time.Duration `json:"duration"`
}

type RankedItem struct {
	Product    CandidateProduct `json:"product"`
	Score      float64          `json:"score"`
	Provenance []string         `json:"provenance"`
}

type RankedResult struct {
	Status     ResultStatus   `json:"status"`
	Items      []RankedItem   `json:"items"`
	Confidence float64        `json:"confidence"`
	Sources    []SourceReport `json:"sources,omitempty"`
}

// SourceBatch is one source's contribution to a resolution. Err is set when
// the source failed; Candidates is then empty.
type SourceBatch struct {
	Source     SourceHandle       `json:"source"`
	Candidates []CandidateProduct `json:"candidates"`
	Err        error              `json:"-"`
}
