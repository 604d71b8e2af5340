package types

import (
	"encoding/json"
	"fmt"
	"maps"
	"time"
)

// PersonaVerdict is one persona's judgment on the analyzed ticker.
type PersonaVerdict struct {
	PersonaID    string  `json:"persona_id"`
	PersonaName  string  `json:"persona_name"`
	PersonaLabel string  `json:"persona_label"`
	Rating       string  `json:"rating"`
	Confidence   float64 `json:"confidence"`
	TimeHorizon  string  `json:"time_horizon"`
	PositionSize string  `json:"position_size"`
	Available    bool    `json:"available"`
}

// AnalysisResult is the terminal artifact of a completed run.
// Treat it as immutable once received.
type AnalysisResult struct {
	Ticker   string                 `json:"ticker"`
	Origin   string                 `json:"filepath"`
	Sections map[SectionName]string `json:"sections"`
	Verdicts []PersonaVerdict       `json:"persona_verdicts"`
}

// UnmarshalJSON decodes a result and normalizes section names.
func (r *AnalysisResult) UnmarshalJSON(data []byte) error {
	var raw struct {
		Ticker   string            `json:"ticker"`
		Origin   string            `json:"filepath"`
		Sections map[string]string `json:"sections"`
		Verdicts []PersonaVerdict  `json:"persona_verdicts"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	sections := make(map[SectionName]string, len(raw.Sections))
	for k, v := range raw.Sections {
		name, ok := ParseSectionName(k)
		if !ok {
			return fmt.Errorf("unknown report section %q", k)
		}
		sections[name] = v
	}
	*r = AnalysisResult{
		Ticker:   raw.Ticker,
		Origin:   raw.Origin,
		Sections: sections,
		Verdicts: raw.Verdicts,
	}
	return nil
}

// Clone returns a deep copy.
func (r *AnalysisResult) Clone() *AnalysisResult {
	if r == nil {
		return nil
	}
	out := *r
	out.Sections = maps.Clone(r.Sections)
	out.Verdicts = append([]PersonaVerdict(nil), r.Verdicts...)
	return &out
}

// CreditProfile is the account balance view. It is only refreshed by an
// explicit fetch, never pushed.
type CreditProfile struct {
	CreditsRemaining int        `json:"credits_remaining"`
	Tier             string     `json:"tier"`
	TotalAnalyses    int        `json:"total_analyses"`
	MemberSince      *time.Time `json:"member_since"`
	NextReset        *time.Time `json:"next_reset"`
}

// TickerInfo is one ticker search match.
type TickerInfo struct {
	Ticker string `json:"ticker"`
	Name   string `json:"name"`
}

// ActiveAnalysis reports whether the server still runs a job for this user.
type ActiveAnalysis struct {
	Active     bool   `json:"active"`
	AnalysisID string `json:"analysis_id,omitempty"`
	Ticker     string `json:"ticker,omitempty"`
}

// AnalysisSummary is one entry in the stored analysis history.
type AnalysisSummary struct {
	ID        string    `json:"id"`
	Ticker    string    `json:"ticker"`
	Status    string    `json:"status"`
	CostUSD   *float64  `json:"cost_usd"`
	CreatedAt time.Time `json:"created_at"`
}

// AnalysisRecord is a stored analysis with its full result.
// Result is nil when the run never completed.
type AnalysisRecord struct {
	AnalysisSummary
	UserID string          `json:"user_id"`
	Result *AnalysisResult `json:"result"`
}

// CreditPack is a purchasable bundle of credits.
type CreditPack struct {
	ID           string `json:"id"`
	Credits      int    `json:"credits"`
	PriceCents   int    `json:"price_cents"`
	PriceDisplay string `json:"price_display"`
	PerCredit    string `json:"per_credit"`
	Label        string `json:"label"`
}

// SavedAnalysis is a completed run as kept in the local archive.
type SavedAnalysis struct {
	AnalysisID  string         `json:"analysis_id"`
	Ticker      string         `json:"ticker"`
	Demo        bool           `json:"demo"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt time.Time      `json:"completed_at"`
	Result      AnalysisResult `json:"result"`
}
