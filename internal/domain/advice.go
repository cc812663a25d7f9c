package domain

import "context"

// Recommendation is the coarse action extracted from an advisory narrative.
type Recommendation string

const (
	RecommendExecute         Recommendation = "execute"
	RecommendWait            Recommendation = "wait"
	RecommendAvoid           Recommendation = "avoid"
	RecommendAnalyze         Recommendation = "analyze"
	RecommendError           Recommendation = "error"
	RecommendNoOpportunities Recommendation = "no_opportunities"
)

// Advice is the advisory verdict on a cycle's top opportunities.
type Advice struct {
	Recommendation     Recommendation `json:"recommendation"`
	Analysis           string         `json:"analysis"`
	OpportunitiesCount int            `json:"opportunities_count"`
	TopProfitPercent   float64        `json:"top_profit_percent"`
}

// Advisor produces a narrative assessment of ranked opportunities. It never
// fails: transport errors surface as RecommendError.
type Advisor interface {
	Advise(ctx context.Context, opps []Opportunity) Advice
}
