// Package advisor asks a language model for a narrative assessment of the
// best opportunities of a cycle and reduces it to a coarse recommendation.
package advisor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/arbbot/internal/domain"
)

// SystemPrompt frames the model as a trading assistant.
const SystemPrompt = "You are a cryptocurrency arbitrage trading expert. Analyze opportunities and provide concise recommendations."

// promptTopN is how many opportunities are rendered into the prompt.
const promptTopN = 5

// Completer returns the model's reply to a system and user message.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Advisor implements domain.Advisor.
type Advisor struct {
	client Completer
	logger *slog.Logger
}

var _ domain.Advisor = (*Advisor)(nil)

// New creates an Advisor.
func New(client Completer, logger *slog.Logger) *Advisor {
	return &Advisor{client: client, logger: logger.With(slog.String("component", "advisor"))}
}

// Advise returns the model's verdict on opps, which must be ranked best
// first. It never fails; transport errors are reported as RecommendError.
func (a *Advisor) Advise(ctx context.Context, opps []domain.Opportunity) domain.Advice {
	if len(opps) == 0 {
		return domain.Advice{Recommendation: domain.RecommendNoOpportunities, Analysis: "No data"}
	}

	analysis, err := a.client.Complete(ctx, SystemPrompt, BuildPrompt(opps))
	if err != nil {
		a.logger.WarnContext(ctx, "advisory request failed", slog.String("error", err.Error()))
		return domain.Advice{Recommendation: domain.RecommendError, Analysis: err.Error()}
	}

	return domain.Advice{
		Recommendation:     ExtractRecommendation(analysis),
		Analysis:           analysis,
		OpportunitiesCount: len(opps),
		TopProfitPercent:   opps[0].ProfitPercent,
	}
}

// BuildPrompt renders the leading opportunities and the questions asked of
// the model.
func BuildPrompt(opps []domain.Opportunity) string {
	if len(opps) > promptTopN {
		opps = opps[:promptTopN]
	}

	var b strings.Builder
	b.WriteString("Analyze these cryptocurrency arbitrage opportunities:\n\n")
	for _, o := range opps {
		fmt.Fprintf(&b, "- %s: Buy on %s at $%.2f, Sell on %s at $%.2f, Profit: %.2f%% ($%.2f)\n",
			o.Symbol, o.BuySource, o.BuyPrice, o.SellSource, o.SellPrice, o.ProfitPercent, o.ProfitUSD)
	}
	b.WriteString(`
Provide:
1. Best opportunity to execute
2. Risk assessment
3. Market conditions insight
4. Recommendation (execute/wait/avoid)

Keep response under 300 words.`)
	return b.String()
}

// ExtractRecommendation maps free text to a recommendation. "avoid"
// anywhere vetoes "execute".
func ExtractRecommendation(analysis string) domain.Recommendation {
	s := strings.ToLower(analysis)
	switch {
	case strings.Contains(s, "execute") && !strings.Contains(s, "avoid"):
		return domain.RecommendExecute
	case strings.Contains(s, "wait"):
		return domain.RecommendWait
	case strings.Contains(s, "avoid"):
		return domain.RecommendAvoid
	default:
		return domain.RecommendAnalyze
	}
}
