package forecasting

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PredictionPoint is one model-generated forecast value for a
// product/period, supplied by the upstream forecasting run.
type PredictionPoint struct {
	ProductID    uuid.UUID       `json:"product_id"`
	Period       time.Time       `json:"period"`
	PredictedQty decimal.Decimal `json:"predicted_qty"`
	RunAuditID   *uuid.UUID      `json:"run_audit_id"`
}

// VarianceExplanation is the driver breakdown shown to planners for one
// consensus record. Variance fields are present only when a matching
// prediction exists; VariancePct is additionally absent when the
// prediction is zero.
type VarianceExplanation struct {
	ConsensusID       uuid.UUID        `json:"consensus_id"`
	Period            time.Time        `json:"period"`
	HasMatch          bool             `json:"has_matching_prediction"`
	Message           string           `json:"message,omitempty"`
	PredictedQty      *decimal.Decimal `json:"predicted_qty,omitempty"`
	FinalConsensusQty decimal.Decimal  `json:"final_consensus_qty"`
	Variance          *decimal.Decimal `json:"variance,omitempty"`
	VariancePct       *decimal.Decimal `json:"variance_pct,omitempty"`
	DriverNet         decimal.Decimal  `json:"driver_net"`
	CapImpact         decimal.Decimal  `json:"cap_impact"`
}

// variancePctPrecision bounds the division result; two decimal places is
// what the planning UI renders.
const variancePctPrecision = 2

// SameMonth reports whether two dates fall in the same calendar month
func SameMonth(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month()
}

// MatchPrediction selects the prediction point explaining a consensus
// record: same calendar month and, when the consensus carries a run
// reference, the same run. Returns nil when nothing matches.
func MatchPrediction(c *ForecastConsensus, points []PredictionPoint) *PredictionPoint {
	for i := range points {
		p := &points[i]
		if !SameMonth(p.Period, c.Period) {
			continue
		}
		if c.ForecastRunAuditID != nil {
			if p.RunAuditID == nil || *p.RunAuditID != *c.ForecastRunAuditID {
				continue
			}
		}
		return p
	}
	return nil
}

// ExplainVariance computes the variance/driver breakdown for a consensus
// record against its matching prediction. A nil prediction yields a
// well-formed "no match" explanation rather than an error; this function
// never writes.
func ExplainVariance(c *ForecastConsensus, prediction *PredictionPoint) VarianceExplanation {
	explanation := VarianceExplanation{
		ConsensusID:       c.ID,
		Period:            c.Period,
		FinalConsensusQty: c.FinalConsensusQty,
		DriverNet: c.SalesOverrideQty.
			Add(c.MarketingUpliftQty).
			Add(c.FinanceAdjustmentQty),
		CapImpact: c.FinalConsensusQty.Sub(c.PreConsensusQty),
	}

	if prediction == nil {
		explanation.Message = "no matching forecast prediction for this period"
		return explanation
	}

	predicted := prediction.PredictedQty
	variance := c.FinalConsensusQty.Sub(predicted)

	explanation.HasMatch = true
	explanation.PredictedQty = &predicted
	explanation.Variance = &variance

	if !predicted.IsZero() {
		pct := variance.Div(predicted).Mul(decimal.NewFromInt(100)).Round(variancePctPrecision)
		explanation.VariancePct = &pct
	}

	return explanation
}
