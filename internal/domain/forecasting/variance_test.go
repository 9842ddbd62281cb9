package forecasting

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestPrediction(c *ForecastConsensus, qty int64) *PredictionPoint {
	return &PredictionPoint{
		ProductID:    c.ProductID,
		Period:       c.Period,
		PredictedQty: decimal.NewFromInt(qty),
		RunAuditID:   c.ForecastRunAuditID,
	}
}

func TestExplainVariance(t *testing.T) {
	t.Run("computes variance against matching prediction", func(t *testing.T) {
		c := createTestConsensus(t)
		prediction := createTestPrediction(c, 900)

		explanation := ExplainVariance(c, prediction)

		assert.True(t, explanation.HasMatch)
		require.NotNil(t, explanation.Variance)
		assert.True(t, explanation.Variance.Equal(decimal.NewFromInt(100)))
		require.NotNil(t, explanation.VariancePct)
		assert.True(t, explanation.VariancePct.Equal(decimal.NewFromFloat(11.11)))
		assert.Empty(t, explanation.Message)
	})

	t.Run("omits variance_pct when prediction is zero", func(t *testing.T) {
		c := createTestConsensus(t)
		prediction := createTestPrediction(c, 0)

		explanation := ExplainVariance(c, prediction)

		assert.True(t, explanation.HasMatch)
		require.NotNil(t, explanation.Variance)
		assert.True(t, explanation.Variance.Equal(decimal.NewFromInt(1000)))
		assert.Nil(t, explanation.VariancePct)
	})

	t.Run("returns well-formed result when no prediction matches", func(t *testing.T) {
		c := createTestConsensus(t)

		explanation := ExplainVariance(c, nil)

		assert.False(t, explanation.HasMatch)
		assert.Equal(t, "no matching forecast prediction for this period", explanation.Message)
		assert.Nil(t, explanation.PredictedQty)
		assert.Nil(t, explanation.Variance)
		assert.Nil(t, explanation.VariancePct)
		assert.True(t, explanation.FinalConsensusQty.Equal(decimal.NewFromInt(1000)))
	})

	t.Run("reports net driver effect", func(t *testing.T) {
		c := createTestConsensus(t)
		require.NoError(t, c.Revise(ConsensusRevision{
			SalesOverrideQty:     decPtr(50),
			MarketingUpliftQty:   decPtr(30),
			FinanceAdjustmentQty: decPtr(-20),
		}))

		explanation := ExplainVariance(c, nil)

		assert.True(t, explanation.DriverNet.Equal(decimal.NewFromInt(60)))
	})

	t.Run("reports cap impact when cap binds", func(t *testing.T) {
		c := createTestConsensus(t)
		require.NoError(t, c.Revise(ConsensusRevision{
			SalesOverrideQty:     decPtr(50),
			FinanceAdjustmentQty: decPtr(-20),
			ConstraintCapQty:     decPtr(1000),
		}))

		explanation := ExplainVariance(c, createTestPrediction(c, 900))

		assert.True(t, explanation.CapImpact.Equal(decimal.NewFromInt(-30)))
		require.NotNil(t, explanation.Variance)
		assert.True(t, explanation.Variance.Equal(decimal.NewFromInt(100)))
	})

	t.Run("cap impact is zero when uncapped", func(t *testing.T) {
		c := createTestConsensus(t)

		explanation := ExplainVariance(c, nil)

		assert.True(t, explanation.CapImpact.IsZero())
	})
}

func TestMatchPrediction(t *testing.T) {
	t.Run("matches by calendar month", func(t *testing.T) {
		c := createTestConsensus(t)
		points := []PredictionPoint{
			{ProductID: c.ProductID, Period: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), PredictedQty: decimal.NewFromInt(1)},
			{ProductID: c.ProductID, Period: time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC), PredictedQty: decimal.NewFromInt(2)},
		}

		match := MatchPrediction(c, points)

		require.NotNil(t, match)
		assert.True(t, match.PredictedQty.Equal(decimal.NewFromInt(2)))
	})

	t.Run("requires run match when consensus carries a run reference", func(t *testing.T) {
		c := createTestConsensus(t)
		runID := uuid.New()
		c.SetForecastRunAudit(runID)
		otherRun := uuid.New()
		points := []PredictionPoint{
			{ProductID: c.ProductID, Period: c.Period, PredictedQty: decimal.NewFromInt(1), RunAuditID: &otherRun},
			{ProductID: c.ProductID, Period: c.Period, PredictedQty: decimal.NewFromInt(2), RunAuditID: &runID},
		}

		match := MatchPrediction(c, points)

		require.NotNil(t, match)
		assert.True(t, match.PredictedQty.Equal(decimal.NewFromInt(2)))
	})

	t.Run("ignores run when consensus has no run reference", func(t *testing.T) {
		c := createTestConsensus(t)
		runID := uuid.New()
		points := []PredictionPoint{
			{ProductID: c.ProductID, Period: c.Period, PredictedQty: decimal.NewFromInt(7), RunAuditID: &runID},
		}

		match := MatchPrediction(c, points)

		require.NotNil(t, match)
	})

	t.Run("returns nil when nothing matches", func(t *testing.T) {
		c := createTestConsensus(t)

		assert.Nil(t, MatchPrediction(c, nil))
		assert.Nil(t, MatchPrediction(c, []PredictionPoint{
			{ProductID: c.ProductID, Period: c.Period.AddDate(0, 1, 0), PredictedQty: decimal.NewFromInt(3)},
		}))
	})
}
