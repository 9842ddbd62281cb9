package forecasting

import (
	"fmt"
	"time"

	"github.com/sop/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ConsensusStatus represents the lifecycle status of a consensus record
type ConsensusStatus string

const (
	ConsensusStatusDraft    ConsensusStatus = "draft"    // Editable working copy
	ConsensusStatusProposed ConsensusStatus = "proposed" // Circulated for review, still editable
	ConsensusStatusApproved ConsensusStatus = "approved" // Signed off, immutable
	ConsensusStatusFrozen   ConsensusStatus = "frozen"   // Administratively locked, immutable
)

// IsValid checks if the status is a valid ConsensusStatus
func (s ConsensusStatus) IsValid() bool {
	switch s {
	case ConsensusStatusDraft, ConsensusStatusProposed, ConsensusStatusApproved, ConsensusStatusFrozen:
		return true
	}
	return false
}

// String returns the string representation of ConsensusStatus
func (s ConsensusStatus) String() string {
	return string(s)
}

// IsTerminal returns true if the record can no longer be mutated
func (s ConsensusStatus) IsTerminal() bool {
	return s == ConsensusStatusApproved || s == ConsensusStatusFrozen
}

// IsMutable returns true if the record accepts field edits
func (s ConsensusStatus) IsMutable() bool {
	return s == ConsensusStatusDraft || s == ConsensusStatusProposed
}

// CanApprove returns true if the record can transition to approved
func (s ConsensusStatus) CanApprove() bool {
	return s.IsMutable()
}

// NormalizePeriod truncates a date to the first day of its calendar month.
// All consensus periods are stored month-granular.
func NormalizePeriod(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// ForecastConsensus is the aggregate root for one versioned consensus
// record of a product/period. The two derived quantities are recomputed
// from the four input quantities and the cap on every write; they are
// never taken from callers.
type ForecastConsensus struct {
	shared.BaseAggregateRoot
	ForecastRunAuditID   *uuid.UUID       `json:"forecast_run_audit_id"`
	ProductID            uuid.UUID        `json:"product_id"`
	Period               time.Time        `json:"period"`
	BaselineQty          decimal.Decimal  `json:"baseline_qty"`
	SalesOverrideQty     decimal.Decimal  `json:"sales_override_qty"`
	MarketingUpliftQty   decimal.Decimal  `json:"marketing_uplift_qty"`
	FinanceAdjustmentQty decimal.Decimal  `json:"finance_adjustment_qty"`
	ConstraintCapQty     *decimal.Decimal `json:"constraint_cap_qty"`
	PreConsensusQty      decimal.Decimal  `json:"pre_consensus_qty"`
	FinalConsensusQty    decimal.Decimal  `json:"final_consensus_qty"`
	Status               ConsensusStatus  `json:"status"`
	Notes                string           `json:"notes"`
	Version              int              `json:"version"` // revision number within (product, period), assigned at creation
	CreatedBy            *uuid.UUID       `json:"created_by"`
	ApprovedBy           *uuid.UUID       `json:"approved_by"`
	ApprovedAt           *time.Time       `json:"approved_at"`
}

// NewForecastConsensus creates a consensus record in the given status
// (draft when empty). Version is zero until the repository allocates it.
// A negative baseline is not rejected; only the derived quantities are
// floored at zero.
func NewForecastConsensus(
	productID uuid.UUID,
	period time.Time,
	baselineQty decimal.Decimal,
	salesOverrideQty decimal.Decimal,
	marketingUpliftQty decimal.Decimal,
	financeAdjustmentQty decimal.Decimal,
	constraintCapQty *decimal.Decimal,
	status ConsensusStatus,
	notes string,
) (*ForecastConsensus, error) {
	if productID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_PRODUCT", "Product ID cannot be empty")
	}
	if period.IsZero() {
		return nil, shared.NewDomainError("INVALID_PERIOD", "Period is required")
	}
	if status == "" {
		status = ConsensusStatusDraft
	}
	if !status.IsValid() {
		return nil, shared.NewDomainError("INVALID_STATUS", fmt.Sprintf("Unknown consensus status %q", status))
	}

	c := &ForecastConsensus{
		BaseAggregateRoot:    shared.NewBaseAggregateRoot(),
		ProductID:            productID,
		Period:               NormalizePeriod(period),
		BaselineQty:          baselineQty,
		SalesOverrideQty:     salesOverrideQty,
		MarketingUpliftQty:   marketingUpliftQty,
		FinanceAdjustmentQty: financeAdjustmentQty,
		Status:               status,
		Notes:                notes,
	}
	if constraintCapQty != nil {
		cap := *constraintCapQty
		c.ConstraintCapQty = &cap
	}
	c.recompute()

	return c, nil
}

// ConsensusRevision is a partial edit of a mutable consensus record.
// Nil fields are left unchanged; ClearConstraintCap removes the cap.
type ConsensusRevision struct {
	BaselineQty          *decimal.Decimal
	SalesOverrideQty     *decimal.Decimal
	MarketingUpliftQty   *decimal.Decimal
	FinanceAdjustmentQty *decimal.Decimal
	ConstraintCapQty     *decimal.Decimal
	ClearConstraintCap   bool
	Status               *ConsensusStatus
	Notes                *string
}

// Revise applies a partial edit and recomputes the derived quantities.
// Only draft and proposed records accept edits; the status may move
// between draft and proposed but never into approved or frozen here.
func (c *ForecastConsensus) Revise(rev ConsensusRevision) error {
	if !c.Status.IsMutable() {
		return shared.NewDomainError("RECORD_LOCKED",
			fmt.Sprintf("Cannot update consensus in %s status", c.Status))
	}
	if rev.Status != nil {
		if !rev.Status.IsValid() {
			return shared.NewDomainError("INVALID_STATUS", fmt.Sprintf("Unknown consensus status %q", *rev.Status))
		}
		if rev.Status.IsTerminal() {
			return shared.NewDomainError("STATUS_TRANSITION_NOT_ALLOWED",
				fmt.Sprintf("Cannot set status to %s through an update; use the approve operation", *rev.Status))
		}
	}

	if rev.BaselineQty != nil {
		c.BaselineQty = *rev.BaselineQty
	}
	if rev.SalesOverrideQty != nil {
		c.SalesOverrideQty = *rev.SalesOverrideQty
	}
	if rev.MarketingUpliftQty != nil {
		c.MarketingUpliftQty = *rev.MarketingUpliftQty
	}
	if rev.FinanceAdjustmentQty != nil {
		c.FinanceAdjustmentQty = *rev.FinanceAdjustmentQty
	}
	if rev.ClearConstraintCap {
		c.ConstraintCapQty = nil
	} else if rev.ConstraintCapQty != nil {
		cap := *rev.ConstraintCapQty
		c.ConstraintCapQty = &cap
	}
	if rev.Status != nil {
		c.Status = *rev.Status
	}
	if rev.Notes != nil {
		c.Notes = *rev.Notes
	}

	c.recompute()
	c.UpdatedAt = time.Now()

	return nil
}

// Approve transitions the record to approved and stamps the approval.
// Quantities are untouched; non-empty notes are appended to preserve
// the audit trail.
func (c *ForecastConsensus) Approve(approvedBy *uuid.UUID, notes string) error {
	if !c.Status.CanApprove() {
		return shared.NewDomainError("RECORD_LOCKED",
			fmt.Sprintf("Cannot approve consensus in %s status", c.Status))
	}

	now := time.Now()
	c.Status = ConsensusStatusApproved
	c.ApprovedAt = &now
	if approvedBy != nil && *approvedBy != uuid.Nil {
		id := *approvedBy
		c.ApprovedBy = &id
	}
	if notes != "" {
		stamped := fmt.Sprintf("[Approved] %s", notes)
		if c.Notes != "" {
			c.Notes = c.Notes + "\n" + stamped
		} else {
			c.Notes = stamped
		}
	}
	c.UpdatedAt = now

	return nil
}

// SetCreatedBy records the creating actor
func (c *ForecastConsensus) SetCreatedBy(userID uuid.UUID) {
	if userID != uuid.Nil {
		c.CreatedBy = &userID
	}
}

// SetForecastRunAudit links the record to the forecast run that seeded it
func (c *ForecastConsensus) SetForecastRunAudit(runAuditID uuid.UUID) {
	if runAuditID != uuid.Nil {
		c.ForecastRunAuditID = &runAuditID
	}
}

// recompute derives pre and final consensus quantities. Both are floored
// at zero; the cap, when present, bounds the final quantity from above.
func (c *ForecastConsensus) recompute() {
	pre := c.BaselineQty.
		Add(c.SalesOverrideQty).
		Add(c.MarketingUpliftQty).
		Add(c.FinanceAdjustmentQty)
	if pre.IsNegative() {
		pre = decimal.Zero
	}
	c.PreConsensusQty = pre

	final := pre
	if c.ConstraintCapQty != nil && c.ConstraintCapQty.LessThan(final) {
		final = *c.ConstraintCapQty
	}
	if final.IsNegative() {
		final = decimal.Zero
	}
	c.FinalConsensusQty = final
}

// IsLocked returns true if the record refuses further mutation
func (c *ForecastConsensus) IsLocked() bool {
	return c.Status.IsTerminal()
}

// IsApproved returns true if the record has been signed off
func (c *ForecastConsensus) IsApproved() bool {
	return c.Status == ConsensusStatusApproved
}
