package shared

// AggregateRoot is the base interface for all aggregate roots
type AggregateRoot interface {
	Entity
	GetLockVersion() int
	IncrementLockVersion()
}

// BaseAggregateRoot provides common fields for aggregate roots.
// LockVersion is the optimistic-concurrency counter checked by
// conditional writes; it is unrelated to any business-level revision
// numbering an aggregate may carry.
type BaseAggregateRoot struct {
	BaseEntity
	LockVersion int `gorm:"not null;default:1"`
}

// GetLockVersion returns the counter used for optimistic locking
func (a *BaseAggregateRoot) GetLockVersion() int {
	return a.LockVersion
}

// IncrementLockVersion increments the optimistic-locking counter
func (a *BaseAggregateRoot) IncrementLockVersion() {
	a.LockVersion++
}

// NewBaseAggregateRoot creates a new base aggregate root
func NewBaseAggregateRoot() BaseAggregateRoot {
	return BaseAggregateRoot{
		BaseEntity:  NewBaseEntity(),
		LockVersion: 1,
	}
}
