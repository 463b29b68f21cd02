package copies

import (
	"strings"
	"time"
)

// CopyStatus enumerates the lifecycle states of a physical copy.
type CopyStatus string

const (
	StatusAvailable  CopyStatus = "available"
	StatusCheckedOut CopyStatus = "checked_out"
	StatusOnHold     CopyStatus = "on_hold"
	StatusDamaged    CopyStatus = "damaged"
	StatusLost       CopyStatus = "lost"
	StatusWithdrawn  CopyStatus = "withdrawn"
)

// Physical condition grades recorded on a copy.
const (
	ConditionGood    = "good"
	ConditionFair    = "fair"
	ConditionPoor    = "poor"
	ConditionDamaged = "damaged"
)

// Copy is a physical, barcoded instance of a catalogue title.
type Copy struct {
	ID              int64      `json:"id" db:"id"`
	BookID          int64      `json:"book_id" db:"book_id"`
	Barcode         string     `json:"barcode" db:"barcode"`
	Status          CopyStatus `json:"status" db:"status"`
	Location        string     `json:"location" db:"location"`
	Condition       string     `json:"condition" db:"condition"`
	IsReferenceOnly bool       `json:"is_reference_only" db:"is_reference_only"`
	AcquiredAt      time.Time  `json:"acquired_at" db:"acquired_at"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
}

// Loanable reports whether a copy in this status may be issued.
func (s CopyStatus) Loanable() bool {
	return s == StatusAvailable
}

// Lendable reports whether this copy may leave the building at all.
// Reference-only copies and copies graded damaged never circulate,
// whatever their status says.
func (c *Copy) Lendable() bool {
	return !c.IsReferenceOnly && !strings.EqualFold(c.Condition, ConditionDamaged)
}

// AvailableForLoan reports whether the copy can be issued right now.
func (c *Copy) AvailableForLoan() bool {
	return c.Status.Loanable() && c.Lendable()
}
