package risk

import (
	"errors"
	"time"
)

// Sentinel errors for the risk register.
var (
	ErrNotFound     = errors.New("risk: not found")
	ErrInvalidScale = errors.New("risk: likelihood and impact must be between 1 and 5")
)

// Status tracks a register entry through its treatment lifecycle.
type Status string

// Known statuses.
const (
	StatusOpen      Status = "open"
	StatusMitigated Status = "mitigated"
	StatusAccepted  Status = "accepted"
	StatusClosed    Status = "closed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusMitigated, StatusAccepted, StatusClosed:
		return true
	}
	return false
}

// Risk is one register entry. Score is derived, never stored from
// client input.
type Risk struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Category    string    `json:"category"`
	Owner       string    `json:"owner"`
	Likelihood  int       `json:"likelihood"`
	Impact      int       `json:"impact"`
	Score       int       `json:"score"`
	Status      Status    `json:"status"`
	CreatedBy   string    `json:"createdBy"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedBy   string    `json:"updatedBy"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Input carries analyst-supplied register fields.
type Input struct {
	Title       string `json:"title" validate:"required,min=3,max=200"`
	Description string `json:"description" validate:"max=2000"`
	Category    string `json:"category" validate:"required,max=80"`
	Owner       string `json:"owner" validate:"required,max=120"`
	Likelihood  int    `json:"likelihood" validate:"required,min=1,max=5"`
	Impact      int    `json:"impact" validate:"required,min=1,max=5"`
	Status      Status `json:"status" validate:"required,oneof=open mitigated accepted closed"`
}

// ComputeScore returns the register score for a likelihood/impact pair
// on the five-point scales.
func ComputeScore(likelihood, impact int) (int, error) {
	if likelihood < 1 || likelihood > 5 || impact < 1 || impact > 5 {
		return 0, ErrInvalidScale
	}
	return likelihood * impact, nil
}
