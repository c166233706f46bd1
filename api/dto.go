/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON structures for API communication, decoupling the domain model from
  the external contract. DTOs are pure data carriers; validation happens in
  handlers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"github.com/warp/rank-engine/ranking"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// ReconcileRequest parameterizes the batch entry point.
type ReconcileRequest struct {
	UserID string `json:"user_id,omitempty"` // empty = all users
	Force  bool   `json:"force,omitempty"`   // default: skip users with ledger data
}

// RankDTO represents a rank tier in API responses.
type RankDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Level     int    `json:"level"`
	MinPoints string `json:"minimum_points"`
}

func toRankDTO(r ranking.Rank) RankDTO {
	return RankDTO{
		ID:        string(r.ID),
		Name:      r.Name,
		Level:     r.Level,
		MinPoints: r.MinPoints.String(),
	}
}

// UserRankDTO is the per-user rank summary.
type UserRankDTO struct {
	UserID        string   `json:"user_id"`
	LifetimeTotal string   `json:"lifetime_total"`
	Rank          *RankDTO `json:"rank,omitempty"`
}

// LedgerEntryDTO represents one period row.
type LedgerEntryDTO struct {
	ID          string `json:"id"`
	Period      string `json:"period"`
	BasePoints  string `json:"total_points"`
	BonusPoints string `json:"bonus_points"`
	TotalPoints string `json:"period_total"`
	RankID      string `json:"rank_id,omitempty"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

func toLedgerEntryDTO(e ranking.LedgerEntry) LedgerEntryDTO {
	return LedgerEntryDTO{
		ID:          e.ID,
		Period:      e.Period.String(),
		BasePoints:  e.BasePoints.String(),
		BonusPoints: e.BonusPoints.String(),
		TotalPoints: e.TotalPoints().String(),
		RankID:      string(e.RankID),
		CreatedAt:   e.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		UpdatedAt:   e.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

// DistributionDTO counts users per tier, ordered by level.
type DistributionDTO struct {
	Ranks []RankCountDTO `json:"ranks"`
	Total int            `json:"total"`
}

type RankCountDTO struct {
	RankDTO
	Users int `json:"users"`
}

// ErrorResponse is the standard error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
