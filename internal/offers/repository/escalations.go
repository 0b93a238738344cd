package repository

import (
	"context"
	"errors"
	"fmt"

	"cashoffer_backend/internal/offers/domain"
	"cashoffer_backend/platform/apperr"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const escalationColumns = `id, offer_id, reason, message, resolved_by, resolution, resolved_at, created_at`

func scanEscalation(row pgx.Row) (*domain.Escalation, error) {
	var (
		esc        domain.Escalation
		resolution *string
	)
	err := row.Scan(&esc.ID, &esc.OfferID, &esc.Reason, &esc.Message,
		&esc.ResolvedBy, &resolution, &esc.ResolvedAt, &esc.CreatedAt)
	if err != nil {
		return nil, err
	}
	esc.Resolution = deref(resolution)
	return &esc, nil
}

// CreateEscalation opens a review case for an offer. The partial unique index
// on open escalations makes this idempotent: a second open escalation for the
// same offer is silently dropped and the existing one returned.
func (r *Repository) CreateEscalation(ctx context.Context, offerID uuid.UUID, reason domain.EscalationReason, message string) (*domain.Escalation, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO escalations (offer_id, reason, message)
		VALUES ($1, $2, $3)
		ON CONFLICT (offer_id) WHERE resolved_at IS NULL DO NOTHING
		RETURNING `+escalationColumns,
		offerID, string(reason), message,
	)

	esc, err := scanEscalation(row)
	if err == nil {
		return esc, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("create escalation: %w", err)
	}

	// Conflict path: fetch the already-open case.
	return r.getOpenEscalation(ctx, offerID)
}

func (r *Repository) getOpenEscalation(ctx context.Context, offerID uuid.UUID) (*domain.Escalation, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+escalationColumns+` FROM escalations
		WHERE offer_id = $1 AND resolved_at IS NULL`,
		offerID,
	)

	esc, err := scanEscalation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("escalation not found")
		}
		return nil, fmt.Errorf("get open escalation: %w", err)
	}
	return esc, nil
}

// GetEscalation retrieves one review case.
func (r *Repository) GetEscalation(ctx context.Context, id uuid.UUID) (*domain.Escalation, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+escalationColumns+` FROM escalations WHERE id = $1`, id)

	esc, err := scanEscalation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("escalation not found")
		}
		return nil, fmt.Errorf("get escalation: %w", err)
	}
	return esc, nil
}

// ListOpenEscalations returns unresolved review cases, oldest first.
func (r *Repository) ListOpenEscalations(ctx context.Context, limit int) ([]*domain.Escalation, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+escalationColumns+` FROM escalations
		WHERE resolved_at IS NULL ORDER BY created_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list open escalations: %w", err)
	}
	defer rows.Close()

	escalations := make([]*domain.Escalation, 0)
	for rows.Next() {
		esc, err := scanEscalation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan escalation: %w", err)
		}
		escalations = append(escalations, esc)
	}
	return escalations, rows.Err()
}

// ResolveEscalation closes a review case. Returns false when the case was
// already resolved.
func (r *Repository) ResolveEscalation(ctx context.Context, id, resolvedBy uuid.UUID, resolution, notes string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE escalations SET
			resolved_at = now(), resolved_by = $2, resolution = $3, resolution_notes = $4
		WHERE id = $1 AND resolved_at IS NULL`,
		id, resolvedBy, resolution, nullIfEmpty(notes),
	)
	if err != nil {
		return false, fmt.Errorf("resolve escalation: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
