// Package repository provides database operations for offers, escalations,
// and price history.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cashoffer_backend/internal/offers/domain"
	"cashoffer_backend/platform/apperr"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const offerNotFoundMsg = "offer not found"

// offerColumns is the scan list shared by every offer read.
const offerColumns = `id, user_id, status, photos, user_description,
	item_category, item_brand, item_model, item_condition, item_features, item_damage, ai_confidence,
	market_data,
	fmv, fmv_confidence, offer_amount, original_offer_amount, offer_to_market_ratio,
	condition_multiplier, category_margin, price_floor, price_locked, auto_pricing_enabled,
	last_price_optimization,
	voice_script, voice_tone, voice_animation, voice_audio_url, voice_tier,
	vision_completed_at, market_completed_at, pricing_completed_at, voice_enqueued_at, voice_completed_at,
	escalated, escalation_reason, view_count, expires_at, accepted_at, created_at, updated_at`

// marketData is the JSONB shape of the marketplace research payload.
type marketData struct {
	ComparableCount int     `json:"comparableCount"`
	Mean            float64 `json:"mean"`
	Median          float64 `json:"median"`
	Min             float64 `json:"min"`
	Max             float64 `json:"max"`
	CacheHit        bool    `json:"cacheHit"`
}

// Repository provides database operations for the offers pipeline.
type Repository struct {
	pool *pgxpool.Pool
}

// New creates a new offers repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a freshly submitted offer in status processing.
func (r *Repository) Create(ctx context.Context, userID uuid.UUID, photoKeys []string, description string) (*domain.Offer, error) {
	photos, err := json.Marshal(photoKeys)
	if err != nil {
		return nil, fmt.Errorf("encode photos: %w", err)
	}

	query := `
		INSERT INTO offers (id, user_id, status, photos, user_description)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`

	offer := &domain.Offer{
		ID:                 uuid.New(),
		UserID:             userID,
		Status:             domain.StatusProcessing,
		PhotoKeys:          photoKeys,
		Description:        description,
		AutoPricingEnabled: true,
	}

	err = r.pool.QueryRow(ctx, query,
		offer.ID, userID, domain.StatusProcessing, photos, nullIfEmpty(description),
	).Scan(&offer.CreatedAt, &offer.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create offer: %w", err)
	}

	return offer, nil
}

// GetByID retrieves one offer.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Offer, error) {
	query := `SELECT ` + offerColumns + ` FROM offers WHERE id = $1`

	offer, err := scanOffer(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound(offerNotFoundMsg)
		}
		return nil, fmt.Errorf("failed to get offer: %w", err)
	}
	return offer, nil
}

// ListByUser returns a user's offers, newest first.
func (r *Repository) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.Offer, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + offerColumns + ` FROM offers
		WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list offers: %w", err)
	}
	defer rows.Close()

	offers := make([]*domain.Offer, 0)
	for rows.Next() {
		offer, err := scanOffer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan offer: %w", err)
		}
		offers = append(offers, offer)
	}
	return offers, rows.Err()
}

// CountByUserSince counts a user's submissions created at or after the cutoff.
func (r *Repository) CountByUserSince(ctx context.Context, userID uuid.UUID, since time.Time) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM offers WHERE user_id = $1 AND created_at >= $2`,
		userID, since,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count offers: %w", err)
	}
	return count, nil
}

// IncrementViewCount bumps the presentation view counter.
func (r *Repository) IncrementViewCount(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `UPDATE offers SET view_count = view_count + 1 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("increment view count: %w", err)
	}
	return nil
}

// UpdateStatus moves the offer from expected to next in one statement. It
// returns false without error when the offer was not in the expected status,
// which callers treat as an already-handled duplicate delivery.
func (r *Repository) UpdateStatus(ctx context.Context, id uuid.UUID, expected, next domain.Status) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE offers SET status = $3, updated_at = now() WHERE id = $1 AND status = $2`,
		id, expected, next,
	)
	if err != nil {
		return false, fmt.Errorf("update offer status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// RecordVisionResult stores the vision output and advances processing to
// researching. Status and stage timestamp move in the same statement.
func (r *Repository) RecordVisionResult(ctx context.Context, id uuid.UUID, v VisionUpdate) (bool, error) {
	features, err := json.Marshal(v.Features)
	if err != nil {
		return false, fmt.Errorf("encode features: %w", err)
	}
	damages, err := json.Marshal(v.Damages)
	if err != nil {
		return false, fmt.Errorf("encode damages: %w", err)
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE offers SET
			status = $2,
			item_category = $3, item_brand = $4, item_model = $5, item_condition = $6,
			item_features = $7, item_damage = $8, ai_confidence = $9,
			vision_completed_at = now(), updated_at = now()
		WHERE id = $1 AND status = $10`,
		id, domain.StatusResearching,
		v.Category, v.Brand, v.Model, v.Condition, features, damages, v.Confidence,
		domain.StatusProcessing,
	)
	if err != nil {
		return false, fmt.Errorf("record vision result: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// RecordMarketResult stores the research stats and advances researching to
// pricing.
func (r *Repository) RecordMarketResult(ctx context.Context, id uuid.UUID, m MarketUpdate) (bool, error) {
	data, err := json.Marshal(marketData{
		ComparableCount: m.ComparableCount,
		Mean:            m.Mean,
		Median:          m.Median,
		Min:             m.Min,
		Max:             m.Max,
		CacheHit:        m.CacheHit,
	})
	if err != nil {
		return false, fmt.Errorf("encode market data: %w", err)
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE offers SET
			status = $2, market_data = $3,
			market_completed_at = now(), updated_at = now()
		WHERE id = $1 AND status = $4`,
		id, domain.StatusPricing, data, domain.StatusResearching,
	)
	if err != nil {
		return false, fmt.Errorf("record market result: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// RecordPricingResult stores the priced valuation and advances pricing to
// voicing. The original offer amount and price floor are written here, once,
// and expires_at is set only if not already set.
func (r *Repository) RecordPricingResult(ctx context.Context, id uuid.UUID, p PricingUpdate) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE offers SET
			status = $2,
			fmv = $3, fmv_confidence = $4,
			offer_amount = $5, original_offer_amount = $5,
			offer_to_market_ratio = $6, condition_multiplier = $7, category_margin = $8,
			price_floor = $9,
			expires_at = COALESCE(expires_at, $10),
			pricing_completed_at = now(), updated_at = now()
		WHERE id = $1 AND status = $11`,
		id, domain.StatusVoicing,
		p.FairMarketValue, p.Confidence, p.OfferAmount,
		p.OfferRatio, p.ConditionMultiplier, p.CategoryMargin,
		p.PriceFloor, p.ExpiresAt,
		domain.StatusPricing,
	)
	if err != nil {
		return false, fmt.Errorf("record pricing result: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkVoiceEnqueued stamps the moment the voice job reached the queue. The
// orchestrator reads it to tell a duplicate pricing completion apart from a
// retry that never made it this far. Write-once.
func (r *Repository) MarkVoiceEnqueued(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE offers SET voice_enqueued_at = COALESCE(voice_enqueued_at, now()), updated_at = now()
		WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("mark voice enqueued: %w", err)
	}
	return nil
}

// RecordVoiceResult stores the presentation payload and advances voicing to
// ready. Degraded results (lower tier, no audio) take the same path.
func (r *Repository) RecordVoiceResult(ctx context.Context, id uuid.UUID, v VoiceUpdate) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE offers SET
			status = $2,
			voice_script = $3, voice_tone = $4, voice_animation = $5,
			voice_audio_url = $6, voice_tier = $7,
			voice_completed_at = now(), updated_at = now()
		WHERE id = $1 AND status = $8`,
		id, domain.StatusReady,
		v.Script, v.Tone, nullIfEmpty(v.Animation), nullIfEmpty(v.AudioKey), int(v.Tier),
		domain.StatusVoicing,
	)
	if err != nil {
		return false, fmt.Errorf("record voice result: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkAccepted records the user's acceptance of a ready offer.
func (r *Repository) MarkAccepted(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE offers SET status = $2, accepted_at = now(), updated_at = now()
		WHERE id = $1 AND status = $3`,
		id, domain.StatusAccepted, domain.StatusReady,
	)
	if err != nil {
		return false, fmt.Errorf("mark accepted: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkEscalated flips the offer into review. The from status is rechecked so
// concurrent escalations and already-terminal offers are no-ops.
func (r *Repository) MarkEscalated(ctx context.Context, id uuid.UUID, from domain.Status, reason domain.EscalationReason) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE offers SET
			status = $2, escalated = TRUE, escalation_reason = $3, updated_at = now()
		WHERE id = $1 AND status = $4`,
		id, domain.StatusEscalated, string(reason), from,
	)
	if err != nil {
		return false, fmt.Errorf("mark escalated: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkRejected closes the offer on a fraud rejection.
func (r *Repository) MarkRejected(ctx context.Context, id uuid.UUID, from domain.Status) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE offers SET status = $2, updated_at = now() WHERE id = $1 AND status = $3`,
		id, domain.StatusRejected, from,
	)
	if err != nil {
		return false, fmt.Errorf("mark rejected: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ExpireStale flips every ready offer past its expiry into expired and
// returns how many were affected.
func (r *Repository) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE offers SET status = $1, updated_at = now()
		WHERE status = $2 AND expires_at IS NOT NULL AND expires_at < $3`,
		domain.StatusExpired, domain.StatusReady, now,
	)
	if err != nil {
		return 0, fmt.Errorf("expire stale offers: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListOptimizable returns ready offers eligible for price decay: auto pricing
// on, not locked, older than minAge, and not already optimized inside the
// current window.
func (r *Repository) ListOptimizable(ctx context.Context, now time.Time, minAge, window time.Duration, limit int) ([]*domain.Offer, error) {
	if limit <= 0 {
		limit = 200
	}
	query := `SELECT ` + offerColumns + ` FROM offers
		WHERE status = $1
		  AND auto_pricing_enabled AND NOT price_locked
		  AND created_at <= $2
		  AND (last_price_optimization IS NULL OR last_price_optimization <= $3)
		ORDER BY created_at ASC
		LIMIT $4`

	rows, err := r.pool.Query(ctx, query,
		domain.StatusReady, now.Add(-minAge), now.Add(-window), limit)
	if err != nil {
		return nil, fmt.Errorf("list optimizable offers: %w", err)
	}
	defer rows.Close()

	offers := make([]*domain.Offer, 0)
	for rows.Next() {
		offer, err := scanOffer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan offer: %w", err)
		}
		offers = append(offers, offer)
	}
	return offers, rows.Err()
}

// ApplyPriceChange updates the offer price and writes the audit row in one
// transaction. Returns false when the offer is no longer eligible (left the
// ready status, got locked, or its price changed under us).
func (r *Repository) ApplyPriceChange(ctx context.Context, change domain.PriceChange) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("apply price change: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE offers SET
			offer_amount = $2, last_price_optimization = now(), updated_at = now()
		WHERE id = $1 AND status = $3 AND NOT price_locked AND offer_amount = $4`,
		change.OfferID, change.NewPrice, domain.StatusReady, change.OldPrice,
	)
	if err != nil {
		return false, fmt.Errorf("apply price change: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return false, nil
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO price_history (offer_id, old_price, new_price, reason, trigger_type, days_active, changed_by)
		SELECT id, $2, $3, $4, $5, EXTRACT(DAY FROM now() - created_at)::int, $6
		FROM offers WHERE id = $1`,
		change.OfferID, change.OldPrice, change.NewPrice, change.Reason,
		change.TriggerType, change.ChangedBy,
	); err != nil {
		return false, fmt.Errorf("apply price change: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("apply price change: %w", err)
	}
	return true, nil
}

// OverridePrice applies a manual price change with its audit row in one
// transaction. Unlike ApplyPriceChange it does not require the ready status,
// so reviewers can revise escalated offers.
func (r *Repository) OverridePrice(ctx context.Context, offerID uuid.UUID, newPrice float64, changedBy uuid.UUID, reason string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("override price: %w", err)
	}
	defer tx.Rollback(ctx)

	var oldPrice float64
	err = tx.QueryRow(ctx,
		`SELECT offer_amount FROM offers WHERE id = $1 FOR UPDATE`, offerID,
	).Scan(&oldPrice)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.NotFound(offerNotFoundMsg)
		}
		return fmt.Errorf("override price: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE offers SET offer_amount = $2, updated_at = now() WHERE id = $1`,
		offerID, newPrice,
	); err != nil {
		return fmt.Errorf("override price: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO price_history (offer_id, old_price, new_price, reason, trigger_type, days_active, changed_by)
		SELECT id, $2, $3, $4, 'manual', EXTRACT(DAY FROM now() - created_at)::int, $5
		FROM offers WHERE id = $1`,
		offerID, oldPrice, newPrice, reason, changedBy,
	); err != nil {
		return fmt.Errorf("override price: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("override price: %w", err)
	}
	return nil
}

// ListPriceHistory returns the audit trail for one offer, newest first.
func (r *Repository) ListPriceHistory(ctx context.Context, offerID uuid.UUID) ([]*domain.PriceChange, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, offer_id, old_price, new_price, reason, trigger_type, changed_by, created_at
		FROM price_history WHERE offer_id = $1 ORDER BY created_at DESC`,
		offerID,
	)
	if err != nil {
		return nil, fmt.Errorf("list price history: %w", err)
	}
	defer rows.Close()

	changes := make([]*domain.PriceChange, 0)
	for rows.Next() {
		var ch domain.PriceChange
		if err := rows.Scan(&ch.ID, &ch.OfferID, &ch.OldPrice, &ch.NewPrice,
			&ch.Reason, &ch.TriggerType, &ch.ChangedBy, &ch.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan price change: %w", err)
		}
		changes = append(changes, &ch)
	}
	return changes, rows.Err()
}

// VisionUpdate is the vision stage's write set.
type VisionUpdate struct {
	Category   string
	Brand      string
	Model      string
	Condition  string
	Features   []string
	Damages    []string
	Confidence float64
}

// MarketUpdate is the research stage's write set.
type MarketUpdate struct {
	ComparableCount int
	Mean            float64
	Median          float64
	Min             float64
	Max             float64
	CacheHit        bool
}

// PricingUpdate is the pricing stage's write set.
type PricingUpdate struct {
	FairMarketValue     float64
	Confidence          float64
	OfferAmount         float64
	OfferRatio          float64
	ConditionMultiplier float64
	CategoryMargin      float64
	PriceFloor          float64
	ExpiresAt           time.Time
}

// VoiceUpdate is the voice stage's write set.
type VoiceUpdate struct {
	Script    string
	Tone      domain.Tone
	Animation string
	AudioKey  string
	Tier      domain.VoiceTier
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func scanOffer(row pgx.Row) (*domain.Offer, error) {
	var (
		o           domain.Offer
		userID      *uuid.UUID
		photos      []byte
		description *string
		category    *string
		brand       *string
		model       *string
		condition   *string
		features    []byte
		damages     []byte
		confidence  *float64
		market      []byte
		fmv         *float64
		fmvConf     *float64
		origAmount  *float64
		ratio       *float64
		condMult    *float64
		catMargin   *float64
		priceFloor  *float64
		script      *string
		tone        *string
		animation   *string
		audio       *string
		tier        *int16
		escReason   *string
	)

	err := row.Scan(
		&o.ID, &userID, &o.Status, &photos, &description,
		&category, &brand, &model, &condition, &features, &damages, &confidence,
		&market,
		&fmv, &fmvConf, &o.OfferAmount, &origAmount, &ratio,
		&condMult, &catMargin, &priceFloor, &o.PriceLocked, &o.AutoPricingEnabled,
		&o.LastPriceOptimizedAt,
		&script, &tone, &animation, &audio, &tier,
		&o.VisionCompletedAt, &o.MarketCompletedAt, &o.PricingCompletedAt, &o.VoiceEnqueuedAt, &o.VoiceCompletedAt,
		&o.Escalated, &escReason, &o.ViewCount, &o.ExpiresAt, &o.AcceptedAt, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if userID != nil {
		o.UserID = *userID
	}
	if photos != nil {
		if err := json.Unmarshal(photos, &o.PhotoKeys); err != nil {
			return nil, fmt.Errorf("decode photos: %w", err)
		}
	}
	if features != nil {
		if err := json.Unmarshal(features, &o.Features); err != nil {
			return nil, fmt.Errorf("decode features: %w", err)
		}
	}
	if damages != nil {
		if err := json.Unmarshal(damages, &o.Damages); err != nil {
			return nil, fmt.Errorf("decode damages: %w", err)
		}
	}
	if market != nil {
		var m marketData
		if err := json.Unmarshal(market, &m); err != nil {
			return nil, fmt.Errorf("decode market data: %w", err)
		}
		o.ComparableCount = m.ComparableCount
		o.MarketMean = m.Mean
		o.MarketMedian = m.Median
		o.MarketLow = m.Min
		o.MarketHigh = m.Max
	}

	o.Description = deref(description)
	o.Category = deref(category)
	o.Brand = deref(brand)
	o.Model = deref(model)
	o.Condition = deref(condition)
	o.VoiceScript = deref(script)
	o.VoiceAnimation = deref(animation)
	o.VoiceAudio = deref(audio)
	o.EscalationReason = deref(escReason)
	if tone != nil {
		o.VoiceTone = domain.Tone(*tone)
	}
	if tier != nil {
		o.VoiceTier = domain.VoiceTier(*tier)
	}
	o.Confidence = derefFloat(confidence)
	o.FairMarketValue = derefFloat(fmv)
	o.PricingConfidence = derefFloat(fmvConf)
	o.OriginalOfferAmount = derefFloat(origAmount)
	o.OfferRatio = derefFloat(ratio)
	o.ConditionMultiplier = derefFloat(condMult)
	o.CategoryMargin = derefFloat(catMargin)
	o.PriceFloor = derefFloat(priceFloor)
	if o.OfferRatio > 0 {
		o.Scenario = domain.ScenarioForRatio(o.OfferRatio)
	}

	return &o, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefFloat(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
