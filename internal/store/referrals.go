package store

import (
	"context"
	"fmt"

	"isla-market/internal/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// CreateReferrer enrolls a user; codes and users are unique
func (q *Queries) CreateReferrer(ctx context.Context, referrer *models.Referrer) error {
	query := `
		INSERT INTO referrers (user_id, referral_code, commission_rate, duration_months, is_active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`

	err := sqlx.GetContext(ctx, q.db, referrer, query,
		referrer.UserID, referrer.ReferralCode, referrer.CommissionRate,
		referrer.DurationMonths, referrer.IsActive)
	return mapErr(err, "create referrer")
}

// GetReferrer retrieves a referrer by ID
func (q *Queries) GetReferrer(ctx context.Context, id int64) (*models.Referrer, error) {
	var referrer models.Referrer
	err := sqlx.GetContext(ctx, q.db, &referrer, "SELECT * FROM referrers WHERE id = $1", id)
	if err != nil {
		return nil, mapErr(err, fmt.Sprintf("referrer %d", id))
	}
	return &referrer, nil
}

// GetReferrerByCode retrieves a referrer by its exact (uppercase) code
func (q *Queries) GetReferrerByCode(ctx context.Context, code string) (*models.Referrer, error) {
	var referrer models.Referrer
	err := sqlx.GetContext(ctx, q.db, &referrer, "SELECT * FROM referrers WHERE referral_code = $1", code)
	if err != nil {
		return nil, mapErr(err, fmt.Sprintf("referral code %q", code))
	}
	return &referrer, nil
}

// GetReferrerByUserID retrieves the referrer row of a user
func (q *Queries) GetReferrerByUserID(ctx context.Context, userID uuid.UUID) (*models.Referrer, error) {
	var referrer models.Referrer
	err := sqlx.GetContext(ctx, q.db, &referrer, "SELECT * FROM referrers WHERE user_id = $1", userID)
	if err != nil {
		return nil, mapErr(err, fmt.Sprintf("referrer for user %s", userID))
	}
	return &referrer, nil
}

// UpdateReferrer applies a referrer patch
func (q *Queries) UpdateReferrer(ctx context.Context, id int64, patch models.ReferrerPatch) (*models.Referrer, error) {
	var b updateBuilder
	if patch.CommissionRate != nil {
		b.set("commission_rate", *patch.CommissionRate)
	}
	if patch.DurationMonths != nil {
		b.set("duration_months", *patch.DurationMonths)
	}
	if patch.IsActive != nil {
		b.set("is_active", *patch.IsActive)
	}
	if b.empty() {
		return q.GetReferrer(ctx, id)
	}

	query := fmt.Sprintf("UPDATE referrers SET %s, updated_at = NOW() WHERE id = %s RETURNING *",
		joinSets(b.sets), b.where(id))

	var referrer models.Referrer
	if err := sqlx.GetContext(ctx, q.db, &referrer, query, b.args...); err != nil {
		return nil, mapErr(err, fmt.Sprintf("referrer %d", id))
	}
	return &referrer, nil
}

// ListReferrers orders referrers by an allow-listed column, descending
func (q *Queries) ListReferrers(ctx context.Context, filter RankingFilter) ([]models.Referrer, error) {
	column := NormalizeRankingField(filter.SortBy)

	query := "SELECT * FROM referrers"
	if !filter.IncludeInactive {
		query += " WHERE is_active = TRUE"
	}
	query += fmt.Sprintf(" ORDER BY %s DESC, id ASC LIMIT $1", column)

	var referrers []models.Referrer
	err := sqlx.SelectContext(ctx, q.db, &referrers, query, filter.Limit)
	return referrers, err
}

// CreateReferral inserts a referral; referred_user_id is unique
func (q *Queries) CreateReferral(ctx context.Context, referral *models.Referral) error {
	query := `
		INSERT INTO referrals
			(referrer_id, referred_user_id, referral_code, commission_rate, expires_at, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	err := sqlx.GetContext(ctx, q.db, &referral.ID, query,
		referral.ReferrerID, referral.ReferredUserID, referral.ReferralCode,
		referral.CommissionRate, referral.ExpiresAt, referral.IsActive, referral.CreatedAt)
	return mapErr(err, "create referral")
}

// GetReferralByReferredUser retrieves the referral of a referred user
func (q *Queries) GetReferralByReferredUser(ctx context.Context, userID uuid.UUID) (*models.Referral, error) {
	var referral models.Referral
	err := sqlx.GetContext(ctx, q.db, &referral,
		"SELECT * FROM referrals WHERE referred_user_id = $1", userID)
	if err != nil {
		return nil, mapErr(err, fmt.Sprintf("referral for user %s", userID))
	}
	return &referral, nil
}

// ListReferralsByReferrer retrieves a referrer's referrals with referred user details
func (q *Queries) ListReferralsByReferrer(ctx context.Context, referrerID int64) ([]models.ReferralWithUser, error) {
	var referrals []models.ReferralWithUser
	err := sqlx.SelectContext(ctx, q.db, &referrals, `
		SELECT r.*, COALESCE(u.email, '') AS referred_email, COALESCE(u.full_name, '') AS referred_name
		FROM referrals r
		LEFT JOIN users u ON u.id = r.referred_user_id
		WHERE r.referrer_id = $1
		ORDER BY r.created_at DESC`, referrerID)
	return referrals, err
}

// IncrementReferrerReferrals counts a new referral on the referrer
func (q *Queries) IncrementReferrerReferrals(ctx context.Context, referrerID int64) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE referrers
		SET total_referrals = total_referrals + 1, active_referrals = active_referrals + 1, updated_at = NOW()
		WHERE id = $1`, referrerID)
	return err
}

// CreateCommission inserts a commission once per order.
// Returns false when the order already has one.
func (q *Queries) CreateCommission(ctx context.Context, c *models.ReferralCommission) (bool, error) {
	rows, err := sqlx.NamedQueryContext(ctx, q.db, `
		INSERT INTO referral_commissions
			(referral_id, referrer_id, referred_user_id, order_id, order_total, commission_rate, commission_amount)
		VALUES (:referral_id, :referrer_id, :referred_user_id, :order_id, :order_total, :commission_rate, :commission_amount)
		ON CONFLICT (order_id) DO NOTHING
		RETURNING id, created_at`, c)
	if err != nil {
		return false, mapErr(err, "create commission")
	}
	defer rows.Close()

	if !rows.Next() {
		return false, rows.Err()
	}
	return true, rows.Scan(&c.ID, &c.CreatedAt)
}

// AddReferrerSale adds an attributed order to the referrer's running totals
func (q *Queries) AddReferrerSale(ctx context.Context, referrerID int64, orderTotal, commission int64) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE referrers
		SET total_orders = total_orders + 1,
			total_sales = total_sales + $1,
			total_commissions = total_commissions + $2,
			updated_at = NOW()
		WHERE id = $3`, orderTotal, commission, referrerID)
	return err
}

// ListCommissionsByReferrer retrieves commissions with referred user and order summaries
func (q *Queries) ListCommissionsByReferrer(ctx context.Context, referrerID int64) ([]models.CommissionDetail, error) {
	var commissions []models.CommissionDetail
	err := sqlx.SelectContext(ctx, q.db, &commissions, `
		SELECT c.*,
			COALESCE(u.email, '') AS referred_email,
			COALESCE(u.full_name, '') AS referred_name,
			o.status AS order_status,
			o.created_at AS order_date
		FROM referral_commissions c
		JOIN orders o ON o.id = c.order_id
		LEFT JOIN users u ON u.id = c.referred_user_id
		WHERE c.referrer_id = $1
		ORDER BY c.created_at DESC`, referrerID)
	for i := range commissions {
		commissions[i].OrderStatus = commissions[i].OrderStatus.Normalized()
	}
	return commissions, err
}

// IsEventProcessed checks if an event has been processed
func (q *Queries) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := sqlx.GetContext(ctx, q.db, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed marks an event as processed
func (q *Queries) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := q.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}
