package service

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"isla-market/internal/models"
	"isla-market/internal/store"
	"isla-market/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	defaultCommissionRate = 10.0
	defaultDurationMonths = 6
	defaultRankingLimit   = 10
	maxRankingLimit       = 100
	statsMonths           = 6
	referralLockTTL       = 10 * time.Second
	generatedCodeLength   = 8
)

var referralCodePattern = regexp.MustCompile(`^[A-Z0-9]{4,20}$`)

// ReferralService implements the referral program
type ReferralService struct {
	repo   store.Repository
	locker Locker
	logger *zap.Logger
	now    func() time.Time
}

// NewReferralService creates a new referral service
func NewReferralService(repo store.Repository, locker Locker) *ReferralService {
	return &ReferralService{
		repo:   repo,
		locker: locker,
		logger: util.GetLogger(),
		now:    time.Now,
	}
}

// NormalizeCode canonicalizes a user-supplied referral code
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// CreateReferralLink links userID to the referrer owning code. The link
// expires duration_months calendar months from now.
func (s *ReferralService) CreateReferralLink(ctx context.Context, userID uuid.UUID, code string) (*models.Referral, error) {
	ctx, span := util.StartSpan(ctx, "ReferralService.CreateReferralLink")
	defer span.End()

	code = NormalizeCode(code)
	if code == "" {
		return nil, s.reject("missing_code", Validation("referral code is required"))
	}

	referrer, err := s.repo.GetReferrerByCode(ctx, code)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, Internal("failed to look up referral code", err)
	}
	if referrer == nil || !referrer.IsActive {
		return nil, s.reject("not_found", NotFound("referral code not found or inactive"))
	}
	if referrer.ReferralCode == "" || referrer.CommissionRate <= 0 {
		s.logger.Error("Referrer has incomplete data", zap.Int64("referrer_id", referrer.ID))
		return nil, s.reject("incomplete_referrer", Internal("referrer data is incomplete", nil))
	}
	if referrer.UserID == userID {
		return nil, s.reject("self_referral", Validation("you cannot refer yourself"))
	}

	lockKey := "referral:" + userID.String()
	locked, err := s.locker.AcquireLock(ctx, lockKey, referralLockTTL)
	if err != nil {
		return nil, Internal("failed to acquire referral lock", err)
	}
	if !locked {
		return nil, s.reject("in_progress", Conflict("a referral for this user is already being processed", nil))
	}
	defer func() {
		if err := s.locker.ReleaseLock(context.Background(), lockKey); err != nil {
			s.logger.Warn("Failed to release referral lock", zap.String("lock", lockKey), zap.Error(err))
		}
	}()

	months := referrer.DurationMonths
	if months <= 0 {
		months = defaultDurationMonths
	}
	now := s.now()
	referral := &models.Referral{
		ReferrerID:     referrer.ID,
		ReferredUserID: userID,
		ReferralCode:   referrer.ReferralCode,
		CommissionRate: referrer.CommissionRate,
		ExpiresAt:      now.AddDate(0, months, 0),
		IsActive:       true,
		CreatedAt:      now,
	}

	err = s.repo.InTx(ctx, func(q store.Querier) error {
		existing, err := q.GetReferralByReferredUser(ctx, userID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return Internal("failed to check existing referral", err)
		}
		if existing != nil {
			return Validation("user has already been referred")
		}

		if err := q.CreateReferral(ctx, referral); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return Validation("user has already been referred")
			}
			return Internal("failed to create referral", err)
		}
		if err := q.IncrementReferrerReferrals(ctx, referrer.ID); err != nil {
			return Internal("failed to update referrer totals", err)
		}
		return nil
	})
	if err != nil {
		if KindOf(err) == KindValidation {
			return nil, s.reject("already_referred", err)
		}
		return nil, err
	}

	util.ReferralsLinkedTotal.Inc()
	s.logger.Info("Referral linked",
		zap.Int64("referral_id", referral.ID),
		zap.Int64("referrer_id", referrer.ID),
		zap.String("user_id", userID.String()))
	return referral, nil
}

func (s *ReferralService) reject(reason string, err error) error {
	util.ReferralLinkRejectedTotal.WithLabelValues(reason).Inc()
	return err
}

// ReferrerStatus tells whether a user is enrolled and whether the enrollment is active
type ReferrerStatus struct {
	IsReferrer bool             `json:"is_referrer"`
	IsActive   bool             `json:"is_active"`
	Referrer   *models.Referrer `json:"referrer,omitempty"`
}

// CheckReferrerStatus reports the referrer row of userID regardless of is_active
func (s *ReferralService) CheckReferrerStatus(ctx context.Context, userID uuid.UUID) (*ReferrerStatus, error) {
	referrer, err := s.repo.GetReferrerByUserID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return &ReferrerStatus{}, nil
	}
	if err != nil {
		return nil, Internal("failed to load referrer", err)
	}
	return &ReferrerStatus{IsReferrer: true, IsActive: referrer.IsActive, Referrer: referrer}, nil
}

// MonthlyCommission is the commission total of one calendar month
type MonthlyCommission struct {
	Month string `json:"month"`
	Total int64  `json:"total"`
	Count int    `json:"count"`
}

// ReferrerStats is the dashboard of one referrer
type ReferrerStats struct {
	Referrer          *models.Referrer          `json:"referrer"`
	ActiveReferrals   []models.ReferralWithUser `json:"active_referrals"`
	ExpiredReferrals  []models.ReferralWithUser `json:"expired_referrals"`
	Commissions       []models.CommissionDetail `json:"commissions"`
	Monthly           []MonthlyCommission       `json:"monthly"`
	CurrentMonthTotal int64                     `json:"current_month_total"`
}

// MyStats returns the referral dashboard of userID
func (s *ReferralService) MyStats(ctx context.Context, userID uuid.UUID) (*ReferrerStats, error) {
	ctx, span := util.StartSpan(ctx, "ReferralService.MyStats")
	defer span.End()

	referrer, err := s.repo.GetReferrerByUserID(ctx, userID)
	if err != nil {
		return nil, fromStore(err, "you are not a referrer", "")
	}

	referrals, err := s.repo.ListReferralsByReferrer(ctx, referrer.ID)
	if err != nil {
		return nil, Internal("failed to list referrals", err)
	}
	commissions, err := s.repo.ListCommissionsByReferrer(ctx, referrer.ID)
	if err != nil {
		return nil, Internal("failed to list commissions", err)
	}

	now := s.now()
	stats := &ReferrerStats{
		Referrer:         referrer,
		ActiveReferrals:  []models.ReferralWithUser{},
		ExpiredReferrals: []models.ReferralWithUser{},
		Commissions:      commissions,
	}
	if stats.Commissions == nil {
		stats.Commissions = []models.CommissionDetail{}
	}
	for _, r := range referrals {
		if r.IsLiveAt(now) {
			stats.ActiveReferrals = append(stats.ActiveReferrals, r)
		} else {
			stats.ExpiredReferrals = append(stats.ExpiredReferrals, r)
		}
	}

	stats.Monthly = monthlyRollup(commissions, now, statsMonths)
	stats.CurrentMonthTotal = stats.Monthly[len(stats.Monthly)-1].Total
	return stats, nil
}

// monthlyRollup sums commissions per calendar month for the trailing months
// ending with the month of now, oldest first
func monthlyRollup(commissions []models.CommissionDetail, now time.Time, months int) []MonthlyCommission {
	now = now.UTC()
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -(months - 1), 0)

	out := make([]MonthlyCommission, months)
	index := make(map[string]int, months)
	for i := 0; i < months; i++ {
		key := first.AddDate(0, i, 0).Format("2006-01")
		out[i].Month = key
		index[key] = i
	}

	for _, c := range commissions {
		if i, ok := index[c.CreatedAt.UTC().Format("2006-01")]; ok {
			out[i].Total += c.CommissionAmount
			out[i].Count++
		}
	}
	return out
}

// RankedReferrer is a referrer with the owning user's contact details
type RankedReferrer struct {
	models.Referrer
	Email    string `json:"email"`
	FullName string `json:"full_name"`
}

// Ranking is an ordered referrer leaderboard
type Ranking struct {
	SortBy    string           `json:"sort_by"`
	Referrers []RankedReferrer `json:"referrers"`
}

// Ranking orders referrers by an allow-listed column, falling back to total_commissions
func (s *ReferralService) Ranking(ctx context.Context, sortBy string, limit int, includeInactive bool) (*Ranking, error) {
	ctx, span := util.StartSpan(ctx, "ReferralService.Ranking")
	defer span.End()

	column := store.NormalizeRankingField(sortBy)
	if limit <= 0 {
		limit = defaultRankingLimit
	}
	if limit > maxRankingLimit {
		limit = maxRankingLimit
	}

	referrers, err := s.repo.ListReferrers(ctx, store.RankingFilter{SortBy: column, Limit: limit, IncludeInactive: includeInactive})
	if err != nil {
		return nil, Internal("failed to rank referrers", err)
	}

	ids := make([]uuid.UUID, len(referrers))
	for i, r := range referrers {
		ids[i] = r.UserID
	}
	users, err := s.repo.GetUsersByIDs(ctx, ids)
	if err != nil {
		return nil, Internal("failed to load referrer users", err)
	}
	byID := make(map[uuid.UUID]models.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}

	ranked := make([]RankedReferrer, len(referrers))
	for i, r := range referrers {
		u := byID[r.UserID]
		ranked[i] = RankedReferrer{Referrer: r, Email: u.Email, FullName: u.FullName}
	}
	return &Ranking{SortBy: column, Referrers: ranked}, nil
}

// CodeValidation is the public answer about a referral code
type CodeValidation struct {
	Valid          bool     `json:"valid"`
	ReferrerName   string   `json:"referrer_name,omitempty"`
	CommissionRate *float64 `json:"commission_rate,omitempty"`
}

// ValidateCode reports whether code belongs to an active referrer. Case-insensitive.
func (s *ReferralService) ValidateCode(ctx context.Context, code string) (*CodeValidation, error) {
	code = NormalizeCode(code)
	if code == "" {
		return &CodeValidation{}, nil
	}

	referrer, err := s.repo.GetReferrerByCode(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		return &CodeValidation{}, nil
	}
	if err != nil {
		return nil, Internal("failed to look up referral code", err)
	}
	if !referrer.IsActive {
		return &CodeValidation{}, nil
	}

	result := &CodeValidation{Valid: true, CommissionRate: &referrer.CommissionRate}
	if user, err := s.repo.GetUserByID(ctx, referrer.UserID); err == nil {
		result.ReferrerName = user.FullName
	}
	return result, nil
}

// CreateReferrerInput enrolls a user in the referral program
type CreateReferrerInput struct {
	UserID         uuid.UUID `json:"user_id"`
	ReferralCode   string    `json:"referral_code"`
	CommissionRate *float64  `json:"commission_rate"`
	DurationMonths *int      `json:"duration_months"`
	IsActive       *bool     `json:"is_active"`
}

func validateTerms(rate *float64, months *int) error {
	if rate != nil && (*rate <= 0 || *rate > 100) {
		return Validation("commission_rate must be greater than 0 and at most 100")
	}
	if months != nil && (*months < 1 || *months > 120) {
		return Validation("duration_months must be between 1 and 120")
	}
	return nil
}

// CreateReferrer enrolls a user, generating a code when none is given
func (s *ReferralService) CreateReferrer(ctx context.Context, in CreateReferrerInput) (*models.Referrer, error) {
	if in.UserID == uuid.Nil {
		return nil, Validation("user_id is required")
	}
	if err := validateTerms(in.CommissionRate, in.DurationMonths); err != nil {
		return nil, err
	}
	if _, err := s.repo.GetUserByID(ctx, in.UserID); err != nil {
		return nil, fromStore(err, "user not found", "")
	}

	referrer := &models.Referrer{
		UserID:         in.UserID,
		CommissionRate: defaultCommissionRate,
		DurationMonths: defaultDurationMonths,
		IsActive:       in.IsActive == nil || *in.IsActive,
	}
	if in.CommissionRate != nil {
		referrer.CommissionRate = *in.CommissionRate
	}
	if in.DurationMonths != nil {
		referrer.DurationMonths = *in.DurationMonths
	}

	code := NormalizeCode(in.ReferralCode)
	if code != "" {
		if !referralCodePattern.MatchString(code) {
			return nil, Validation("referral_code must be 4 to 20 letters or digits")
		}
		referrer.ReferralCode = code
		if err := s.repo.CreateReferrer(ctx, referrer); err != nil {
			return nil, fromStore(err, "", "referral code already exists or user is already a referrer")
		}
		return referrer, nil
	}

	var err error
	for attempt := 0; attempt < 3; attempt++ {
		referrer.ReferralCode = generateCode()
		err = s.repo.CreateReferrer(ctx, referrer)
		if err == nil {
			s.logger.Info("Referrer created", zap.Int64("referrer_id", referrer.ID), zap.String("code", referrer.ReferralCode))
			return referrer, nil
		}
		if !errors.Is(err, store.ErrConflict) {
			break
		}
		if _, lookupErr := s.repo.GetReferrerByUserID(ctx, in.UserID); lookupErr == nil {
			break
		}
	}
	return nil, fromStore(err, "", "referral code already exists or user is already a referrer")
}

func generateCode() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return strings.ToUpper(raw[:generatedCodeLength])
}

// UpdateReferrer applies a referrer patch
func (s *ReferralService) UpdateReferrer(ctx context.Context, id int64, patch models.ReferrerPatch) (*models.Referrer, error) {
	if err := validateTerms(patch.CommissionRate, patch.DurationMonths); err != nil {
		return nil, err
	}
	referrer, err := s.repo.UpdateReferrer(ctx, id, patch)
	return referrer, fromStore(err, "referrer not found", "")
}

// RecordCommission books the commission of a paid order when its user was
// referred and the referral was live when the order was placed. Returns nil
// when no commission applies or one was already recorded for the order.
func (s *ReferralService) RecordCommission(ctx context.Context, orderID int64) (*models.ReferralCommission, error) {
	ctx, span := util.StartSpan(ctx, "ReferralService.RecordCommission")
	defer span.End()

	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, fromStore(err, "order not found", "")
	}
	if !order.Status.IsConfirmedSale() {
		return nil, nil
	}

	referral, err := s.repo.GetReferralByReferredUser(ctx, order.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, Internal("failed to load referral", err)
	}
	if order.CreatedAt.Before(referral.CreatedAt) || !referral.IsLiveAt(order.CreatedAt) {
		return nil, nil
	}

	commission := &models.ReferralCommission{
		ReferralID:       referral.ID,
		ReferrerID:       referral.ReferrerID,
		ReferredUserID:   order.UserID,
		OrderID:          order.ID,
		OrderTotal:       order.TotalAmount,
		CommissionRate:   referral.CommissionRate,
		CommissionAmount: CommissionAmount(order.TotalAmount, referral.CommissionRate),
	}

	created := false
	err = s.repo.InTx(ctx, func(q store.Querier) error {
		var err error
		created, err = q.CreateCommission(ctx, commission)
		if err != nil {
			return Internal("failed to create commission", err)
		}
		if !created {
			return nil
		}
		if err := q.AddReferrerSale(ctx, referral.ReferrerID, order.TotalAmount, commission.CommissionAmount); err != nil {
			return Internal("failed to update referrer totals", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !created {
		s.logger.Info("Commission already recorded", zap.Int64("order_id", orderID))
		return nil, nil
	}

	util.CommissionsRecordedTotal.Inc()
	s.logger.Info("Commission recorded",
		zap.Int64("order_id", orderID),
		zap.Int64("referrer_id", referral.ReferrerID),
		zap.Int64("commission_amount", commission.CommissionAmount))
	return commission, nil
}

// CommissionAmount is total * rate / 100 rounded half away from zero to minor units
func CommissionAmount(total int64, ratePercent float64) int64 {
	return decimal.NewFromInt(total).
		Mul(decimal.NewFromFloat(ratePercent)).
		Div(decimal.NewFromInt(100)).
		Round(0).
		IntPart()
}
