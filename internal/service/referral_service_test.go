package service

import (
	"context"
	"testing"
	"time"

	"isla-market/internal/models"
	"isla-market/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type referralFixture struct {
	mem      *store.MemoryStore
	svc      *ReferralService
	referrer *models.Referrer
	owner    models.User
	now      time.Time
}

func newReferralFixture(t *testing.T) *referralFixture {
	t.Helper()
	now := time.Date(2024, time.January, 31, 12, 0, 0, 0, time.UTC)
	mem := store.NewMemoryStore()
	mem.SetClock(fixedClock(now))

	svc := NewReferralService(mem, NewLocalLocker())
	svc.now = fixedClock(now)

	owner := addUser(t, mem, "maria", models.RoleCustomer)
	rate := 10.0
	referrer, err := svc.CreateReferrer(context.Background(), CreateReferrerInput{
		UserID:         owner.ID,
		ReferralCode:   "maria2024",
		CommissionRate: &rate,
	})
	require.NoError(t, err)

	return &referralFixture{mem: mem, svc: svc, referrer: referrer, owner: owner, now: now}
}

type busyLocker struct{}

func (busyLocker) AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return false, nil
}

func (busyLocker) ReleaseLock(ctx context.Context, key string) error { return nil }

func TestCreateReferralLink(t *testing.T) {
	f := newReferralFixture(t)
	ctx := context.Background()
	user := addUser(t, f.mem, "pedro", models.RoleCustomer)

	referral, err := f.svc.CreateReferralLink(ctx, user.ID, " maria2024 ")
	require.NoError(t, err)
	assert.Equal(t, "MARIA2024", referral.ReferralCode)
	assert.Equal(t, 10.0, referral.CommissionRate)
	assert.True(t, referral.IsActive)
	assert.Equal(t, f.now.AddDate(0, 6, 0), referral.ExpiresAt)

	got, err := f.mem.GetReferrer(ctx, f.referrer.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.TotalReferrals)
	assert.Equal(t, 1, got.ActiveReferrals)

	_, err = f.svc.CreateReferralLink(ctx, user.ID, "MARIA2024")
	requireKind(t, err, KindValidation)
	assert.Contains(t, err.Error(), "already been referred")
}

func TestCreateReferralLinkRejections(t *testing.T) {
	f := newReferralFixture(t)
	ctx := context.Background()
	user := addUser(t, f.mem, "pedro", models.RoleCustomer)

	_, err := f.svc.CreateReferralLink(ctx, user.ID, "  ")
	requireKind(t, err, KindValidation)

	_, err = f.svc.CreateReferralLink(ctx, user.ID, "NOPE")
	requireKind(t, err, KindNotFound)

	_, err = f.svc.CreateReferralLink(ctx, f.owner.ID, "MARIA2024")
	requireKind(t, err, KindValidation)
	assert.Contains(t, err.Error(), "yourself")

	off := false
	_, err = f.svc.UpdateReferrer(ctx, f.referrer.ID, models.ReferrerPatch{IsActive: &off})
	require.NoError(t, err)
	_, err = f.svc.CreateReferralLink(ctx, user.ID, "MARIA2024")
	requireKind(t, err, KindNotFound)
}

func TestCreateReferralLinkInProgress(t *testing.T) {
	f := newReferralFixture(t)
	svc := NewReferralService(f.mem, busyLocker{})
	user := addUser(t, f.mem, "pedro", models.RoleCustomer)

	_, err := svc.CreateReferralLink(context.Background(), user.ID, "MARIA2024")
	requireKind(t, err, KindConflict)
}

func TestValidateCodeIsCaseInsensitive(t *testing.T) {
	f := newReferralFixture(t)
	ctx := context.Background()

	for _, code := range []string{"maria2024", "MARIA2024", "Maria2024"} {
		result, err := f.svc.ValidateCode(ctx, code)
		require.NoError(t, err)
		assert.True(t, result.Valid, code)
		assert.Equal(t, "maria", result.ReferrerName)
		require.NotNil(t, result.CommissionRate)
		assert.Equal(t, 10.0, *result.CommissionRate)
	}

	result, err := f.svc.ValidateCode(ctx, "unknown")
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Nil(t, result.CommissionRate)
}

func TestCheckReferrerStatus(t *testing.T) {
	f := newReferralFixture(t)
	ctx := context.Background()

	status, err := f.svc.CheckReferrerStatus(ctx, f.owner.ID)
	require.NoError(t, err)
	assert.True(t, status.IsReferrer)
	assert.True(t, status.IsActive)

	off := false
	_, err = f.svc.UpdateReferrer(ctx, f.referrer.ID, models.ReferrerPatch{IsActive: &off})
	require.NoError(t, err)
	status, err = f.svc.CheckReferrerStatus(ctx, f.owner.ID)
	require.NoError(t, err)
	assert.True(t, status.IsReferrer)
	assert.False(t, status.IsActive)

	stranger := addUser(t, f.mem, "pedro", models.RoleCustomer)
	status, err = f.svc.CheckReferrerStatus(ctx, stranger.ID)
	require.NoError(t, err)
	assert.False(t, status.IsReferrer)
}

func TestMyStatsSplitsActiveAndExpired(t *testing.T) {
	f := newReferralFixture(t)
	ctx := context.Background()
	user := addUser(t, f.mem, "pedro", models.RoleCustomer)

	_, err := f.svc.CreateReferralLink(ctx, user.ID, "MARIA2024")
	require.NoError(t, err)

	stats, err := f.svc.MyStats(ctx, f.owner.ID)
	require.NoError(t, err)
	assert.Len(t, stats.ActiveReferrals, 1)
	assert.Empty(t, stats.ExpiredReferrals)
	assert.Len(t, stats.Monthly, 6)
	assert.Equal(t, "2024-01", stats.Monthly[5].Month)

	f.svc.now = fixedClock(f.now.AddDate(0, 7, 0))
	stats, err = f.svc.MyStats(ctx, f.owner.ID)
	require.NoError(t, err)
	assert.Empty(t, stats.ActiveReferrals)
	assert.Len(t, stats.ExpiredReferrals, 1)

	stranger := addUser(t, f.mem, "luis", models.RoleCustomer)
	_, err = f.svc.MyStats(ctx, stranger.ID)
	requireKind(t, err, KindNotFound)
}

func TestRankingFallsBackToCommissions(t *testing.T) {
	f := newReferralFixture(t)
	ctx := context.Background()

	second := addUser(t, f.mem, "rosa", models.RoleCustomer)
	other, err := f.svc.CreateReferrer(ctx, CreateReferrerInput{UserID: second.ID})
	require.NoError(t, err)
	assert.Len(t, other.ReferralCode, 8)
	require.NoError(t, f.mem.AddReferrerSale(ctx, other.ID, 10000, 1000))

	ranking, err := f.svc.Ranking(ctx, "password; DROP TABLE", 0, false)
	require.NoError(t, err)
	assert.Equal(t, "total_commissions", ranking.SortBy)
	require.Len(t, ranking.Referrers, 2)
	assert.Equal(t, other.ID, ranking.Referrers[0].ID)
	assert.Equal(t, "rosa@example.com", ranking.Referrers[0].Email)

	ranking, err = f.svc.Ranking(ctx, "total_sales", 1, false)
	require.NoError(t, err)
	assert.Equal(t, "total_sales", ranking.SortBy)
	assert.Len(t, ranking.Referrers, 1)
}

func TestCreateReferrerValidation(t *testing.T) {
	f := newReferralFixture(t)
	ctx := context.Background()
	user := addUser(t, f.mem, "rosa", models.RoleCustomer)

	badRate := 150.0
	_, err := f.svc.CreateReferrer(ctx, CreateReferrerInput{UserID: user.ID, CommissionRate: &badRate})
	requireKind(t, err, KindValidation)

	badMonths := 0
	_, err = f.svc.CreateReferrer(ctx, CreateReferrerInput{UserID: user.ID, DurationMonths: &badMonths})
	requireKind(t, err, KindValidation)

	_, err = f.svc.CreateReferrer(ctx, CreateReferrerInput{UserID: user.ID, ReferralCode: "a-b"})
	requireKind(t, err, KindValidation)

	_, err = f.svc.CreateReferrer(ctx, CreateReferrerInput{UserID: user.ID, ReferralCode: "MARIA2024"})
	requireKind(t, err, KindConflict)

	_, err = f.svc.CreateReferrer(ctx, CreateReferrerInput{UserID: f.owner.ID})
	requireKind(t, err, KindConflict)
}

func placeOrder(t *testing.T, m *store.MemoryStore, user models.User, total int64, createdAt time.Time, status models.OrderStatus) *models.Order {
	t.Helper()
	order := &models.Order{UserID: user.ID, Status: status, TotalAmount: total, CreatedAt: createdAt}
	require.NoError(t, m.CreateOrder(context.Background(), order))
	return order
}

func TestRecordCommission(t *testing.T) {
	f := newReferralFixture(t)
	ctx := context.Background()
	user := addUser(t, f.mem, "pedro", models.RoleCustomer)
	_, err := f.svc.CreateReferralLink(ctx, user.ID, "MARIA2024")
	require.NoError(t, err)

	order := placeOrder(t, f.mem, user, 12345, f.now.Add(time.Hour), models.OrderStatusPaid)

	commission, err := f.svc.RecordCommission(ctx, order.ID)
	require.NoError(t, err)
	require.NotNil(t, commission)
	assert.Equal(t, int64(1235), commission.CommissionAmount)
	assert.Equal(t, int64(12345), commission.OrderTotal)

	again, err := f.svc.RecordCommission(ctx, order.ID)
	require.NoError(t, err)
	assert.Nil(t, again)

	referrer, err := f.mem.GetReferrer(ctx, f.referrer.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, referrer.TotalOrders)
	assert.Equal(t, int64(12345), referrer.TotalSales)
	assert.Equal(t, int64(1235), referrer.TotalCommissions)
}

func TestRecordCommissionSkips(t *testing.T) {
	f := newReferralFixture(t)
	ctx := context.Background()
	user := addUser(t, f.mem, "pedro", models.RoleCustomer)
	_, err := f.svc.CreateReferralLink(ctx, user.ID, "MARIA2024")
	require.NoError(t, err)
	unreferred := addUser(t, f.mem, "luis", models.RoleCustomer)

	tests := []struct {
		name  string
		order *models.Order
	}{
		{"pending order", placeOrder(t, f.mem, user, 1000, f.now.Add(time.Hour), models.OrderStatusPending)},
		{"not referred", placeOrder(t, f.mem, unreferred, 1000, f.now.Add(time.Hour), models.OrderStatusPaid)},
		{"before referral", placeOrder(t, f.mem, user, 1000, f.now.Add(-time.Hour), models.OrderStatusPaid)},
		{"after expiry", placeOrder(t, f.mem, user, 1000, f.now.AddDate(0, 7, 0), models.OrderStatusDelivered)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			commission, err := f.svc.RecordCommission(ctx, tt.order.ID)
			require.NoError(t, err)
			assert.Nil(t, commission)
		})
	}

	_, err = f.svc.RecordCommission(ctx, 999)
	requireKind(t, err, KindNotFound)
}

func TestCommissionAmount(t *testing.T) {
	assert.Equal(t, int64(1000), CommissionAmount(10000, 10))
	assert.Equal(t, int64(1235), CommissionAmount(12345, 10))
	assert.Equal(t, int64(1234), CommissionAmount(12344, 10))
	assert.Equal(t, int64(188), CommissionAmount(1250, 15))
	assert.Equal(t, int64(0), CommissionAmount(0, 10))
}

func TestMonthlyRollup(t *testing.T) {
	now := time.Date(2024, time.March, 15, 0, 0, 0, 0, time.UTC)
	commissions := []models.CommissionDetail{
		{ReferralCommission: models.ReferralCommission{CommissionAmount: 100, CreatedAt: time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)}},
		{ReferralCommission: models.ReferralCommission{CommissionAmount: 50, CreatedAt: time.Date(2024, time.March, 14, 0, 0, 0, 0, time.UTC)}},
		{ReferralCommission: models.ReferralCommission{CommissionAmount: 70, CreatedAt: time.Date(2023, time.December, 31, 0, 0, 0, 0, time.UTC)}},
		{ReferralCommission: models.ReferralCommission{CommissionAmount: 999, CreatedAt: time.Date(2023, time.July, 1, 0, 0, 0, 0, time.UTC)}},
	}

	rollup := monthlyRollup(commissions, now, 6)
	require.Len(t, rollup, 6)
	assert.Equal(t, "2023-10", rollup[0].Month)
	assert.Equal(t, MonthlyCommission{Month: "2023-12", Total: 70, Count: 1}, rollup[2])
	assert.Equal(t, MonthlyCommission{Month: "2024-03", Total: 150, Count: 2}, rollup[5])
}
