package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"isla-market/internal/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

var (
	// ErrNotFound is returned when a row does not exist
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned on unique or foreign key violations
	ErrConflict = errors.New("conflict")
)

// Querier is every query the service layer issues. Both the pooled handle
// and a transaction satisfy it.
type Querier interface {
	// users
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetUsersByIDs(ctx context.Context, ids []uuid.UUID) ([]models.User, error)
	ListUsers(ctx context.Context, limit, offset int) ([]models.User, error)
	UpdateUserProfile(ctx context.Context, id uuid.UUID, patch models.ProfilePatch) (*models.User, error)
	UpdateUserRole(ctx context.Context, id uuid.UUID, role string) error
	GetUserOrderStats(ctx context.Context, id uuid.UUID) (UserOrderStats, error)

	// shipping addresses
	CreateShippingAddress(ctx context.Context, addr *models.ShippingAddress) error
	GetShippingAddress(ctx context.Context, id int64) (*models.ShippingAddress, error)
	ListShippingAddresses(ctx context.Context, userID uuid.UUID) ([]models.ShippingAddress, error)

	// categories
	ListCategories(ctx context.Context) ([]models.Category, error)
	GetCategory(ctx context.Context, id int64) (*models.Category, error)
	GetCategoryBySlug(ctx context.Context, slug string) (*models.Category, error)
	CreateCategory(ctx context.Context, category *models.Category) error
	UpdateCategory(ctx context.Context, id int64, patch models.CategoryPatch) (*models.Category, error)
	DeleteCategory(ctx context.Context, id int64) error
	CountProductsInCategory(ctx context.Context, categoryID int64, activeOnly bool) (int, error)

	// products
	ListProducts(ctx context.Context, filter ProductFilter) ([]models.Product, error)
	GetProduct(ctx context.Context, id int64) (*models.Product, error)
	GetProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error)
	CreateProduct(ctx context.Context, product *models.Product) error
	UpdateProduct(ctx context.Context, id int64, patch models.ProductPatch) (*models.Product, error)
	DeleteProduct(ctx context.Context, id int64) error
	CountOrderItemsForProduct(ctx context.Context, productID int64) (int, error)
	DecrementProductStock(ctx context.Context, productID int64, quantity int) (bool, error)
	IncrementProductStock(ctx context.Context, productID int64, quantity int) error
	CountLowStockProducts(ctx context.Context, threshold int) (int, error)

	// variants
	ListVariants(ctx context.Context, productIDs []int64, activeOnly bool) ([]models.ProductVariant, error)
	GetVariant(ctx context.Context, id int64) (*models.ProductVariant, error)
	CreateVariant(ctx context.Context, variant *models.ProductVariant) error
	UpdateVariant(ctx context.Context, id int64, patch models.VariantPatch) (*models.ProductVariant, error)
	DeleteVariant(ctx context.Context, id int64) error
	CountOrderItemsForVariant(ctx context.Context, variantID int64) (int, error)
	DecrementVariantStock(ctx context.Context, variantID int64, quantity int) (bool, error)
	IncrementVariantStock(ctx context.Context, variantID int64, quantity int) error
	SetVariantAttributeValues(ctx context.Context, variantID int64, valueIDs []int64) error
	ListVariantAttributeValues(ctx context.Context, variantIDs []int64) ([]models.VariantAttribute, error)

	// attributes
	ListAttributes(ctx context.Context) ([]models.ProductAttribute, error)
	ListAttributeValues(ctx context.Context) ([]models.ProductAttributeValue, error)
	GetAttribute(ctx context.Context, id int64) (*models.ProductAttribute, error)
	CreateAttribute(ctx context.Context, attr *models.ProductAttribute) error
	DeleteAttribute(ctx context.Context, id int64) error
	CountAttributeValues(ctx context.Context, attributeID int64) (int, error)
	GetAttributeValue(ctx context.Context, id int64) (*models.ProductAttributeValue, error)
	CreateAttributeValue(ctx context.Context, value *models.ProductAttributeValue) error
	DeleteAttributeValue(ctx context.Context, id int64) error
	CountVariantsUsingValue(ctx context.Context, valueID int64) (int, error)

	// orders
	CreateOrder(ctx context.Context, order *models.Order) error
	CreateOrderItem(ctx context.Context, item *models.OrderItem) error
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	GetOrderForUser(ctx context.Context, id int64, userID uuid.UUID) (*models.Order, error)
	ListOrdersByUser(ctx context.Context, userID uuid.UUID) ([]models.Order, error)
	ListOrders(ctx context.Context, filter OrderFilter) ([]models.Order, error)
	ListOrdersSince(ctx context.Context, since time.Time) ([]models.Order, error)
	ListOrderItems(ctx context.Context, orderIDs []int64) ([]models.OrderItem, error)
	TransitionOrderStatus(ctx context.Context, id int64, from []models.OrderStatus, to models.OrderStatus) (bool, error)

	// referrals
	CreateReferrer(ctx context.Context, referrer *models.Referrer) error
	GetReferrer(ctx context.Context, id int64) (*models.Referrer, error)
	GetReferrerByCode(ctx context.Context, code string) (*models.Referrer, error)
	GetReferrerByUserID(ctx context.Context, userID uuid.UUID) (*models.Referrer, error)
	UpdateReferrer(ctx context.Context, id int64, patch models.ReferrerPatch) (*models.Referrer, error)
	ListReferrers(ctx context.Context, filter RankingFilter) ([]models.Referrer, error)
	CreateReferral(ctx context.Context, referral *models.Referral) error
	GetReferralByReferredUser(ctx context.Context, userID uuid.UUID) (*models.Referral, error)
	ListReferralsByReferrer(ctx context.Context, referrerID int64) ([]models.ReferralWithUser, error)
	IncrementReferrerReferrals(ctx context.Context, referrerID int64) error
	CreateCommission(ctx context.Context, commission *models.ReferralCommission) (bool, error)
	AddReferrerSale(ctx context.Context, referrerID int64, orderTotal, commission int64) error
	ListCommissionsByReferrer(ctx context.Context, referrerID int64) ([]models.CommissionDetail, error)

	// processed events
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// Repository is a Querier that can also open a transaction
type Repository interface {
	Querier
	InTx(ctx context.Context, fn func(q Querier) error) error
}

// ProductFilter narrows product listings
type ProductFilter struct {
	CategoryID      *int64
	Search          string
	IncludeInactive bool
	ExcludeID       int64
	Limit           int
	Offset          int
}

// OrderFilter narrows admin order listings
type OrderFilter struct {
	Status models.OrderStatus
	Limit  int
	Offset int
}

// RankingFilter selects and orders referrers
type RankingFilter struct {
	SortBy          string
	Limit           int
	IncludeInactive bool
}

// UserOrderStats summarizes a user's orders
type UserOrderStats struct {
	OrderCount int   `db:"order_count" json:"order_count"`
	TotalSpent int64 `db:"total_spent" json:"total_spent"`
}

// RankingColumns are the referrer columns a ranking may sort by
var RankingColumns = []string{
	"total_commissions",
	"total_sales",
	"total_referrals",
	"total_orders",
	"active_referrals",
}

// NormalizeRankingField returns field when allow-listed, otherwise total_commissions
func NormalizeRankingField(field string) string {
	for _, col := range RankingColumns {
		if col == field {
			return col
		}
	}
	return RankingColumns[0]
}

// Queries runs statements against a pool or a transaction
type Queries struct {
	db sqlx.ExtContext
}

type Store struct {
	*Queries
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{Queries: &Queries{db: db}, db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// InTx runs fn inside a transaction, committing when fn returns nil
func (s *Store) InTx(ctx context.Context, fn func(q Querier) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&Queries{db: tx}); err != nil {
		return err
	}

	return tx.Commit()
}

// Handles holds the two credentials of the managed store
type Handles struct {
	// Admin uses the service role and bypasses row-level security
	Admin *Store
	// Public is scoped by row-level security policies
	Public *Store
}

// Open connects both handles. publicURL falls back to adminURL.
func Open(adminURL, publicURL string) (*Handles, error) {
	admin, err := NewStore(adminURL)
	if err != nil {
		return nil, err
	}
	if publicURL == "" || publicURL == adminURL {
		return &Handles{Admin: admin, Public: admin}, nil
	}

	public, err := NewStore(publicURL)
	if err != nil {
		admin.Close()
		return nil, fmt.Errorf("public handle: %w", err)
	}
	return &Handles{Admin: admin, Public: public}, nil
}

// Close closes both handles
func (h *Handles) Close() error {
	err := h.Admin.Close()
	if h.Public != h.Admin {
		if perr := h.Public.Close(); err == nil {
			err = perr
		}
	}
	return err
}

// mapErr translates driver errors into the store's sentinel errors
func mapErr(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505", "23503":
			return fmt.Errorf("%s: %s: %w", what, pqErr.Message, ErrConflict)
		}
	}
	return fmt.Errorf("%s: %w", what, err)
}

// updateBuilder collects "column = $n" clauses for a patch
type updateBuilder struct {
	sets []string
	args []interface{}
}

func (b *updateBuilder) set(column string, value interface{}) {
	b.args = append(b.args, value)
	b.sets = append(b.sets, fmt.Sprintf("%s = $%d", column, len(b.args)))
}

func (b *updateBuilder) empty() bool {
	return len(b.sets) == 0
}

// where appends the id argument and returns its placeholder
func (b *updateBuilder) where(id interface{}) string {
	b.args = append(b.args, id)
	return fmt.Sprintf("$%d", len(b.args))
}

func joinSets(sets []string) string {
	return strings.Join(sets, ", ")
}

func uuidStrings(ids []uuid.UUID) pq.StringArray {
	out := make(pq.StringArray, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func affected(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
