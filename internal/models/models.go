package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// User roles
const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"
)

// User is a profile row owned by the auth provider
type User struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Email     string    `db:"email" json:"email"`
	FullName  string    `db:"full_name" json:"full_name"`
	Phone     *string   `db:"phone" json:"phone,omitempty"`
	Role      string    `db:"role" json:"role"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// IsAdmin reports whether the user holds the admin role
func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

// ShippingAddress belongs to exactly one user
type ShippingAddress struct {
	ID           int64     `db:"id" json:"id"`
	UserID       uuid.UUID `db:"user_id" json:"user_id"`
	FullName     string    `db:"full_name" json:"full_name"`
	Phone        string    `db:"phone" json:"phone"`
	AddressLine1 string    `db:"address_line1" json:"address_line1"`
	AddressLine2 string    `db:"address_line2" json:"address_line2"`
	City         string    `db:"city" json:"city"`
	State        string    `db:"state" json:"state"`
	PostalCode   string    `db:"postal_code" json:"postal_code"`
	Country      string    `db:"country" json:"country"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// Category groups products
type Category struct {
	ID          int64     `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Slug        string    `db:"slug" json:"slug"`
	Description string    `db:"description" json:"description"`
	ImageURL    *string   `db:"image_url" json:"image_url,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Product represents a product in the catalog. Price is in minor units.
type Product struct {
	ID            int64     `db:"id" json:"id"`
	Name          string    `db:"name" json:"name"`
	Description   string    `db:"description" json:"description"`
	Price         int64     `db:"price" json:"price"`
	StockQuantity int       `db:"stock_quantity" json:"stock_quantity"`
	IsActive      bool      `db:"is_active" json:"is_active"`
	HasVariants   bool      `db:"has_variants" json:"has_variants"`
	CategoryID    *int64    `db:"category_id" json:"category_id,omitempty"`
	ImageURL      *string   `db:"image_url" json:"image_url,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// ProductVariant is a purchasable configuration of a product
type ProductVariant struct {
	ID              int64              `db:"id" json:"id"`
	ProductID       int64              `db:"product_id" json:"product_id"`
	Name            string             `db:"name" json:"name"`
	SKU             *string            `db:"sku" json:"sku,omitempty"`
	Price           int64              `db:"price" json:"price"`
	StockQuantity   int                `db:"stock_quantity" json:"stock_quantity"`
	IsActive        bool               `db:"is_active" json:"is_active"`
	CreatedAt       time.Time          `db:"created_at" json:"created_at"`
	AttributeValues []VariantAttribute `db:"-" json:"attribute_values,omitempty"`
}

// ProductAttribute is an attribute definition such as "Color"
type ProductAttribute struct {
	ID        int64                   `db:"id" json:"id"`
	Name      string                  `db:"name" json:"name"`
	CreatedAt time.Time               `db:"created_at" json:"created_at"`
	Values    []ProductAttributeValue `db:"-" json:"values,omitempty"`
}

// ProductAttributeValue is one enumerated value of an attribute
type ProductAttributeValue struct {
	ID          int64     `db:"id" json:"id"`
	AttributeID int64     `db:"attribute_id" json:"attribute_id"`
	Value       string    `db:"value" json:"value"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// VariantAttribute is an attribute value attached to a variant
type VariantAttribute struct {
	VariantID     int64  `db:"variant_id" json:"-"`
	ValueID       int64  `db:"value_id" json:"value_id"`
	AttributeID   int64  `db:"attribute_id" json:"attribute_id"`
	AttributeName string `db:"attribute_name" json:"attribute_name"`
	Value         string `db:"value" json:"value"`
}

// OrderStatus is the canonical order status vocabulary
type OrderStatus string

// Order statuses
const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusDelivered OrderStatus = "delivered"
	OrderStatusCancelled OrderStatus = "cancelled"
)

var legacyStatuses = map[string]OrderStatus{
	"pending":   OrderStatusPending,
	"pendiente": OrderStatusPending,
	"paid":      OrderStatusPaid,
	"pagado":    OrderStatusPaid,
	"delivered": OrderStatusDelivered,
	"entregado": OrderStatusDelivered,
	"cancelled": OrderStatusCancelled,
	"canceled":  OrderStatusCancelled,
	"cancelado": OrderStatusCancelled,
}

// ParseOrderStatus maps any spelling seen in stored rows or requests to the
// canonical status.
func ParseOrderStatus(s string) (OrderStatus, bool) {
	status, ok := legacyStatuses[strings.ToLower(strings.TrimSpace(s))]
	return status, ok
}

// Normalized returns the canonical form of a possibly legacy status value
func (s OrderStatus) Normalized() OrderStatus {
	if canonical, ok := ParseOrderStatus(string(s)); ok {
		return canonical
	}
	return s
}

// IsConfirmedSale reports whether money was actually received
func (s OrderStatus) IsConfirmedSale() bool {
	n := s.Normalized()
	return n == OrderStatusPaid || n == OrderStatusDelivered
}

// Order represents a customer order
type Order struct {
	ID                int64       `db:"id" json:"id"`
	UserID            uuid.UUID   `db:"user_id" json:"user_id"`
	ShippingAddressID int64       `db:"shipping_address_id" json:"shipping_address_id"`
	Status            OrderStatus `db:"status" json:"status"`
	TotalAmount       int64       `db:"total_amount" json:"total_amount"`
	Notes             *string     `db:"notes" json:"notes,omitempty"`
	CreatedAt         time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time   `db:"updated_at" json:"updated_at"`
}

// OrderItem captures price at order time; it is never re-read afterwards
type OrderItem struct {
	ID          int64  `db:"id" json:"id"`
	OrderID     int64  `db:"order_id" json:"order_id"`
	ProductID   int64  `db:"product_id" json:"product_id"`
	VariantID   *int64 `db:"variant_id" json:"variant_id,omitempty"`
	ProductName string `db:"product_name" json:"product_name"`
	Quantity    int    `db:"quantity" json:"quantity"`
	UnitPrice   int64  `db:"unit_price" json:"unit_price"`
	TotalPrice  int64  `db:"total_price" json:"total_price"`
}

// Referrer is a user enrolled in the commission program
type Referrer struct {
	ID               int64     `db:"id" json:"id"`
	UserID           uuid.UUID `db:"user_id" json:"user_id"`
	ReferralCode     string    `db:"referral_code" json:"referral_code"`
	CommissionRate   float64   `db:"commission_rate" json:"commission_rate"`
	DurationMonths   int       `db:"duration_months" json:"duration_months"`
	TotalReferrals   int       `db:"total_referrals" json:"total_referrals"`
	ActiveReferrals  int       `db:"active_referrals" json:"active_referrals"`
	TotalOrders      int       `db:"total_orders" json:"total_orders"`
	TotalSales       int64     `db:"total_sales" json:"total_sales"`
	TotalCommissions int64     `db:"total_commissions" json:"total_commissions"`
	IsActive         bool      `db:"is_active" json:"is_active"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

// Referral links one referrer to one referred user until ExpiresAt
type Referral struct {
	ID             int64     `db:"id" json:"id"`
	ReferrerID     int64     `db:"referrer_id" json:"referrer_id"`
	ReferredUserID uuid.UUID `db:"referred_user_id" json:"referred_user_id"`
	ReferralCode   string    `db:"referral_code" json:"referral_code"`
	CommissionRate float64   `db:"commission_rate" json:"commission_rate"`
	ExpiresAt      time.Time `db:"expires_at" json:"expires_at"`
	IsActive       bool      `db:"is_active" json:"is_active"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// IsLiveAt reports whether the referral earns commission at t
func (r *Referral) IsLiveAt(t time.Time) bool {
	return r.IsActive && r.ExpiresAt.After(t)
}

// ReferralWithUser is a referral joined with the referred user's profile
type ReferralWithUser struct {
	Referral
	ReferredEmail string `db:"referred_email" json:"referred_email"`
	ReferredName  string `db:"referred_name" json:"referred_name"`
}

// ReferralCommission is one commission row per attributed order
type ReferralCommission struct {
	ID               int64     `db:"id" json:"id"`
	ReferralID       int64     `db:"referral_id" json:"referral_id"`
	ReferrerID       int64     `db:"referrer_id" json:"referrer_id"`
	ReferredUserID   uuid.UUID `db:"referred_user_id" json:"referred_user_id"`
	OrderID          int64     `db:"order_id" json:"order_id"`
	OrderTotal       int64     `db:"order_total" json:"order_total"`
	CommissionRate   float64   `db:"commission_rate" json:"commission_rate"`
	CommissionAmount int64     `db:"commission_amount" json:"commission_amount"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
}

// CommissionDetail is a commission joined with the referred user and order summary
type CommissionDetail struct {
	ReferralCommission
	ReferredEmail string      `db:"referred_email" json:"referred_email"`
	ReferredName  string      `db:"referred_name" json:"referred_name"`
	OrderStatus   OrderStatus `db:"order_status" json:"order_status"`
	OrderDate     time.Time   `db:"order_date" json:"order_date"`
}

// ProcessedEvent for idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
