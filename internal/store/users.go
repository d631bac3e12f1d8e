package store

import (
	"context"
	"fmt"

	"isla-market/internal/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// GetUserByID retrieves a user profile by ID
func (q *Queries) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	err := sqlx.GetContext(ctx, q.db, &user, "SELECT * FROM users WHERE id = $1", id)
	if err != nil {
		return nil, mapErr(err, fmt.Sprintf("user %s", id))
	}
	return &user, nil
}

// GetUsersByIDs retrieves multiple users in one round trip
func (q *Queries) GetUsersByIDs(ctx context.Context, ids []uuid.UUID) ([]models.User, error) {
	if len(ids) == 0 {
		return []models.User{}, nil
	}

	var users []models.User
	err := sqlx.SelectContext(ctx, q.db, &users,
		"SELECT * FROM users WHERE id = ANY($1::uuid[])", uuidStrings(ids))
	return users, err
}

// ListUsers pages through users, newest first
func (q *Queries) ListUsers(ctx context.Context, limit, offset int) ([]models.User, error) {
	var users []models.User
	err := sqlx.SelectContext(ctx, q.db, &users,
		"SELECT * FROM users ORDER BY created_at DESC LIMIT $1 OFFSET $2", limit, offset)
	return users, err
}

// UpdateUserProfile applies a profile patch
func (q *Queries) UpdateUserProfile(ctx context.Context, id uuid.UUID, patch models.ProfilePatch) (*models.User, error) {
	var b updateBuilder
	if patch.FullName != nil {
		b.set("full_name", *patch.FullName)
	}
	if patch.Phone != nil {
		b.set("phone", *patch.Phone)
	}
	if b.empty() {
		return q.GetUserByID(ctx, id)
	}

	query := fmt.Sprintf("UPDATE users SET %s, updated_at = NOW() WHERE id = %s RETURNING *",
		joinSets(b.sets), b.where(id))

	var user models.User
	if err := sqlx.GetContext(ctx, q.db, &user, query, b.args...); err != nil {
		return nil, mapErr(err, fmt.Sprintf("user %s", id))
	}
	return &user, nil
}

// UpdateUserRole changes a user's role
func (q *Queries) UpdateUserRole(ctx context.Context, id uuid.UUID, role string) error {
	ok, err := affected(q.db.ExecContext(ctx,
		"UPDATE users SET role = $1, updated_at = NOW() WHERE id = $2", role, id))
	if err != nil {
		return mapErr(err, "update role")
	}
	if !ok {
		return fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	return nil
}

// GetUserOrderStats counts a user's non-cancelled orders and their total
func (q *Queries) GetUserOrderStats(ctx context.Context, id uuid.UUID) (UserOrderStats, error) {
	var stats UserOrderStats
	err := sqlx.GetContext(ctx, q.db, &stats, `
		SELECT COUNT(*) AS order_count, COALESCE(SUM(total_amount), 0) AS total_spent
		FROM orders
		WHERE user_id = $1 AND status <> $2`, id, models.OrderStatusCancelled)
	return stats, err
}

// CreateShippingAddress inserts an address owned by addr.UserID
func (q *Queries) CreateShippingAddress(ctx context.Context, addr *models.ShippingAddress) error {
	query := `
		INSERT INTO shipping_addresses
			(user_id, full_name, phone, address_line1, address_line2, city, state, postal_code, country)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at`

	err := sqlx.GetContext(ctx, q.db, addr, query,
		addr.UserID, addr.FullName, addr.Phone, addr.AddressLine1, addr.AddressLine2,
		addr.City, addr.State, addr.PostalCode, addr.Country)
	return mapErr(err, "create shipping address")
}

// GetShippingAddress retrieves an address by ID
func (q *Queries) GetShippingAddress(ctx context.Context, id int64) (*models.ShippingAddress, error) {
	var addr models.ShippingAddress
	err := sqlx.GetContext(ctx, q.db, &addr, "SELECT * FROM shipping_addresses WHERE id = $1", id)
	if err != nil {
		return nil, mapErr(err, fmt.Sprintf("shipping address %d", id))
	}
	return &addr, nil
}

// ListShippingAddresses retrieves a user's addresses, newest first
func (q *Queries) ListShippingAddresses(ctx context.Context, userID uuid.UUID) ([]models.ShippingAddress, error) {
	var addrs []models.ShippingAddress
	err := sqlx.SelectContext(ctx, q.db, &addrs,
		"SELECT * FROM shipping_addresses WHERE user_id = $1 ORDER BY created_at DESC", userID)
	return addrs, err
}
