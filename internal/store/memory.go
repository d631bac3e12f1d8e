package store

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"isla-market/internal/models"

	"github.com/google/uuid"
)

// MemoryStore is a Repository kept in process memory. It backs tests and
// the service's memory mode.
type MemoryStore struct {
	mu sync.RWMutex
	// txMu serializes InTx so a rollback only undoes its own writes
	txMu sync.Mutex

	seq int64

	users       map[uuid.UUID]models.User
	addresses   map[int64]models.ShippingAddress
	categories  map[int64]models.Category
	products    map[int64]models.Product
	variants    map[int64]models.ProductVariant
	attributes  map[int64]models.ProductAttribute
	values      map[int64]models.ProductAttributeValue
	variantVals map[int64][]int64
	orders      map[int64]models.Order
	orderItems  map[int64]models.OrderItem
	referrers   map[int64]models.Referrer
	referrals   map[int64]models.Referral
	commissions map[int64]models.ReferralCommission
	events      map[string]string
	now         func() time.Time
}

// NewMemoryStore creates an empty in-memory repository
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:       make(map[uuid.UUID]models.User),
		addresses:   make(map[int64]models.ShippingAddress),
		categories:  make(map[int64]models.Category),
		products:    make(map[int64]models.Product),
		variants:    make(map[int64]models.ProductVariant),
		attributes:  make(map[int64]models.ProductAttribute),
		values:      make(map[int64]models.ProductAttributeValue),
		variantVals: make(map[int64][]int64),
		orders:      make(map[int64]models.Order),
		orderItems:  make(map[int64]models.OrderItem),
		referrers:   make(map[int64]models.Referrer),
		referrals:   make(map[int64]models.Referral),
		commissions: make(map[int64]models.ReferralCommission),
		events:      make(map[string]string),
		now:         time.Now,
	}
}

// SetClock overrides the time source used for created_at stamps
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// PutUser inserts or replaces a user profile. Users are created by the auth
// provider, so there is no Querier method for it.
func (m *MemoryStore) PutUser(u models.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = m.now()
	}
	u.UpdatedAt = m.now()
	if u.Role == "" {
		u.Role = models.RoleCustomer
	}
	m.users[u.ID] = u
}

// memorySnapshot holds the table contents restored when a transaction fails
type memorySnapshot struct {
	users       map[uuid.UUID]models.User
	addresses   map[int64]models.ShippingAddress
	categories  map[int64]models.Category
	products    map[int64]models.Product
	variants    map[int64]models.ProductVariant
	attributes  map[int64]models.ProductAttribute
	values      map[int64]models.ProductAttributeValue
	variantVals map[int64][]int64
	orders      map[int64]models.Order
	orderItems  map[int64]models.OrderItem
	referrers   map[int64]models.Referrer
	referrals   map[int64]models.Referral
	commissions map[int64]models.ReferralCommission
	events      map[string]string
}

func (m *MemoryStore) snapshot() memorySnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	variantVals := make(map[int64][]int64, len(m.variantVals))
	for id, vals := range m.variantVals {
		variantVals[id] = slices.Clone(vals)
	}
	return memorySnapshot{
		users:       maps.Clone(m.users),
		addresses:   maps.Clone(m.addresses),
		categories:  maps.Clone(m.categories),
		products:    maps.Clone(m.products),
		variants:    maps.Clone(m.variants),
		attributes:  maps.Clone(m.attributes),
		values:      maps.Clone(m.values),
		variantVals: variantVals,
		orders:      maps.Clone(m.orders),
		orderItems:  maps.Clone(m.orderItems),
		referrers:   maps.Clone(m.referrers),
		referrals:   maps.Clone(m.referrals),
		commissions: maps.Clone(m.commissions),
		events:      maps.Clone(m.events),
	}
}

// restore puts back the tables of snap. IDs handed out meanwhile stay
// consumed, as sequences do in Postgres.
func (m *MemoryStore) restore(snap memorySnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users = snap.users
	m.addresses = snap.addresses
	m.categories = snap.categories
	m.products = snap.products
	m.variants = snap.variants
	m.attributes = snap.attributes
	m.values = snap.values
	m.variantVals = snap.variantVals
	m.orders = snap.orders
	m.orderItems = snap.orderItems
	m.referrers = snap.referrers
	m.referrals = snap.referrals
	m.commissions = snap.commissions
	m.events = snap.events
}

// InTx runs fn against the store and rolls every table back when fn fails.
// Transactions run one at a time; writes made outside InTx while one is
// open are lost if it rolls back.
func (m *MemoryStore) InTx(ctx context.Context, fn func(q Querier) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	snap := m.snapshot()
	if err := fn(m); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

// Ping always succeeds
func (m *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

func (m *MemoryStore) nextID() int64 {
	m.seq++
	return m.seq
}

func notFound(what string, id interface{}) error {
	return fmt.Errorf("%s %v: %w", what, id, ErrNotFound)
}

func conflict(what string) error {
	return fmt.Errorf("%s: %w", what, ErrConflict)
}

func sortedIDs[T any](rows map[int64]T) []int64 {
	ids := make([]int64, 0, len(rows))
	for id := range rows {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// users

func (m *MemoryStore) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, notFound("user", id)
	}
	return &u, nil
}

func (m *MemoryStore) GetUsersByIDs(ctx context.Context, ids []uuid.UUID) ([]models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []models.User{}
	for _, id := range ids {
		if u, ok := m.users[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

func (m *MemoryStore) ListUsers(ctx context.Context, limit, offset int) ([]models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	users := make([]models.User, 0, len(m.users))
	for _, u := range m.users {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].CreatedAt.Equal(users[j].CreatedAt) {
			return users[i].ID.String() < users[j].ID.String()
		}
		return users[i].CreatedAt.After(users[j].CreatedAt)
	})
	return page(users, limit, offset), nil
}

func (m *MemoryStore) UpdateUserProfile(ctx context.Context, id uuid.UUID, patch models.ProfilePatch) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, notFound("user", id)
	}
	patch.ApplyTo(&u)
	u.UpdatedAt = m.now()
	m.users[id] = u
	return &u, nil
}

func (m *MemoryStore) UpdateUserRole(ctx context.Context, id uuid.UUID, role string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return notFound("user", id)
	}
	u.Role = role
	u.UpdatedAt = m.now()
	m.users[id] = u
	return nil
}

func (m *MemoryStore) GetUserOrderStats(ctx context.Context, id uuid.UUID) (UserOrderStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var stats UserOrderStats
	for _, o := range m.orders {
		if o.UserID == id && o.Status != models.OrderStatusCancelled {
			stats.OrderCount++
			stats.TotalSpent += o.TotalAmount
		}
	}
	return stats, nil
}

// shipping addresses

func (m *MemoryStore) CreateShippingAddress(ctx context.Context, addr *models.ShippingAddress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	addr.ID = m.nextID()
	addr.CreatedAt = m.now()
	m.addresses[addr.ID] = *addr
	return nil
}

func (m *MemoryStore) GetShippingAddress(ctx context.Context, id int64) (*models.ShippingAddress, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.addresses[id]
	if !ok {
		return nil, notFound("shipping address", id)
	}
	return &a, nil
}

func (m *MemoryStore) ListShippingAddresses(ctx context.Context, userID uuid.UUID) ([]models.ShippingAddress, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []models.ShippingAddress{}
	ids := sortedIDs(m.addresses)
	for i := len(ids) - 1; i >= 0; i-- {
		if a := m.addresses[ids[i]]; a.UserID == userID {
			out = append(out, a)
		}
	}
	return out, nil
}

// categories

func (m *MemoryStore) ListCategories(ctx context.Context) ([]models.Category, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Category, 0, len(m.categories))
	for _, c := range m.categories {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryStore) GetCategory(ctx context.Context, id int64) (*models.Category, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.categories[id]
	if !ok {
		return nil, notFound("category", id)
	}
	return &c, nil
}

func (m *MemoryStore) GetCategoryBySlug(ctx context.Context, slug string) (*models.Category, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.categories {
		if c.Slug == slug {
			return &c, nil
		}
	}
	return nil, notFound("category", slug)
}

func (m *MemoryStore) CreateCategory(ctx context.Context, category *models.Category) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.categories {
		if c.Slug == category.Slug {
			return conflict("create category: duplicate slug")
		}
	}
	category.ID = m.nextID()
	category.CreatedAt = m.now()
	m.categories[category.ID] = *category
	return nil
}

func (m *MemoryStore) UpdateCategory(ctx context.Context, id int64, patch models.CategoryPatch) (*models.Category, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.categories[id]
	if !ok {
		return nil, notFound("category", id)
	}
	if patch.Slug != nil {
		for otherID, other := range m.categories {
			if otherID != id && other.Slug == *patch.Slug {
				return nil, conflict("update category: duplicate slug")
			}
		}
	}
	patch.ApplyTo(&c)
	m.categories[id] = c
	return &c, nil
}

func (m *MemoryStore) DeleteCategory(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.categories[id]; !ok {
		return notFound("category", id)
	}
	for _, p := range m.products {
		if p.CategoryID != nil && *p.CategoryID == id {
			return conflict("delete category: referenced by products")
		}
	}
	delete(m.categories, id)
	return nil
}

func (m *MemoryStore) CountProductsInCategory(ctx context.Context, categoryID int64, activeOnly bool) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, p := range m.products {
		if p.CategoryID != nil && *p.CategoryID == categoryID && (!activeOnly || p.IsActive) {
			n++
		}
	}
	return n, nil
}

// products

func (m *MemoryStore) ListProducts(ctx context.Context, filter ProductFilter) ([]models.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []models.Product{}
	ids := sortedIDs(m.products)
	for i := len(ids) - 1; i >= 0; i-- {
		p := m.products[ids[i]]
		if !filter.IncludeInactive && !p.IsActive {
			continue
		}
		if filter.CategoryID != nil && (p.CategoryID == nil || *p.CategoryID != *filter.CategoryID) {
			continue
		}
		if filter.Search != "" && !strings.Contains(strings.ToLower(p.Name), strings.ToLower(filter.Search)) {
			continue
		}
		if filter.ExcludeID != 0 && p.ID == filter.ExcludeID {
			continue
		}
		out = append(out, p)
	}
	return page(out, filter.Limit, filter.Offset), nil
}

func (m *MemoryStore) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.products[id]
	if !ok {
		return nil, notFound("product", id)
	}
	return &p, nil
}

func (m *MemoryStore) GetProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []models.Product{}
	seen := make(map[int64]bool)
	for _, id := range ids {
		if p, ok := m.products[id]; ok && !seen[id] {
			seen[id] = true
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *MemoryStore) CreateProduct(ctx context.Context, product *models.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if product.CategoryID != nil {
		if _, ok := m.categories[*product.CategoryID]; !ok {
			return conflict("create product: unknown category")
		}
	}
	product.ID = m.nextID()
	product.CreatedAt = m.now()
	product.UpdatedAt = product.CreatedAt
	m.products[product.ID] = *product
	return nil
}

func (m *MemoryStore) UpdateProduct(ctx context.Context, id int64, patch models.ProductPatch) (*models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return nil, notFound("product", id)
	}
	if patch.CategoryID != nil {
		if _, ok := m.categories[*patch.CategoryID]; !ok {
			return nil, conflict("update product: unknown category")
		}
	}
	patch.ApplyTo(&p)
	p.UpdatedAt = m.now()
	m.products[id] = p
	return &p, nil
}

func (m *MemoryStore) DeleteProduct(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.products[id]; !ok {
		return notFound("product", id)
	}
	for _, item := range m.orderItems {
		if item.ProductID == id {
			return conflict("delete product: referenced by order items")
		}
	}
	for vid, v := range m.variants {
		if v.ProductID == id {
			delete(m.variants, vid)
			delete(m.variantVals, vid)
		}
	}
	delete(m.products, id)
	return nil
}

func (m *MemoryStore) CountOrderItemsForProduct(ctx context.Context, productID int64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, item := range m.orderItems {
		if item.ProductID == productID {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) DecrementProductStock(ctx context.Context, productID int64, quantity int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[productID]
	if !ok || p.StockQuantity < quantity {
		return false, nil
	}
	p.StockQuantity -= quantity
	m.products[productID] = p
	return true, nil
}

func (m *MemoryStore) IncrementProductStock(ctx context.Context, productID int64, quantity int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.products[productID]; ok {
		p.StockQuantity += quantity
		m.products[productID] = p
	}
	return nil
}

func (m *MemoryStore) CountLowStockProducts(ctx context.Context, threshold int) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, p := range m.products {
		if p.IsActive && p.StockQuantity < threshold {
			n++
		}
	}
	return n, nil
}

// variants

func (m *MemoryStore) ListVariants(ctx context.Context, productIDs []int64, activeOnly bool) ([]models.ProductVariant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []models.ProductVariant{}
	for _, id := range sortedIDs(m.variants) {
		v := m.variants[id]
		if containsID(productIDs, v.ProductID) && (!activeOnly || v.IsActive) {
			out = append(out, v)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ProductID != out[j].ProductID {
			return out[i].ProductID < out[j].ProductID
		}
		return out[i].Price < out[j].Price
	})
	return out, nil
}

func (m *MemoryStore) GetVariant(ctx context.Context, id int64) (*models.ProductVariant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.variants[id]
	if !ok {
		return nil, notFound("variant", id)
	}
	return &v, nil
}

func (m *MemoryStore) CreateVariant(ctx context.Context, variant *models.ProductVariant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.products[variant.ProductID]; !ok {
		return conflict("create variant: unknown product")
	}
	variant.ID = m.nextID()
	variant.CreatedAt = m.now()
	stored := *variant
	stored.AttributeValues = nil
	m.variants[variant.ID] = stored
	return nil
}

func (m *MemoryStore) UpdateVariant(ctx context.Context, id int64, patch models.VariantPatch) (*models.ProductVariant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.variants[id]
	if !ok {
		return nil, notFound("variant", id)
	}
	patch.ApplyTo(&v)
	m.variants[id] = v
	return &v, nil
}

func (m *MemoryStore) DeleteVariant(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.variants[id]; !ok {
		return notFound("variant", id)
	}
	for _, item := range m.orderItems {
		if item.VariantID != nil && *item.VariantID == id {
			return conflict("delete variant: referenced by order items")
		}
	}
	delete(m.variants, id)
	delete(m.variantVals, id)
	return nil
}

func (m *MemoryStore) CountOrderItemsForVariant(ctx context.Context, variantID int64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, item := range m.orderItems {
		if item.VariantID != nil && *item.VariantID == variantID {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) DecrementVariantStock(ctx context.Context, variantID int64, quantity int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.variants[variantID]
	if !ok || v.StockQuantity < quantity {
		return false, nil
	}
	v.StockQuantity -= quantity
	m.variants[variantID] = v
	return true, nil
}

func (m *MemoryStore) IncrementVariantStock(ctx context.Context, variantID int64, quantity int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.variants[variantID]; ok {
		v.StockQuantity += quantity
		m.variants[variantID] = v
	}
	return nil
}

func (m *MemoryStore) SetVariantAttributeValues(ctx context.Context, variantID int64, valueIDs []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := []int64{}
	for _, id := range valueIDs {
		if _, ok := m.values[id]; !ok {
			return conflict(fmt.Sprintf("attach value %d: unknown attribute value", id))
		}
		if !containsID(ids, id) {
			ids = append(ids, id)
		}
	}
	m.variantVals[variantID] = ids
	return nil
}

func (m *MemoryStore) ListVariantAttributeValues(ctx context.Context, variantIDs []int64) ([]models.VariantAttribute, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []models.VariantAttribute{}
	for _, variantID := range variantIDs {
		for _, valueID := range m.variantVals[variantID] {
			val := m.values[valueID]
			out = append(out, models.VariantAttribute{
				VariantID:     variantID,
				ValueID:       valueID,
				AttributeID:   val.AttributeID,
				AttributeName: m.attributes[val.AttributeID].Name,
				Value:         val.Value,
			})
		}
	}
	return out, nil
}

// attributes

func (m *MemoryStore) ListAttributes(ctx context.Context) ([]models.ProductAttribute, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.ProductAttribute, 0, len(m.attributes))
	for _, a := range m.attributes {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryStore) ListAttributeValues(ctx context.Context) ([]models.ProductAttributeValue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.ProductAttributeValue, 0, len(m.values))
	for _, id := range sortedIDs(m.values) {
		out = append(out, m.values[id])
	}
	return out, nil
}

func (m *MemoryStore) GetAttribute(ctx context.Context, id int64) (*models.ProductAttribute, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.attributes[id]
	if !ok {
		return nil, notFound("attribute", id)
	}
	return &a, nil
}

func (m *MemoryStore) CreateAttribute(ctx context.Context, attr *models.ProductAttribute) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.attributes {
		if strings.EqualFold(a.Name, attr.Name) {
			return conflict("create attribute: duplicate name")
		}
	}
	attr.ID = m.nextID()
	attr.CreatedAt = m.now()
	m.attributes[attr.ID] = *attr
	return nil
}

func (m *MemoryStore) DeleteAttribute(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.attributes[id]; !ok {
		return notFound("attribute", id)
	}
	for _, v := range m.values {
		if v.AttributeID == id {
			return conflict("delete attribute: has values")
		}
	}
	delete(m.attributes, id)
	return nil
}

func (m *MemoryStore) CountAttributeValues(ctx context.Context, attributeID int64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, v := range m.values {
		if v.AttributeID == attributeID {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) GetAttributeValue(ctx context.Context, id int64) (*models.ProductAttributeValue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[id]
	if !ok {
		return nil, notFound("attribute value", id)
	}
	return &v, nil
}

func (m *MemoryStore) CreateAttributeValue(ctx context.Context, value *models.ProductAttributeValue) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.attributes[value.AttributeID]; !ok {
		return conflict("create attribute value: unknown attribute")
	}
	for _, v := range m.values {
		if v.AttributeID == value.AttributeID && strings.EqualFold(v.Value, value.Value) {
			return conflict("create attribute value: duplicate value")
		}
	}
	value.ID = m.nextID()
	value.CreatedAt = m.now()
	m.values[value.ID] = *value
	return nil
}

func (m *MemoryStore) DeleteAttributeValue(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.values[id]; !ok {
		return notFound("attribute value", id)
	}
	for _, ids := range m.variantVals {
		if containsID(ids, id) {
			return conflict("delete attribute value: referenced by variants")
		}
	}
	delete(m.values, id)
	return nil
}

func (m *MemoryStore) CountVariantsUsingValue(ctx context.Context, valueID int64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, ids := range m.variantVals {
		if containsID(ids, valueID) {
			n++
		}
	}
	return n, nil
}

// orders

func (m *MemoryStore) CreateOrder(ctx context.Context, order *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	order.ID = m.nextID()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = m.now()
	}
	order.UpdatedAt = order.CreatedAt
	m.orders[order.ID] = *order
	return nil
}

func (m *MemoryStore) CreateOrderItem(ctx context.Context, item *models.OrderItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[item.OrderID]; !ok {
		return conflict("create order item: unknown order")
	}
	if _, ok := m.products[item.ProductID]; !ok {
		return conflict("create order item: unknown product")
	}
	item.ID = m.nextID()
	m.orderItems[item.ID] = *item
	return nil
}

func (m *MemoryStore) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, notFound("order", id)
	}
	o.Status = o.Status.Normalized()
	return &o, nil
}

func (m *MemoryStore) GetOrderForUser(ctx context.Context, id int64, userID uuid.UUID) (*models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[id]
	if !ok || o.UserID != userID {
		return nil, notFound("order", id)
	}
	o.Status = o.Status.Normalized()
	return &o, nil
}

func (m *MemoryStore) ListOrdersByUser(ctx context.Context, userID uuid.UUID) ([]models.Order, error) {
	return m.filterOrders(func(o models.Order) bool { return o.UserID == userID }), nil
}

func (m *MemoryStore) ListOrders(ctx context.Context, filter OrderFilter) ([]models.Order, error) {
	orders := m.filterOrders(func(o models.Order) bool {
		return filter.Status == "" || o.Status.Normalized() == filter.Status
	})
	return page(orders, filter.Limit, filter.Offset), nil
}

func (m *MemoryStore) ListOrdersSince(ctx context.Context, since time.Time) ([]models.Order, error) {
	orders := m.filterOrders(func(o models.Order) bool { return !o.CreatedAt.Before(since) })
	for i, j := 0, len(orders)-1; i < j; i, j = i+1, j-1 {
		orders[i], orders[j] = orders[j], orders[i]
	}
	return orders, nil
}

// filterOrders returns matching orders newest first
func (m *MemoryStore) filterOrders(keep func(models.Order) bool) []models.Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []models.Order{}
	for _, o := range m.orders {
		if keep(o) {
			o.Status = o.Status.Normalized()
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (m *MemoryStore) ListOrderItems(ctx context.Context, orderIDs []int64) ([]models.OrderItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []models.OrderItem{}
	for _, id := range sortedIDs(m.orderItems) {
		if item := m.orderItems[id]; containsID(orderIDs, item.OrderID) {
			out = append(out, item)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	return out, nil
}

func (m *MemoryStore) TransitionOrderStatus(ctx context.Context, id int64, from []models.OrderStatus, to models.OrderStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return false, nil
	}
	for _, s := range from {
		if o.Status.Normalized() == s {
			o.Status = to
			o.UpdatedAt = m.now()
			m.orders[id] = o
			return true, nil
		}
	}
	return false, nil
}

// referrals

func (m *MemoryStore) CreateReferrer(ctx context.Context, referrer *models.Referrer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.referrers {
		if r.ReferralCode == referrer.ReferralCode {
			return conflict("create referrer: duplicate referral code")
		}
		if r.UserID == referrer.UserID {
			return conflict("create referrer: user already enrolled")
		}
	}
	referrer.ID = m.nextID()
	referrer.CreatedAt = m.now()
	referrer.UpdatedAt = referrer.CreatedAt
	m.referrers[referrer.ID] = *referrer
	return nil
}

func (m *MemoryStore) GetReferrer(ctx context.Context, id int64) (*models.Referrer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.referrers[id]
	if !ok {
		return nil, notFound("referrer", id)
	}
	return &r, nil
}

func (m *MemoryStore) GetReferrerByCode(ctx context.Context, code string) (*models.Referrer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.referrers {
		if r.ReferralCode == code {
			return &r, nil
		}
	}
	return nil, notFound("referral code", code)
}

func (m *MemoryStore) GetReferrerByUserID(ctx context.Context, userID uuid.UUID) (*models.Referrer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.referrers {
		if r.UserID == userID {
			return &r, nil
		}
	}
	return nil, notFound("referrer for user", userID)
}

func (m *MemoryStore) UpdateReferrer(ctx context.Context, id int64, patch models.ReferrerPatch) (*models.Referrer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.referrers[id]
	if !ok {
		return nil, notFound("referrer", id)
	}
	patch.ApplyTo(&r)
	r.UpdatedAt = m.now()
	m.referrers[id] = r
	return &r, nil
}

func (m *MemoryStore) ListReferrers(ctx context.Context, filter RankingFilter) ([]models.Referrer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []models.Referrer{}
	for _, id := range sortedIDs(m.referrers) {
		if r := m.referrers[id]; filter.IncludeInactive || r.IsActive {
			out = append(out, r)
		}
	}

	key := rankingKey(NormalizeRankingField(filter.SortBy))
	sort.SliceStable(out, func(i, j int) bool { return key(out[i]) > key(out[j]) })
	return page(out, filter.Limit, 0), nil
}

func rankingKey(column string) func(models.Referrer) int64 {
	switch column {
	case "total_sales":
		return func(r models.Referrer) int64 { return r.TotalSales }
	case "total_referrals":
		return func(r models.Referrer) int64 { return int64(r.TotalReferrals) }
	case "total_orders":
		return func(r models.Referrer) int64 { return int64(r.TotalOrders) }
	case "active_referrals":
		return func(r models.Referrer) int64 { return int64(r.ActiveReferrals) }
	default:
		return func(r models.Referrer) int64 { return r.TotalCommissions }
	}
}

func (m *MemoryStore) CreateReferral(ctx context.Context, referral *models.Referral) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.referrals {
		if r.ReferredUserID == referral.ReferredUserID {
			return conflict("create referral: user already referred")
		}
	}
	referral.ID = m.nextID()
	if referral.CreatedAt.IsZero() {
		referral.CreatedAt = m.now()
	}
	m.referrals[referral.ID] = *referral
	return nil
}

func (m *MemoryStore) GetReferralByReferredUser(ctx context.Context, userID uuid.UUID) (*models.Referral, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.referrals {
		if r.ReferredUserID == userID {
			return &r, nil
		}
	}
	return nil, notFound("referral for user", userID)
}

func (m *MemoryStore) ListReferralsByReferrer(ctx context.Context, referrerID int64) ([]models.ReferralWithUser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []models.ReferralWithUser{}
	ids := sortedIDs(m.referrals)
	for i := len(ids) - 1; i >= 0; i-- {
		r := m.referrals[ids[i]]
		if r.ReferrerID != referrerID {
			continue
		}
		u := m.users[r.ReferredUserID]
		out = append(out, models.ReferralWithUser{Referral: r, ReferredEmail: u.Email, ReferredName: u.FullName})
	}
	return out, nil
}

func (m *MemoryStore) IncrementReferrerReferrals(ctx context.Context, referrerID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.referrers[referrerID]; ok {
		r.TotalReferrals++
		r.ActiveReferrals++
		r.UpdatedAt = m.now()
		m.referrers[referrerID] = r
	}
	return nil
}

func (m *MemoryStore) CreateCommission(ctx context.Context, commission *models.ReferralCommission) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.commissions {
		if c.OrderID == commission.OrderID {
			return false, nil
		}
	}
	commission.ID = m.nextID()
	commission.CreatedAt = m.now()
	m.commissions[commission.ID] = *commission
	return true, nil
}

func (m *MemoryStore) AddReferrerSale(ctx context.Context, referrerID int64, orderTotal, commission int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.referrers[referrerID]; ok {
		r.TotalOrders++
		r.TotalSales += orderTotal
		r.TotalCommissions += commission
		r.UpdatedAt = m.now()
		m.referrers[referrerID] = r
	}
	return nil
}

func (m *MemoryStore) ListCommissionsByReferrer(ctx context.Context, referrerID int64) ([]models.CommissionDetail, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []models.CommissionDetail{}
	ids := sortedIDs(m.commissions)
	for i := len(ids) - 1; i >= 0; i-- {
		c := m.commissions[ids[i]]
		if c.ReferrerID != referrerID {
			continue
		}
		u := m.users[c.ReferredUserID]
		o := m.orders[c.OrderID]
		out = append(out, models.CommissionDetail{
			ReferralCommission: c,
			ReferredEmail:      u.Email,
			ReferredName:       u.FullName,
			OrderStatus:        o.Status.Normalized(),
			OrderDate:          o.CreatedAt,
		})
	}
	return out, nil
}

// processed events

func (m *MemoryStore) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.events[eventID]
	return ok, nil
}

func (m *MemoryStore) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[eventID] = eventType
	return nil
}

func page[T any](rows []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(rows) {
			return rows[:0]
		}
		rows = rows[offset:]
	}
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return rows
}
