package service

import (
	"context"
	"strings"

	"isla-market/internal/models"
	"isla-market/internal/store"
	"isla-market/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// UserService manages profiles, addresses and roles
type UserService struct {
	repo   store.Querier
	logger *zap.Logger
}

// NewUserService creates a new user service
func NewUserService(repo store.Querier) *UserService {
	return &UserService{repo: repo, logger: util.GetLogger()}
}

// GetProfile returns the caller's profile
func (s *UserService) GetProfile(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	user, err := s.repo.GetUserByID(ctx, userID)
	return user, fromStore(err, "user not found", "")
}

// UpdateProfile applies a profile patch
func (s *UserService) UpdateProfile(ctx context.Context, userID uuid.UUID, patch models.ProfilePatch) (*models.User, error) {
	if patch.FullName != nil {
		name := strings.TrimSpace(*patch.FullName)
		if name == "" {
			return nil, Validation("full_name must not be empty")
		}
		patch.FullName = &name
	}
	user, err := s.repo.UpdateUserProfile(ctx, userID, patch)
	return user, fromStore(err, "user not found", "")
}

// ListAddresses returns the caller's shipping addresses
func (s *UserService) ListAddresses(ctx context.Context, userID uuid.UUID) ([]models.ShippingAddress, error) {
	addrs, err := s.repo.ListShippingAddresses(ctx, userID)
	if err != nil {
		return nil, Internal("failed to list addresses", err)
	}
	return addrs, nil
}

// UserWithStats is a user with order totals
type UserWithStats struct {
	models.User
	store.UserOrderStats
}

// ListUsers returns a page of users with their order stats. Stats are
// fetched concurrently and written at the user's index.
func (s *UserService) ListUsers(ctx context.Context, page, size int) ([]UserWithStats, error) {
	ctx, span := util.StartSpan(ctx, "UserService.ListUsers")
	defer span.End()

	page, size = clampPage(page, size)
	users, err := s.repo.ListUsers(ctx, size, (page-1)*size)
	if err != nil {
		return nil, Internal("failed to list users", err)
	}

	out := make([]UserWithStats, len(users))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(countConcurrency)
	for i := range users {
		i := i
		out[i].User = users[i]
		g.Go(func() error {
			stats, err := s.repo.GetUserOrderStats(gctx, users[i].ID)
			if err != nil {
				return err
			}
			out[i].UserOrderStats = stats
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, Internal("failed to load user order stats", err)
	}
	return out, nil
}

// SetRole changes a user's role to customer or admin
func (s *UserService) SetRole(ctx context.Context, actor, userID uuid.UUID, role string) (*models.User, error) {
	role = strings.ToLower(strings.TrimSpace(role))
	if role != models.RoleCustomer && role != models.RoleAdmin {
		return nil, Validation("role must be customer or admin")
	}
	if actor == userID && role != models.RoleAdmin {
		return nil, Validation("you cannot remove your own admin role")
	}

	if err := s.repo.UpdateUserRole(ctx, userID, role); err != nil {
		return nil, fromStore(err, "user not found", "")
	}
	s.logger.Info("User role changed",
		zap.String("user_id", userID.String()),
		zap.String("role", role),
		zap.String("by", actor.String()))
	return s.GetProfile(ctx, userID)
}
