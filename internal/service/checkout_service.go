package service

import (
	"context"
	"encoding/json"
	"strconv"

	"isla-market/internal/models"
	"isla-market/internal/store"
	"isla-market/internal/util"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
	"go.uber.org/zap"
)

// SessionCreator creates hosted checkout sessions
type SessionCreator interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// CheckoutConfig holds the payment provider settings used by checkout
type CheckoutConfig struct {
	Currency      string
	SuccessURL    string
	CancelURL     string
	WebhookSecret string
}

// CheckoutService converts carts into hosted checkout sessions and
// applies payment confirmations from the provider's webhook
type CheckoutService struct {
	repo     store.Querier
	orders   *OrderService
	sessions SessionCreator
	cfg      CheckoutConfig
	logger   *zap.Logger
}

// NewCheckoutService creates a new checkout service. sessions may be nil
// when the payment provider is not configured.
func NewCheckoutService(repo store.Querier, orders *OrderService, sessions SessionCreator, cfg CheckoutConfig) *CheckoutService {
	return &CheckoutService{repo: repo, orders: orders, sessions: sessions, cfg: cfg, logger: util.GetLogger()}
}

// CheckoutRequest is a cart or an existing pending order to pay for
type CheckoutRequest struct {
	Items   []OrderItemRequest `json:"items"`
	OrderID *int64             `json:"order_id,omitempty"`
}

// CheckoutResponse points the client at the hosted checkout page
type CheckoutResponse struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

type checkoutLine struct {
	name      string
	unitPrice int64
	quantity  int
}

// CreateSession prices the cart server-side and opens a checkout session
func (s *CheckoutService) CreateSession(ctx context.Context, user *models.User, req *CheckoutRequest) (*CheckoutResponse, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.CreateSession")
	defer span.End()

	if user == nil {
		return nil, Unauthorized("authentication required")
	}
	if s.sessions == nil {
		return nil, Internal("payments are not configured", nil)
	}

	lines, err := s.lines(ctx, user.ID, req)
	if err != nil {
		return nil, err
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(s.cfg.SuccessURL),
		CancelURL:         stripe.String(s.cfg.CancelURL),
		ClientReferenceID: stripe.String(user.ID.String()),
	}
	if user.Email != "" {
		params.CustomerEmail = stripe.String(user.Email)
	}
	for _, l := range lines {
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency: stripe.String(s.cfg.Currency),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(l.name),
				},
				UnitAmount: stripe.Int64(l.unitPrice),
			},
			Quantity: stripe.Int64(int64(l.quantity)),
		})
	}
	params.AddMetadata("user_id", user.ID.String())
	if req.OrderID != nil {
		params.AddMetadata("order_id", strconv.FormatInt(*req.OrderID, 10))
	}

	sess, err := s.sessions.New(params)
	if err != nil {
		util.CheckoutSessionsTotal.WithLabelValues("error").Inc()
		return nil, Internal("failed to create checkout session", err)
	}

	util.CheckoutSessionsTotal.WithLabelValues("created").Inc()
	s.logger.Info("Checkout session created", zap.String("session_id", sess.ID), zap.String("user_id", user.ID.String()))
	return &CheckoutResponse{SessionID: sess.ID, URL: sess.URL}, nil
}

// lines prices a pending order from its captured items, or a cart from the catalog
func (s *CheckoutService) lines(ctx context.Context, userID uuid.UUID, req *CheckoutRequest) ([]checkoutLine, error) {
	if req == nil {
		return nil, Validation("request body is required")
	}

	if req.OrderID != nil {
		order, err := s.repo.GetOrderForUser(ctx, *req.OrderID, userID)
		if err != nil {
			return nil, fromStore(err, "order not found", "")
		}
		if order.Status != models.OrderStatusPending {
			return nil, Validation("only pending orders can be paid").With("current_status", order.Status)
		}
		items, err := s.repo.ListOrderItems(ctx, []int64{order.ID})
		if err != nil {
			return nil, Internal("failed to load order items", err)
		}
		lines := make([]checkoutLine, len(items))
		for i, item := range items {
			lines[i] = checkoutLine{name: item.ProductName, unitPrice: item.UnitPrice, quantity: item.Quantity}
		}
		return lines, nil
	}

	if len(req.Items) == 0 {
		return nil, Validation("cart must contain at least one item")
	}
	priced, err := s.orders.priceItems(ctx, req.Items)
	if err != nil {
		return nil, err
	}
	lines := make([]checkoutLine, len(priced))
	for i, p := range priced {
		lines[i] = checkoutLine{name: p.name, unitPrice: p.unitPrice, quantity: p.Quantity}
	}
	return lines, nil
}

// WebhookResult describes how a webhook event was handled
type WebhookResult struct {
	EventID   string `json:"event_id"`
	Type      string `json:"type"`
	Duplicate bool   `json:"duplicate,omitempty"`
	OrderPaid bool   `json:"order_paid,omitempty"`
}

// HandleWebhook verifies the signature of a provider event and applies it.
// Events seen before are acknowledged without being applied again.
func (s *CheckoutService) HandleWebhook(ctx context.Context, payload []byte, signature string) (*WebhookResult, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.HandleWebhook")
	defer span.End()

	if s.cfg.WebhookSecret == "" {
		return nil, Internal("webhook secret is not configured", nil)
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, s.cfg.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		util.WebhookEventsTotal.WithLabelValues("invalid_signature").Inc()
		s.logger.Warn("Rejected webhook", zap.Error(err))
		return nil, Validation("invalid webhook signature")
	}

	result := &WebhookResult{EventID: event.ID, Type: string(event.Type)}
	util.WebhookEventsTotal.WithLabelValues(result.Type).Inc()

	seen, err := s.repo.IsEventProcessed(ctx, event.ID)
	if err != nil {
		return nil, Internal("failed to check event", err)
	}
	if seen {
		result.Duplicate = true
		return result, nil
	}

	switch event.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return nil, Validation("malformed checkout session")
		}
		if sess.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
			s.logger.Info("Checkout session not paid yet", zap.String("session_id", sess.ID))
			break
		}
		orderID, ok := parseID(sess.Metadata["order_id"])
		if !ok {
			s.logger.Info("Checkout session without order", zap.String("session_id", sess.ID))
			break
		}
		result.OrderPaid, err = s.orders.MarkPaid(ctx, orderID, "stripe")
		if err != nil && KindOf(err) != KindNotFound {
			return nil, err
		}
	default:
		s.logger.Debug("Unhandled webhook event", zap.String("type", result.Type))
	}

	if err := s.repo.MarkEventProcessed(ctx, event.ID, result.Type); err != nil {
		return nil, Internal("failed to record event", err)
	}
	return result, nil
}
