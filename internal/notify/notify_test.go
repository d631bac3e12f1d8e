package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"isla-market/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPMailerSend(t *testing.T) {
	var got map[string]interface{}
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	m := NewHTTPMailer(srv.URL, "key_123", "tienda@example.com")
	err := m.Send(context.Background(), Email{To: []string{"ana@example.com"}, Subject: "Hola", HTML: "<p>hi</p>"})
	require.NoError(t, err)

	assert.Equal(t, "Bearer key_123", auth)
	assert.Equal(t, "tienda@example.com", got["from"])
	assert.Equal(t, "Hola", got["subject"])
	assert.Equal(t, []interface{}{"ana@example.com"}, got["to"])
}

func TestHTTPMailerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid sender", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	m := NewHTTPMailer(srv.URL, "key", "from@example.com")
	err := m.Send(context.Background(), Email{To: []string{"a@example.com"}, Subject: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "422")
	assert.Contains(t, err.Error(), "invalid sender")

	err = m.Send(context.Background(), Email{Subject: "x"})
	assert.Error(t, err)
}

func TestFormatMoney(t *testing.T) {
	assert.Equal(t, "$12.50", FormatMoney(1250))
	assert.Equal(t, "$0.05", FormatMoney(5))
	assert.Equal(t, "$1000.00", FormatMoney(100000))
}

func TestOrderConfirmation(t *testing.T) {
	event := &models.OrderCreatedEvent{
		BaseEvent:     models.NewBaseEvent(models.EventTypeOrderCreated),
		OrderID:       42,
		CustomerEmail: "ana@example.com",
		CustomerName:  "Ana <Ruiz>",
		TotalAmount:   3000,
		Items: []models.OrderItemData{
			{ProductID: 1, ProductName: "Coffee", Quantity: 2, UnitPrice: 1500},
		},
	}

	email, err := OrderConfirmation(event)
	require.NoError(t, err)
	assert.Equal(t, []string{"ana@example.com"}, email.To)
	assert.Contains(t, email.Subject, "#42")
	assert.Contains(t, email.HTML, "Coffee")
	assert.Contains(t, email.HTML, "$30.00")
	assert.Contains(t, email.HTML, "Ana &lt;Ruiz&gt;")
	assert.Contains(t, email.Text, "$30.00")
}

func TestOrderCancelled(t *testing.T) {
	event := &models.OrderCancelledEvent{
		BaseEvent:     models.NewBaseEvent(models.EventTypeOrderCancelled),
		OrderID:       7,
		CustomerEmail: "luis@example.com",
		TotalAmount:   999,
		Reason:        "cancelled by customer",
	}

	email, err := OrderCancelled(event, "admin@example.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"admin@example.com"}, email.To)
	assert.Contains(t, email.HTML, "luis@example.com")
	assert.Contains(t, email.HTML, "$9.99")
	assert.Contains(t, email.HTML, "cancelled by customer")
}
