package receipt

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func testRenderer() *Renderer {
	cfg := DefaultConfig()
	cfg.Compress = false
	cfg.Brand = "Lumley Wares"
	return NewRenderer(cfg)
}

func fullOrder() domain.Order {
	return domain.Order{
		ID:        "64f1c0ffee",
		Reference: "LWG-7QX2KD",
		CreatedAt: time.Date(2025, 5, 2, 9, 15, 0, 0, time.UTC),
		Customer: domain.Customer{
			Name:           "Aminata Kamara",
			Phone:          "+23276123456",
			Email:          "aminata@example.com",
			Address:        "12 Lumley Beach Rd",
			DeliveryZone:   "Greater Freetown",
			PaymentMethod:  "Orange Money",
			PaymentDetails: map[string]string{"txn": "OM-5531"},
		},
		Items: []domain.LineItem{
			{ProductKey: "mug", Title: "Mug", UnitPrice: 80, Quantity: 2},
			{ProductKey: "plate", Title: "Enamel plate", UnitPrice: 35.5, Quantity: 1},
		},
		Subtotal:      195.5,
		DeliveryFee:   40,
		GrandTotal:    235.5,
		ProofURL:      "https://cdn.example.com/proof.png",
		Status:        domain.OrderStatusNew,
		PaymentStatus: domain.PaymentStatusPending,
	}
}

func TestRender_ContainsReferenceItemsAndTotals(t *testing.T) {
	out, err := testRenderer().Render(fullOrder())
	require.NoError(t, err)

	require.True(t, bytes.HasPrefix(out, []byte("%PDF")))
	for _, want := range []string{"LWG-7QX2KD", "Mug", "Enamel plate", "SLE 235.50", "SLE 40.00", "Greater Freetown"} {
		assert.True(t, bytes.Contains(out, []byte(want)), "receipt must contain %q", want)
	}
}

func TestRender_MissingOptionalFields(t *testing.T) {
	order := domain.Order{
		Reference:  "LWG-000001",
		Customer:   domain.Customer{Name: "Sorie"},
		Items:      []domain.LineItem{{Title: "Mug", UnitPrice: 80, Quantity: 2}},
		Subtotal:   160,
		GrandTotal: 160,
	}

	var out []byte
	require.NotPanics(t, func() {
		var err error
		out, err = testRenderer().Render(order)
		require.NoError(t, err)
	})

	assert.True(t, bytes.Contains(out, []byte("LWG-000001")))
	assert.True(t, bytes.Contains(out, []byte("SLE 160.00")))
	assert.False(t, bytes.Contains(out, []byte("Phone:")))
	assert.False(t, bytes.Contains(out, []byte("Zone:")))
}

func TestRender_EmptyOrderDoesNotFail(t *testing.T) {
	_, err := NewRenderer(Config{}).Render(domain.Order{})
	require.NoError(t, err)
}

func TestRender_NonLatinTextIsTranslated(t *testing.T) {
	order := fullOrder()
	order.Customer.Name = "Zoë Koroma"
	order.Items[0].Title = "Café mug"

	_, err := testRenderer().Render(order)
	require.NoError(t, err)
}

func TestRender_LongOrderStaysOnOnePage(t *testing.T) {
	order := fullOrder()
	order.Items = nil
	for i := 0; i < 80; i++ {
		order.Items = append(order.Items, domain.LineItem{Title: fmt.Sprintf("Bead %02d", i), UnitPrice: 1, Quantity: 2})
	}
	order.Note = strings.Repeat("Deliver after 5pm, call on arrival. ", 20)

	out, err := testRenderer().Render(order)
	require.NoError(t, err)

	assert.True(t, bytes.Contains(out, []byte("/Count 1\n")), "receipt must have exactly one page")
	assert.True(t, bytes.Contains(out, []byte("Bead 00")))
	assert.True(t, bytes.Contains(out, []byte("more items")))
	assert.False(t, bytes.Contains(out, []byte("Bead 79")))
	assert.True(t, bytes.Contains(out, []byte("LWG-7QX2KD")))
}

func TestFilename(t *testing.T) {
	assert.Equal(t, "receipt-LWG-7QX2KD.pdf", Filename(fullOrder()))
}
