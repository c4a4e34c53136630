package whatsapp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(Config{BaseURL: srv.URL, Token: "secret", PhoneNumberID: "1055", Timeout: time.Second})
	require.NoError(t, err)
	return c
}

func TestNew_RequiresCredentials(t *testing.T) {
	_, err := New(Config{Token: "x"})
	require.Error(t, err)
}

func TestSendText(t *testing.T) {
	var got message
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/1055/messages", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"messages":[{"id":"wamid.1"}]}`))
	})

	err := c.SendText(context.Background(), "+232 76 123456", "Order LWG-7QX2KD received")
	require.NoError(t, err)

	assert.Equal(t, "whatsapp", got.MessagingProduct)
	assert.Equal(t, "23276123456", got.To)
	assert.Equal(t, "text", got.Type)
	require.NotNil(t, got.Text)
	assert.Equal(t, "Order LWG-7QX2KD received", got.Text.Body)
}

func TestSendTemplate(t *testing.T) {
	var got message
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	})

	err := c.SendTemplate(context.Background(), domain.TemplateMessage{
		To:     "+23276123456",
		Name:   "order_confirmation",
		Params: []string{"Aminata", "LWG-7QX2KD", "SLE 160.00"},
	})
	require.NoError(t, err)

	require.NotNil(t, got.Template)
	assert.Equal(t, "template", got.Type)
	assert.Equal(t, "order_confirmation", got.Template.Name)
	assert.Equal(t, "en_US", got.Template.Language.Code)
	require.Len(t, got.Template.Components, 1)
	require.Len(t, got.Template.Components[0].Parameters, 3)
	assert.Equal(t, "LWG-7QX2KD", got.Template.Components[0].Parameters[1].Text)
}

func TestSend_APIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"Template name does not exist","type":"OAuthException","code":132001}}`))
	})

	err := c.SendTemplate(context.Background(), domain.TemplateMessage{To: "+23276123456", Name: "missing"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Template name does not exist")
	assert.Contains(t, err.Error(), "400")
}

func TestSend_ContextDeadline(t *testing.T) {
	release := make(chan struct{})
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := c.SendText(ctx, "+23276123456", "hi")
	require.Error(t, err)
}

func TestSend_EmptyRecipient(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("request must not be sent")
	})
	require.Error(t, c.SendText(context.Background(), "n/a", "hi"))
}
