// Package whatsapp - клиент WhatsApp Cloud API для уведомлений о заказах.
package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// DefaultBaseURL - адрес Graph API.
const DefaultBaseURL = "https://graph.facebook.com/v19.0"

// Config - параметры доступа к Cloud API.
type Config struct {
	BaseURL       string
	Token         string
	PhoneNumberID string
	Timeout       time.Duration
}

// Client реализует domain.Messenger.
type Client struct {
	http          *resty.Client
	phoneNumberID string
}

var _ domain.Messenger = (*Client)(nil)

type textBody struct {
	Body string `json:"body"`
}

type language struct {
	Code string `json:"code"`
}

type parameter struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type component struct {
	Type       string      `json:"type"`
	Parameters []parameter `json:"parameters"`
}

type templateBody struct {
	Name       string      `json:"name"`
	Language   language    `json:"language"`
	Components []component `json:"components,omitempty"`
}

type message struct {
	MessagingProduct string        `json:"messaging_product"`
	To               string        `json:"to"`
	Type             string        `json:"type"`
	Text             *textBody     `json:"text,omitempty"`
	Template         *templateBody `json:"template,omitempty"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// New создаёт клиент.
func New(cfg Config) (*Client, error) {
	if cfg.Token == "" || cfg.PhoneNumberID == "" {
		return nil, errors.New("whatsapp token and phone number id are required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}

	http := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetAuthToken(cfg.Token).
		SetHeader("Content-Type", "application/json")
	if cfg.Timeout > 0 {
		http.SetTimeout(cfg.Timeout)
	}

	return &Client{http: http, phoneNumberID: cfg.PhoneNumberID}, nil
}

// SendTemplate отправляет согласованный шаблон с параметрами тела.
func (c *Client) SendTemplate(ctx context.Context, msg domain.TemplateMessage) error {
	tpl := &templateBody{Name: msg.Name, Language: language{Code: msg.Language}}
	if tpl.Language.Code == "" {
		tpl.Language.Code = "en_US"
	}
	if len(msg.Params) > 0 {
		params := make([]parameter, 0, len(msg.Params))
		for _, p := range msg.Params {
			params = append(params, parameter{Type: "text", Text: p})
		}
		tpl.Components = []component{{Type: "body", Parameters: params}}
	}

	return c.send(ctx, message{
		MessagingProduct: "whatsapp",
		To:               recipient(msg.To),
		Type:             "template",
		Template:         tpl,
	})
}

// SendText отправляет свободный текст.
func (c *Client) SendText(ctx context.Context, to, body string) error {
	return c.send(ctx, message{
		MessagingProduct: "whatsapp",
		To:               recipient(to),
		Type:             "text",
		Text:             &textBody{Body: body},
	})
}

func (c *Client) send(ctx context.Context, msg message) error {
	if msg.To == "" {
		return errors.New("whatsapp recipient is empty")
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(msg).
		SetError(&apiError{}).
		Post("/" + c.phoneNumberID + "/messages")
	if err != nil {
		return fmt.Errorf("whatsapp %s message: %w", msg.Type, err)
	}
	if resp.IsError() {
		if apiErr, ok := resp.Error().(*apiError); ok && apiErr.Error.Message != "" {
			return fmt.Errorf("whatsapp %s message: status %d: %s (code %d)",
				msg.Type, resp.StatusCode(), apiErr.Error.Message, apiErr.Error.Code)
		}
		return fmt.Errorf("whatsapp %s message: status %d", msg.Type, resp.StatusCode())
	}
	return nil
}

// recipient приводит номер к виду, который ожидает Cloud API: только цифры.
func recipient(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
