// Package uploader загружает подтверждение оплаты в хранилище изображений
// (API, совместимый с unsigned upload Cloudinary) и возвращает публичный URL.
package uploader

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// DefaultBaseURL - адрес API загрузки.
const DefaultBaseURL = "https://api.cloudinary.com/v1_1"

// DefaultMaxBytes ограничивает размер декодированного вложения.
const DefaultMaxBytes = 5 << 20

var (
	// ErrEmptyAttachment - во вложении нет данных.
	ErrEmptyAttachment = errors.New("proof attachment is empty")
	// ErrAttachmentTooLarge - вложение больше допустимого размера.
	ErrAttachmentTooLarge = errors.New("proof attachment is too large")
)

// Config - параметры сервиса загрузки.
type Config struct {
	BaseURL      string
	CloudName    string
	UploadPreset string
	Folder       string
	MaxBytes     int
	Timeout      time.Duration
}

// Client реализует domain.Uploader.
type Client struct {
	http     *resty.Client
	cfg      Config
	endpoint string
}

var _ domain.Uploader = (*Client)(nil)

type uploadResponse struct {
	SecureURL string `json:"secure_url"`
	URL       string `json:"url"`
}

type uploadError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// New создаёт клиент загрузки.
func New(cfg Config) (*Client, error) {
	if cfg.CloudName == "" || cfg.UploadPreset == "" {
		return nil, errors.New("upload cloud name and preset are required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}

	http := resty.New().SetBaseURL(strings.TrimRight(cfg.BaseURL, "/"))
	if cfg.Timeout > 0 {
		http.SetTimeout(cfg.Timeout)
	}
	return &Client{
		http:     http,
		cfg:      cfg,
		endpoint: "/" + cfg.CloudName + "/image/upload",
	}, nil
}

// Upload отправляет вложение и возвращает его публичный URL.
func (c *Client) Upload(ctx context.Context, proof domain.ProofAttachment, reference string) (string, error) {
	dataURI, err := c.dataURI(proof)
	if err != nil {
		return "", err
	}

	form := map[string]string{
		"file":          dataURI,
		"upload_preset": c.cfg.UploadPreset,
	}
	if reference != "" {
		form["public_id"] = "proof-" + reference
	}
	if c.cfg.Folder != "" {
		form["folder"] = c.cfg.Folder
	}

	var out uploadResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(form).
		SetResult(&out).
		SetError(&uploadError{}).
		Post(c.endpoint)
	if err != nil {
		return "", fmt.Errorf("upload proof: %w", err)
	}
	if resp.IsError() {
		if e, ok := resp.Error().(*uploadError); ok && e.Error.Message != "" {
			return "", fmt.Errorf("upload proof: status %d: %s", resp.StatusCode(), e.Error.Message)
		}
		return "", fmt.Errorf("upload proof: status %d", resp.StatusCode())
	}

	url := out.SecureURL
	if url == "" {
		url = out.URL
	}
	if url == "" {
		return "", errors.New("upload proof: response has no url")
	}
	return url, nil
}

// dataURI проверяет base64 и собирает data URI. Клиенты присылают как «голый»
// base64, так и готовый data URI.
func (c *Client) dataURI(proof domain.ProofAttachment) (string, error) {
	payload := strings.TrimSpace(proof.DataBase64)
	mimeType := strings.TrimSpace(proof.MimeType)

	if strings.HasPrefix(payload, "data:") {
		header, data, ok := strings.Cut(payload, ",")
		if !ok {
			return "", fmt.Errorf("upload proof: malformed data uri")
		}
		if mimeType == "" {
			mimeType = strings.TrimSuffix(strings.TrimPrefix(header, "data:"), ";base64")
		}
		payload = data
	}
	if payload == "" {
		return "", ErrEmptyAttachment
	}

	decoded, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("upload proof: invalid base64: %w", err)
	}
	if len(decoded) > c.cfg.MaxBytes {
		return "", fmt.Errorf("%w: %d bytes", ErrAttachmentTooLarge, len(decoded))
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return "data:" + mimeType + ";base64," + payload, nil
}
