package radarapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gdlbo/packageradar-sub000/internal/models"
	"github.com/pkg/errors"
)

const (
	protocolID      = "id"
	protocolVersion = "2.0"

	defaultTimeout = 15 * time.Second
	defaultLocale  = "en"
)

// Options — заголовки и окружение клиента. Token дергается на каждый
// запрос: токен может появиться/исчезнуть между вызовами (логин/логаут).
type Options struct {
	AppVersion string
	OSVersion  string
	Locale     string // "ru" | "en"
	UserAgent  string
	Token      func() string
	Timeout    time.Duration
}

type Client struct {
	endpoint string
	opts     Options
	httpc    *http.Client
}

func New(endpoint string, opts Options) *Client {
	if endpoint == "" {
		endpoint = "https://api.packageradar.com/v2"
	}
	if opts.Locale == "" {
		opts.Locale = defaultLocale
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	return &Client{
		endpoint: endpoint,
		opts:     opts,
		httpc: &http.Client{
			Timeout: opts.Timeout,
		},
	}
}

type envelope struct {
	ID      string `json:"id"`
	Version string `json:"version"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type responseError struct {
	Message string `json:"message"`
}

type responseBody struct {
	Result json.RawMessage `json:"result"`
	Error  *responseError  `json:"error"`
}

// call выполняет один RPC-вызов. Три режима отказа разделены явно:
// сетевые/HTTP ошибки -> *TransportError, error в теле -> *APIError.
func call[T any](ctx context.Context, c *Client, method string, params any) (T, error) {
	var zero T

	body, err := json.Marshal(envelope{
		ID:      protocolID,
		Version: protocolVersion,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return zero, errors.Wrap(err, "marshal envelope")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return zero, errors.Wrap(err, "new request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-App-Version", c.opts.AppVersion)
	req.Header.Set("X-OS-Version", c.opts.OSVersion)
	req.Header.Set("X-App-Locale", c.opts.Locale)
	if c.opts.UserAgent != "" {
		req.Header.Set("User-Agent", c.opts.UserAgent)
	}
	if c.opts.Token != nil {
		if tok := c.opts.Token(); tok != "" {
			req.Header.Set("X-Authorization-Token", tok)
		}
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return zero, &TransportError{Method: method, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return zero, &TransportError{Method: method, Err: fmt.Errorf("http %d", resp.StatusCode)}
	}

	var rb responseBody
	if err := json.NewDecoder(resp.Body).Decode(&rb); err != nil {
		return zero, &TransportError{Method: method, Err: errors.Wrap(err, "decode response")}
	}
	if rb.Error != nil {
		return zero, &APIError{Method: method, Message: rb.Error.Message}
	}

	var out T
	if len(rb.Result) > 0 {
		if err := json.Unmarshal(rb.Result, &out); err != nil {
			return zero, &TransportError{Method: method, Err: errors.Wrap(err, "decode result")}
		}
	}
	return out, nil
}

type authResult struct {
	AccessToken string `json:"accessToken"`
}

func (c *Client) GetTokenByCredentials(ctx context.Context, email, password string) (string, error) {
	res, err := call[authResult](ctx, c, "auth.getTokenByCredentials", map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		return "", err
	}
	return res.AccessToken, nil
}

func (c *Client) Register(ctx context.Context, email, password string) (string, error) {
	res, err := call[authResult](ctx, c, "auth.register", map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		return "", err
	}
	return res.AccessToken, nil
}

func (c *Client) RemindPassword(ctx context.Context, email string) error {
	_, err := call[struct{}](ctx, c, "auth.remindPassword", map[string]string{"email": email})
	return err
}

func (c *Client) ResendConfirmation(ctx context.Context) error {
	_, err := call[struct{}](ctx, c, "auth.resendConfirmation", map[string]string{})
	return err
}

// TrackingList — полный серверный снапшот: список трекингов и профиль.
type TrackingList struct {
	Trackings []*models.TrackingRecord `json:"trackings"`
	Profile   *models.Profile          `json:"profile"`
}

func (c *Client) GetTrackingList(ctx context.Context) (TrackingList, error) {
	return call[TrackingList](ctx, c, "profile.getTrackingList", map[string]string{})
}

func (c *Client) AddTracking(ctx context.Context, trackingNumber, courierSlug, title string) (*models.TrackingRecord, error) {
	return call[*models.TrackingRecord](ctx, c, "profile.addTracking", map[string]string{
		"trackingNumber": trackingNumber,
		"courierSlug":    courierSlug,
		"title":          title,
	})
}

// TrackingUpdate — частичное обновление одного трекинга по id.
// Незаполненные поля сервер не трогает.
type TrackingUpdate struct {
	ID          string  `json:"id"`
	IsArchived  *bool   `json:"isArchived,omitempty"`
	Title       *string `json:"title,omitempty"`
	IsDelivered *bool   `json:"isDelivered,omitempty"`
	// NoNotify подавляет уведомления по ранее накопленным событиям
	// (семантика "отметить прочитанным").
	NoNotify *bool `json:"noNotify,omitempty"`
}

func (c *Client) UpdateTrackingList(ctx context.Context, updates []TrackingUpdate) error {
	_, err := call[struct{}](ctx, c, "profile.updateTrackingList", map[string]any{
		"trackings": updates,
	})
	return err
}

func (c *Client) RefreshTracking(ctx context.Context, id string) error {
	_, err := call[struct{}](ctx, c, "profile.refreshTracking", map[string]string{"id": id})
	return err
}

func (c *Client) SetNotificationSettings(ctx context.Context, email, push bool) error {
	_, err := call[struct{}](ctx, c, "profile.setNotificationSettings", map[string]bool{
		"notifyEmail": email,
		"notifyPush":  push,
	})
	return err
}

// DetectedCourier — один вариант распознавания трек-номера.
type DetectedCourier struct {
	Courier        models.Courier `json:"courier"`
	TrackingNumber string         `json:"trackingNumber"`
}

func (c *Client) Detect(ctx context.Context, trackingNumber string) ([]DetectedCourier, error) {
	res, err := call[struct {
		Couriers []DetectedCourier `json:"couriers"`
	}](ctx, c, "tracking.detect", map[string]string{"trackingNumber": trackingNumber})
	if err != nil {
		return nil, err
	}
	return res.Couriers, nil
}
