package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/net/http2"

	"github.com/dukaanware/dukasync/internal/config"
	"github.com/dukaanware/dukasync/internal/events"
	"github.com/dukaanware/dukasync/internal/models"
)

// HTTPGateway implements Gateway over plain REST.
type HTTPGateway struct {
	client    *http.Client
	baseURL   string
	userAgent string
	token     string
	logger    *events.Logger
}

// NewHTTPGateway creates an HTTP gateway.
func NewHTTPGateway(cfg *config.APIConfig, logger *events.Logger) *HTTPGateway {
	// Create transport with HTTP/2 support
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			NextProtos: []string{"h2", "http/1.1"},
		},
	}

	if err := http2.ConfigureTransport(transport); err != nil {
		logger.WithError(err).Warn("Failed to configure HTTP/2")
	}

	return &HTTPGateway{
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		baseURL:   cfg.BaseURL,
		userAgent: cfg.UserAgent,
		token:     cfg.Token,
		logger:    logger.WithComponent("http_gateway"),
	}
}

// SetToken sets the authentication token.
func (g *HTTPGateway) SetToken(token string) {
	g.token = token
}

// GetToken returns the current authentication token.
func (g *HTTPGateway) GetToken() string {
	return g.token
}

// CreateRecord posts a record to the store-scoped collection endpoint. A
// local identifier is stripped from the outgoing payload; the server
// assigns the authoritative one.
func (g *HTTPGateway) CreateRecord(ctx context.Context, storeID string, rec models.Record) (models.Record, error) {
	if storeID == "" {
		return nil, models.ErrStoreIDMissing
	}

	payload, err := encodeForCreate(rec)
	if err != nil {
		return nil, err
	}

	path := fmt.Sprintf("/stores/%s/%s", storeID, rec.Entity().Path())
	body, err := g.do(ctx, http.MethodPost, path, payload)
	if err != nil {
		return nil, err
	}

	created, err := models.DecodeRecord(rec.Entity(), body)
	if err != nil {
		return nil, fmt.Errorf("parse created %s: %w", rec.Entity(), err)
	}
	return created, nil
}

// ListRecords fetches the full remote collection.
func (g *HTTPGateway) ListRecords(ctx context.Context, storeID string, entity models.Entity) ([]models.Record, error) {
	if storeID == "" {
		return nil, models.ErrStoreIDMissing
	}

	path := fmt.Sprintf("/stores/%s/%s", storeID, entity.Path())
	body, err := g.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	return models.DecodeRecords(entity, body)
}

// UpdateRecord replaces the remote record by id.
func (g *HTTPGateway) UpdateRecord(ctx context.Context, rec models.Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", rec.Entity(), err)
	}

	path := fmt.Sprintf("/%s/%s", rec.Entity().Path(), rec.RecordID())
	_, err = g.do(ctx, http.MethodPut, path, payload)
	return err
}

// DeleteRecord removes the remote record by id.
func (g *HTTPGateway) DeleteRecord(ctx context.Context, entity models.Entity, id string) error {
	path := fmt.Sprintf("/%s/%s", entity.Path(), id)
	_, err := g.do(ctx, http.MethodDelete, path, nil)
	return err
}

// Close releases resources.
func (g *HTTPGateway) Close() error {
	g.client.CloseIdleConnections()
	return nil
}

// do executes one request and returns the response body on 2xx.
func (g *HTTPGateway) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	url := g.baseURL + path

	g.logger.WithFields(map[string]interface{}{
		"method": method,
		"url":    url,
		"size":   len(payload),
	}).Debug("Sending request")

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", g.userAgent)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	g.logger.WithFields(map[string]interface{}{
		"status": resp.StatusCode,
		"size":   len(body),
	}).Debug("Received response")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr models.APIError
		if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Message != "" {
			apiErr.StatusCode = resp.StatusCode
			return nil, &apiErr
		}
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, body)
	}

	return body, nil
}

// encodeForCreate marshals a record for POST, dropping a local id so the
// server assigns its own.
func encodeForCreate(rec models.Record) ([]byte, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", rec.Entity(), err)
	}

	if !models.IsLocalID(rec.RecordID()) {
		return data, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("strip local id: %w", err)
	}
	delete(fields, "id")

	return json.Marshal(fields)
}
