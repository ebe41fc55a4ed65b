// Copyright (C) 2025 FinCove Pvt. Ltd.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package profile fetches a caller's aggregated account record from the
// user-data service. The orchestrator calls Resolve at most once per session
// and caches the payload in session state.
package profile

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("maya.orchestrator.profile")

// Resolver looks up the aggregated profile payload for a phone number.
// An empty payload with a nil error means the user is unknown.
type Resolver interface {
	Resolve(ctx context.Context, phoneNumber string) (string, error)
}

// ====================================================================
// HTTP resolver
// ====================================================================

type HTTPResolver struct {
	httpClient *http.Client
	baseURL    string
}

func NewHTTPResolver() (*HTTPResolver, error) {
	baseURL := os.Getenv("PROFILE_SERVICE_URL")
	if baseURL == "" {
		return nil, fmt.Errorf("PROFILE_SERVICE_URL environment variable not set")
	}
	slog.Info("Initializing profile resolver", "base_url", baseURL)
	return &HTTPResolver{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    baseURL,
	}, nil
}

// Resolve fetches the aggregated profile record for phoneNumber. The payload
// is returned as raw JSON text; the answer engine injects it verbatim into
// the generation prompt.
func (r *HTTPResolver) Resolve(ctx context.Context, phoneNumber string) (string, error) {
	ctx, span := tracer.Start(ctx, "HTTPResolver.Resolve")
	defer span.End()

	endpoint := fmt.Sprintf("%s/v1/users/%s/profile", r.baseURL, url.PathEscape(phoneNumber))
	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create profile request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("profile lookup failed: %w", err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode == http.StatusNotFound {
		slog.Debug("No profile record for phone number")
		return "", nil
	}
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("profile service returned status %d", resp.StatusCode)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read profile response: %w", err)
	}
	return string(body), nil
}

// ====================================================================
// Noop resolver
// ====================================================================

// NoopResolver satisfies the contract when no user-data service is
// configured. Every lookup resolves to no profile data.
type NoopResolver struct{}

func (NoopResolver) Resolve(_ context.Context, _ string) (string, error) {
	return "", nil
}
