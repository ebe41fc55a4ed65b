// Copyright (C) 2025 FinCove Pvt. Ltd.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package auth implements the OTP side channel. It owns OTP issuance and
// code checking only; the stream-level verification gate is updated by an
// explicit control message on the stream, never by this package.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("maya.orchestrator.auth")

// DefaultCountryPrefix is prepended to phone numbers submitted without a
// country code.
const DefaultCountryPrefix = "+91"

// Verifier abstracts the OTP delivery provider.
type Verifier interface {
	// SendCode dispatches a one-time code to phoneNumber.
	SendCode(ctx context.Context, phoneNumber string) error
	// CheckCode reports whether code is valid for phoneNumber. A false
	// result with a nil error means the code was rejected.
	CheckCode(ctx context.Context, phoneNumber, code string) (bool, error)
}

// NormalizePhone ensures the number carries the default country prefix.
func NormalizePhone(phone string) string {
	phone = strings.TrimSpace(phone)
	if strings.HasPrefix(phone, "+") {
		return phone
	}
	return DefaultCountryPrefix + phone
}

// ====================================================================
// Twilio Verify
// ====================================================================

// TwilioVerifier talks to the Twilio Verify v2 REST API.
type TwilioVerifier struct {
	httpClient *http.Client
	accountSID string
	authToken  string
	serviceSID string
}

func NewTwilioVerifier() (*TwilioVerifier, error) {
	accountSID := os.Getenv("TWILIO_ACCOUNT_SID")
	authToken := os.Getenv("TWILIO_AUTH_TOKEN")
	serviceSID := os.Getenv("TWILIO_VERIFY_SERVICE_SID")
	if accountSID == "" || authToken == "" || serviceSID == "" {
		return nil, fmt.Errorf("TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_VERIFY_SERVICE_SID must be set")
	}
	slog.Info("Initializing Twilio Verify client", "service_sid", serviceSID)
	return &TwilioVerifier{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		accountSID: accountSID,
		authToken:  authToken,
		serviceSID: serviceSID,
	}, nil
}

type twilioVerificationResponse struct {
	Status string `json:"status"`
}

// SendCode starts a verification for phoneNumber via SMS. Twilio reports a
// freshly started verification with status "pending"; anything else is a
// dispatch failure.
func (t *TwilioVerifier) SendCode(ctx context.Context, phoneNumber string) error {
	ctx, span := tracer.Start(ctx, "TwilioVerifier.SendCode")
	defer span.End()

	form := url.Values{}
	form.Set("To", phoneNumber)
	form.Set("Channel", "sms")

	var parsed twilioVerificationResponse
	if err := t.post(ctx, "/Verifications", form, &parsed); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if parsed.Status != "pending" {
		err := fmt.Errorf("OTP dispatch returned status %q", parsed.Status)
		span.RecordError(err)
		return err
	}
	return nil
}

// CheckCode submits code for phoneNumber. Only the "approved" status counts
// as a successful verification.
func (t *TwilioVerifier) CheckCode(ctx context.Context, phoneNumber, code string) (bool, error) {
	ctx, span := tracer.Start(ctx, "TwilioVerifier.CheckCode")
	defer span.End()

	form := url.Values{}
	form.Set("To", phoneNumber)
	form.Set("Code", code)

	var parsed twilioVerificationResponse
	if err := t.post(ctx, "/VerificationCheck", form, &parsed); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, err
	}
	return parsed.Status == "approved", nil
}

func (t *TwilioVerifier) post(ctx context.Context, path string, form url.Values, out interface{}) error {
	endpoint := fmt.Sprintf("https://verify.twilio.com/v2/Services/%s%s", t.serviceSID, path)
	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create Twilio request: %w", err)
	}
	req.SetBasicAuth(t.accountSID, t.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("Twilio request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read Twilio response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("Twilio returned status %d: %s", resp.StatusCode, string(body))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse Twilio response: %w", err)
	}
	return nil
}

// ====================================================================
// Noop verifier
// ====================================================================

// NoopVerifier accepts any code. Used in lightweight deployments where no
// OTP provider is configured; the auth gate still applies.
type NoopVerifier struct{}

func (NoopVerifier) SendCode(_ context.Context, phoneNumber string) error {
	slog.Warn("NoopVerifier: pretending to send OTP", "phone", phoneNumber)
	return nil
}

func (NoopVerifier) CheckCode(_ context.Context, _, _ string) (bool, error) {
	return true, nil
}
