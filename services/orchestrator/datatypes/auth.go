// Copyright (C) 2025 FinCove Pvt. Ltd.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"github.com/go-playground/validator/v10"
)

// MaxPhoneDigits is the longest phone number accepted by the OTP side
// channel, including the country prefix.
const MaxPhoneDigits = 16

// authValidate is the validator instance for the OTP side-channel payloads.
// Initialized in init() with the custom phone rule.
var authValidate *validator.Validate

func init() {
	authValidate = validator.New()
	_ = authValidate.RegisterValidation("phonenumber", validatePhoneNumber)
}

// validatePhoneNumber accepts digits with an optional leading +. Country-code
// normalization happens later in the auth service; this only rejects garbage.
func validatePhoneNumber(fl validator.FieldLevel) bool {
	phone := fl.Field().String()
	if phone == "" || len(phone) > MaxPhoneDigits {
		return false
	}
	for i, r := range phone {
		if r == '+' && i == 0 {
			continue
		}
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// SendOTPRequest is the body of POST /auth/send-otp. It associates a phone
// number with a live session and triggers OTP dispatch.
type SendOTPRequest struct {
	Phone     string `json:"phone" validate:"required,phonenumber"`
	SessionID string `json:"session_id" validate:"required"`
}

// Validate checks the request against the registered rules.
func (r *SendOTPRequest) Validate() error {
	return authValidate.Struct(r)
}

// VerifyOTPRequest is the body of POST /auth/verify-otp.
type VerifyOTPRequest struct {
	Phone string `json:"phone" validate:"required,phonenumber"`
	Code  string `json:"code" validate:"required,min=4,max=10,numeric"`
}

// Validate checks the request against the registered rules.
func (r *VerifyOTPRequest) Validate() error {
	return authValidate.Struct(r)
}
