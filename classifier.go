/*
Copyright 2024 Railrelay Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package railrelay

import (
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/railrelay/railrelay/model"
)

// ClassificationContext carries everything known about one failure.
type ClassificationContext struct {
	ErrorCode    string
	ErrorMessage string
	HTTPStatus   int
	// BeforeExternalSend marks failures that happened before the rail
	// call went out. A timeout with no send cannot represent rail-side
	// ambiguity.
	BeforeExternalSend bool
	RequestID          string
}

type errorPattern struct {
	substrings   []string
	expressions  []*regexp.Regexp
	failureClass model.FailureClass
}

// Known error patterns mapped to failure classes. Order matters: first
// match wins.
var errorPatterns = []errorPattern{
	{
		substrings:   []string{"VALIDATION_ERROR", "SCHEMA_INVALID", "MALFORMED_REQUEST"},
		expressions:  []*regexp.Regexp{regexp.MustCompile(`(?i)invalid.*format`)},
		failureClass: model.FailureValidation,
	},
	{
		substrings:   []string{"UNAUTHORIZED", "FORBIDDEN", "AUTH_FAILED", "PERMISSION_DENIED"},
		expressions:  []*regexp.Regexp{regexp.MustCompile(`(?i)authz?.*fail`)},
		failureClass: model.FailureAuthz,
	},
	{
		substrings:   []string{"RAIL_REJECT", "REJECTED", "DECLINED", "INSUFFICIENT_FUNDS", "ACCOUNT_CLOSED"},
		failureClass: model.FailureRailReject,
	},
	{
		substrings:   []string{"TIMEOUT", "DEADLINE_EXCEEDED", "DEADLINE EXCEEDED", "REQUEST_TIMEOUT"},
		expressions:  []*regexp.Regexp{regexp.MustCompile(`(?i)timed?\s*out`)},
		failureClass: model.FailureTimeout,
	},
	{
		substrings:   []string{"ECONNREFUSED", "ECONNRESET", "NETWORK_ERROR", "CONNECTION_FAILED", "DNS_ERROR"},
		failureClass: model.FailureTransport,
	},
	{
		substrings:   []string{"INTERNAL_ERROR", "SYSTEM_ERROR", "UNEXPECTED_ERROR", "CRASH"},
		failureClass: model.FailureSystem,
	},
}

var redactPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)password[=:]\s*\S+`),
	regexp.MustCompile(`(?i)token[=:]\s*\S+`),
	regexp.MustCompile(`(?i)key[=:]\s*\S+`),
	regexp.MustCompile(`(?i)secret[=:]\s*\S+`),
}

var redactReplacements = []string{
	"password=[REDACTED]",
	"token=[REDACTED]",
	"key=[REDACTED]",
	"secret=[REDACTED]",
}

const maxErrorMessageLength = 500

// ClassifyFailure deterministically classifies a failure into one of the
// six failure classes. Precedence: error code patterns, then message
// patterns, then HTTP status ranges, then SYSTEM_FAILURE. Same inputs
// always yield the same class and eligibility.
func ClassifyFailure(context ClassificationContext) model.FailureClassification {
	failureClass := model.FailureSystem

	if context.ErrorCode != "" {
		if matched, ok := matchErrorPatterns(context.ErrorCode); ok {
			failureClass = matched
		}
	}

	if failureClass == model.FailureSystem && context.ErrorMessage != "" {
		if matched, ok := matchErrorPatterns(context.ErrorMessage); ok {
			failureClass = matched
		}
	}

	if failureClass == model.FailureSystem && context.HTTPStatus != 0 {
		switch {
		case context.HTTPStatus == 400 || context.HTTPStatus == 422:
			failureClass = model.FailureValidation
		case context.HTTPStatus == 401 || context.HTTPStatus == 403:
			failureClass = model.FailureAuthz
		case context.HTTPStatus == 408 || context.HTTPStatus == 504:
			failureClass = model.FailureTimeout
		case context.HTTPStatus >= 500 && context.HTTPStatus < 600:
			// 5xx before send is internal; after send the request may or
			// may not have been delivered.
			if context.BeforeExternalSend {
				failureClass = model.FailureSystem
			} else {
				failureClass = model.FailureTransport
			}
		}
	}

	if context.BeforeExternalSend && failureClass == model.FailureTimeout {
		failureClass = model.FailureSystem
	}

	eligibility := failureClass.Eligibility()
	classification := model.FailureClassification{
		FailureClass: failureClass,
		Eligibility:  eligibility,
		ErrorCode:    context.ErrorCode,
		ErrorMessage: SanitizeErrorMessage(context.ErrorMessage),
		ClassifiedAt: time.Now(),
	}

	logrus.WithFields(logrus.Fields{
		"request_id":      context.RequestID,
		"failure_class":   failureClass,
		"retry_allowed":   eligibility.RetryAllowed,
		"repair_required": eligibility.RepairRequired,
	}).Info("failure classified")

	return classification
}

func matchErrorPatterns(value string) (model.FailureClass, bool) {
	upper := strings.ToUpper(value)
	for _, pattern := range errorPatterns {
		for _, substring := range pattern.substrings {
			if strings.Contains(upper, substring) {
				return pattern.failureClass, true
			}
		}
		for _, expression := range pattern.expressions {
			if expression.MatchString(value) {
				return pattern.failureClass, true
			}
		}
	}
	return "", false
}

// SanitizeErrorMessage redacts credential-looking fragments and bounds
// the message length. Raw rail error messages are never logged or stored.
func SanitizeErrorMessage(message string) string {
	if message == "" {
		return ""
	}
	for i, pattern := range redactPatterns {
		message = pattern.ReplaceAllString(message, redactReplacements[i])
	}
	if len(message) > maxErrorMessageLength {
		message = message[:maxErrorMessageLength]
	}
	return message
}
