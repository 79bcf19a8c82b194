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
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/railrelay/railrelay/config"
	"github.com/railrelay/railrelay/internal/request"
	"github.com/railrelay/railrelay/model"
)

// Rail codes that are explicit negative decisions. Retrying these would
// only be re-rejected.
var terminalRailCodes = map[string]bool{
	"INVALID_ACCOUNT":     true,
	"INSUFFICIENT_FUNDS":  true,
	"FRAUD_BLOCK":         true,
	"INVALID_AMOUNT":      true,
	"INVALID_DESTINATION": true,
	"INVALID_CURRENCY":    true,
}

// IsTerminalRailCode reports whether a rail code is an explicit negative
// decision.
func IsTerminalRailCode(code string) bool {
	return terminalRailCodes[code]
}

// RailDispatchRequest is one money-movement instruction sent to the rail.
// Reference carries the outbox_id, so the rail can deduplicate even when
// local attempt bookkeeping is ambiguous.
type RailDispatchRequest struct {
	Reference     string                 `json:"reference"`
	Amount        decimal.Decimal        `json:"amount"`
	Currency      string                 `json:"currency"`
	Destination   string                 `json:"destination"`
	ParticipantID string                 `json:"participant_id"`
	RailType      string                 `json:"rail_type"`
	MetaData      map[string]interface{} `json:"meta_data,omitempty"`
}

// RailDispatchResult is the rail's answer to a dispatch.
type RailDispatchResult struct {
	Success       bool   `json:"success"`
	RailReference string `json:"rail_reference,omitempty"`
	RailCode      string `json:"rail_code,omitempty"`
	ErrorCode     string `json:"error_code,omitempty"`
	ErrorMessage  string `json:"error_message,omitempty"`
	Retryable     *bool  `json:"retryable,omitempty"`
	HTTPStatus    int    `json:"-"`
}

// RailClient is the external settlement rail boundary. Dispatch executes
// one instruction; QueryTransactionStatus reconciles an ambiguous one.
type RailClient interface {
	Dispatch(ctx context.Context, req RailDispatchRequest) (*RailDispatchResult, error)
	QueryTransactionStatus(ctx context.Context, railID, reference string) (model.ReconciliationResult, error)
}

// HTTPRailClient talks to a rail gateway over HTTP.
type HTTPRailClient struct {
	baseURL   string
	authToken string
	timeout   time.Duration
}

func NewHTTPRailClient(conf *config.Configuration) *HTTPRailClient {
	return &HTTPRailClient{
		baseURL:   conf.Rail.Url,
		authToken: conf.Rail.AuthToken,
		timeout:   time.Duration(conf.Rail.TimeoutSeconds) * time.Second,
	}
}

func (c *HTTPRailClient) Dispatch(ctx context.Context, dispatchReq RailDispatchRequest) (*RailDispatchResult, error) {
	payload, err := request.ToJsonReq(&dispatchReq)
	if err != nil {
		return nil, errors.Wrap(err, "marshaling rail dispatch request")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/dispatch", c.baseURL), payload)
	if err != nil {
		return nil, errors.Wrap(err, "building rail dispatch request")
	}
	// The rail deduplicates on this header. Re-sending after a crash can
	// never execute twice.
	req.Header.Set("Idempotency-Key", dispatchReq.Reference)
	if c.authToken != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.authToken))
	}

	var result RailDispatchResult
	resp, err := request.Call(req, &result)
	if resp != nil {
		result.HTTPStatus = resp.StatusCode
	}
	if err != nil {
		// A rejection with a decoded error body is a rail decision, not a
		// transport failure.
		if resp != nil && (result.ErrorCode != "" || result.ErrorMessage != "") {
			result.Success = false
			return &result, nil
		}
		return nil, errors.Wrap(err, "rail dispatch call")
	}
	return &result, nil
}

type railStatusResponse struct {
	Status        string `json:"status"`
	RailReference string `json:"rail_reference,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`
	Details       string `json:"details,omitempty"`
}

func (c *HTTPRailClient) QueryTransactionStatus(ctx context.Context, railID, reference string) (model.ReconciliationResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	url := fmt.Sprintf("%s/rails/%s/transactions/%s", c.baseURL, railID, reference)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return model.ReconciliationResult{}, errors.Wrap(err, "building rail status request")
	}
	if c.authToken != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.authToken))
	}

	var response railStatusResponse
	resp, err := request.Call(req, &response)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return model.ReconciliationResult{Status: model.ReconciliationNotFound, Details: response.Details}, nil
		}
		return model.ReconciliationResult{}, errors.Wrap(err, "rail status call")
	}

	switch model.ReconciliationStatus(response.Status) {
	case model.ReconciliationConfirmedSuccess:
		return model.ReconciliationResult{
			Status:        model.ReconciliationConfirmedSuccess,
			RailReference: response.RailReference,
			Details:       response.Details,
		}, nil
	case model.ReconciliationConfirmedFailure:
		return model.ReconciliationResult{
			Status:        model.ReconciliationConfirmedFailure,
			FailureReason: response.FailureReason,
			Details:       response.Details,
		}, nil
	case model.ReconciliationNotFound:
		return model.ReconciliationResult{Status: model.ReconciliationNotFound, Details: response.Details}, nil
	case model.ReconciliationStillPending:
		return model.ReconciliationResult{Status: model.ReconciliationStillPending, Details: response.Details}, nil
	default:
		return model.ReconciliationResult{}, errors.Errorf("unknown rail status %q", response.Status)
	}
}
