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
	"github.com/sirupsen/logrus"

	"github.com/railrelay/railrelay/config"
	"github.com/railrelay/railrelay/internal/request"
	"github.com/railrelay/railrelay/model"
)

// FinancialCoreClient is the system-of-record boundary. The outbox never
// owns instruction state; it proposes transitions and the core decides.
type FinancialCoreClient interface {
	GetInstructionState(ctx context.Context, instructionID string) (model.InstructionState, error)
	ProposeTransition(ctx context.Context, req model.TransitionRequest) (*model.TransitionResponse, error)
}

// HTTPFinancialCoreClient talks to the Financial Core over HTTP.
type HTTPFinancialCoreClient struct {
	baseURL   string
	authToken string
	timeout   time.Duration
}

func NewHTTPFinancialCoreClient(conf *config.Configuration) *HTTPFinancialCoreClient {
	return &HTTPFinancialCoreClient{
		baseURL:   conf.FinancialCore.Url,
		authToken: conf.FinancialCore.AuthToken,
		timeout:   time.Duration(conf.FinancialCore.TimeoutSeconds) * time.Second,
	}
}

func (c *HTTPFinancialCoreClient) GetInstructionState(ctx context.Context, instructionID string) (model.InstructionState, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	url := fmt.Sprintf("%s/instructions/%s", c.baseURL, instructionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return model.InstructionState{}, errors.Wrap(err, "building instruction state request")
	}
	if c.authToken != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.authToken))
	}

	var state model.InstructionState
	if _, err := request.Call(req, &state); err != nil {
		return model.InstructionState{}, errors.Wrap(err, "fetching instruction state")
	}
	return state, nil
}

// ProposeTransition asks the core to apply a state transition. The core
// may reject it; a rejection comes back in the response, not as an error.
func (c *HTTPFinancialCoreClient) ProposeTransition(ctx context.Context, transition model.TransitionRequest) (*model.TransitionResponse, error) {
	payload, err := request.ToJsonReq(&transition)
	if err != nil {
		return nil, errors.Wrap(err, "marshaling transition request")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	url := fmt.Sprintf("%s/instructions/%s/transitions", c.baseURL, transition.InstructionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, payload)
	if err != nil {
		return nil, errors.Wrap(err, "building transition request")
	}
	if c.authToken != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.authToken))
	}

	var response model.TransitionResponse
	resp, err := request.Call(req, &response)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusConflict {
			// The core refused the transition. Its state machine wins.
			response.Accepted = false
			logrus.WithFields(logrus.Fields{
				"instruction_id": transition.InstructionID,
				"target_state":   transition.TargetState,
				"reason":         response.RejectionReason,
			}).Warn("financial core rejected transition")
			return &response, nil
		}
		return nil, errors.Wrap(err, "proposing transition")
	}
	return &response, nil
}
