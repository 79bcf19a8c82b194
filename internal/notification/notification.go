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

package notification

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/railrelay/railrelay/config"
	"github.com/railrelay/railrelay/internal/request"
)

// DeadLetterAlert is the operator-visible surface for an outbox entry
// that exhausted its retry budget.
type DeadLetterAlert struct {
	OutboxID      string `json:"outbox_id"`
	InstructionID string `json:"instruction_id"`
	ParticipantID string `json:"participant_id"`
	AttemptCount  int    `json:"attempt_count"`
	ErrorCode     string `json:"error_code,omitempty"`
	ErrorMessage  string `json:"error_message,omitempty"`
}

// SlackNotification sends an error message to the configured Slack
// webhook.
func SlackNotification(err error) {
	data := json.RawMessage(fmt.Sprintf(`{
		"blocks": [
			{
				"type": "header",
				"text": {
					"type": "plain_text",
					"text": "Error From Railrelay",
					"emoji": true
				}
			},
			{
				"type": "section",
				"fields": [
					{
						"type": "mrkdwn",
						"text": "*Error:*\n%v"
					}
				]
			},
			{
				"type": "section",
				"fields": [
					{
						"type": "mrkdwn",
						"text": "*Time:*\n%v"
					}
				]
			}
		]
	}`, err.Error(), time.Now().Format(time.RFC822)))

	conf, err := config.Fetch()
	if err != nil {
		log.Println(err)
		return
	}

	payload, err := request.ToJsonReq(&data)
	if err != nil {
		log.Println(err)
		return
	}

	req, err := http.NewRequest("POST", conf.Notification.Slack.WebhookUrl, payload)
	if err != nil {
		log.Println(err)
		return
	}

	var response map[string]interface{}
	if _, err = request.Call(req, &response); err != nil {
		log.Println(err)
	}
}

// NotifyError sends an error notification through the configured
// notification channels without blocking the caller.
func NotifyError(systemError error) {
	go func(systemError error) {
		logrus.Error(systemError)

		conf, err := config.Fetch()
		if err != nil {
			log.Println(err)
			return
		}

		if conf.Notification.Slack.WebhookUrl != "" {
			SlackNotification(systemError)
		}
	}(systemError)
}

// NotifyDeadLetter delivers a dead-letter alert to the configured
// operator webhook. Delivery is retried with exponential backoff; the
// alert is advisory, the attempt log remains the forensic record.
func NotifyDeadLetter(alert DeadLetterAlert) {
	go func() {
		conf, err := config.Fetch()
		if err != nil {
			log.Println(err)
			return
		}
		if conf.Notification.Webhook.Url == "" {
			logrus.WithFields(logrus.Fields{
				"outbox_id":      alert.OutboxID,
				"instruction_id": alert.InstructionID,
			}).Warn("dead-lettered outbox entry (no webhook configured)")
			return
		}

		operation := func() error {
			payload, err := request.ToJsonReq(&alert)
			if err != nil {
				return backoff.Permanent(err)
			}
			req, err := http.NewRequest("POST", conf.Notification.Webhook.Url, payload)
			if err != nil {
				return backoff.Permanent(err)
			}
			for k, v := range conf.Notification.Webhook.Headers {
				req.Header.Set(k, v)
			}
			var response map[string]interface{}
			_, err = request.Call(req, &response)
			return err
		}

		policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 4)
		if err := backoff.Retry(operation, policy); err != nil {
			logrus.WithFields(logrus.Fields{
				"outbox_id": alert.OutboxID,
				"error":     err.Error(),
			}).Error("dead-letter webhook delivery failed")
		}
	}()
}
