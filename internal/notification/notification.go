/*
Copyright 2024 Parley Labs Authors.

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
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/parleylabs/parley/config"
	"github.com/parleylabs/parley/internal/request"
)

// SlackNotification sends an error report to the configured Slack webhook.
func SlackNotification(err error) {
	data := json.RawMessage(fmt.Sprintf(`{
		"blocks": [
			{
				"type": "header",
				"text": {
					"type": "plain_text",
					"text": "Error From Parley 🐞",
					"emoji": true
				}
			},
			{
				"type": "section",
				"fields": [
					{
						"type": "mrkdwn",
						"text": "*Error:*\n%v"
					},
					{
						"type": "mrkdwn",
						"text": "*Time:*\n%s"
					}
				]
			}
		]
	}`, err, time.Now().Format(time.RFC1123)))

	conf, fetchErr := config.Fetch()
	if fetchErr != nil {
		logrus.Error(fetchErr)
		return
	}
	if conf.Notification.Slack.WebhookUrl == "" {
		return
	}

	payload, marshalErr := request.ToJsonReq(&data)
	if marshalErr != nil {
		logrus.Error(marshalErr)
		return
	}

	req, reqErr := http.NewRequest("POST", conf.Notification.Slack.WebhookUrl, payload)
	if reqErr != nil {
		logrus.Error(reqErr)
		return
	}

	var response map[string]interface{}
	_, callErr := request.Call(req, &response)
	if callErr != nil {
		logrus.Error(callErr)
	}
}

// NotifyError reports an operational error through the configured channels.
// It never returns an error; notification failures are logged and dropped.
func NotifyError(systemError error) {
	logrus.Error(systemError)
	go SlackNotification(systemError)
}
