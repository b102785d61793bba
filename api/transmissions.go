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
package api

import (
	"net/http"

	"github.com/sirupsen/logrus"

	model2 "github.com/parleylabs/parley/api/model"
	"github.com/parleylabs/parley/internal/apierror"

	"github.com/gin-gonic/gin"
)

// SubmitMessage admits a client message into the transmission lifecycle.
//
// Responses:
// - 200 OK: Executed to completion, or replayed from the idempotency cache.
// - 202 Accepted: Admitted but not yet terminal; poll by transmission id.
// - 409 Conflict: The idempotency key is bound to a different payload.
// - 5xx: Execution failed; the body carries a retryable flag.
func (a Api) SubmitMessage(c *gin.Context) {
	var newMessage model2.SubmitMessage
	if err := c.ShouldBindJSON(&newMessage); err != nil {
		logrus.Error(err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input"})
		return
	}

	if err := newMessage.ValidateSubmitMessage(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	resp, err := a.parley.SubmitTransmission(c.Request.Context(), newMessage.ToTransmission())
	if err != nil {
		logrus.Error(err)
		status := apierror.MapErrorToHTTPStatus(err)
		if apiErr, ok := err.(apierror.APIError); ok {
			c.JSON(status, gin.H{"error": apiErr.Message, "details": apiErr.Details, "retryable": apierror.IsRetryable(err)})
			return
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	if resp.Pending {
		c.JSON(http.StatusAccepted, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// GetMessage returns a transmission with its attempt log, usage and result.
// Trace entries are included with ?trace=true.
func (a Api) GetMessage(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /messages/:id"})
		return
	}

	detail, err := a.parley.PollTransmission(c.Request.Context(), id, c.Query("trace") == "true")
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, detail)
}
