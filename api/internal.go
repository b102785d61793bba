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
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/parleylabs/parley/config"
)

// InternalStatus serves the worker-to-API topology handshake. Authenticated
// by the shared internal token, not the client secret key.
//
// Responses:
// - 200 OK: `{topology_key}` — this process's view of the datastore identity.
// - 401 Unauthorized: Missing or wrong internal token.
func (a Api) InternalStatus(c *gin.Context) {
	conf, err := config.Fetch()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if conf.Topology.InternalToken == "" {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal token is not configured"})
		return
	}
	token := c.GetHeader("X-Parley-Internal-Token")
	if subtle.ConstantTimeCompare([]byte(token), []byte(conf.Topology.InternalToken)) != 1 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid internal token"})
		return
	}

	key, err := a.parley.TopologyKey(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"topology_key": key})
}
