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

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/parleylabs/parley/config"
)

func authTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(SecretKeyAuthMiddleware())
	handler := func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) }
	r.GET("/", handler)
	r.GET("/messages/:id", handler)
	r.GET("/internal/status", handler)
	return r
}

func TestSecretKeyAuth(t *testing.T) {
	config.MockConfig(&config.Configuration{
		Server: config.ServerConfig{Secure: true, SecretKey: "super-secret"},
	})
	router := authTestRouter()

	tests := []struct {
		name       string
		path       string
		key        string
		wantStatus int
	}{
		{"valid key", "/messages/txm_1", "super-secret", http.StatusOK},
		{"missing key", "/messages/txm_1", "", http.StatusUnauthorized},
		{"wrong key", "/messages/txm_1", "not-the-key", http.StatusUnauthorized},
		{"root exempt", "/", "", http.StatusOK},
		{"internal status exempt", "/internal/status", "", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tt.path, nil)
			if tt.key != "" {
				req.Header.Set(KeyHeader, tt.key)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestSecretKeyAuth_UnconfiguredKey(t *testing.T) {
	config.MockConfig(&config.Configuration{
		Server: config.ServerConfig{Secure: true},
	})
	router := authTestRouter()

	req := httptest.NewRequest("GET", "/messages/txm_1", nil)
	req.Header.Set(KeyHeader, "anything")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestRateLimitDisabledByDefault(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RateLimitMiddleware(&config.Configuration{}))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 50; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	}
}
