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
	"github.com/gin-gonic/gin"

	"github.com/parleylabs/parley"
	"github.com/parleylabs/parley/api/middleware"
	"github.com/parleylabs/parley/config"
)

type Api struct {
	parley *parley.Parley
	router *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router
	router.POST("/messages", a.SubmitMessage)
	router.GET("/messages/:id", a.GetMessage)

	router.GET("/events/:user_id", a.StreamEvents)

	router.GET("/internal/status", a.InternalStatus)

	return a.router
}

func NewAPI(p *parley.Parley) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}
	r := gin.Default()
	r.Use(middleware.RateLimitMiddleware(conf))
	if conf.Server.Secure {
		r.Use(middleware.SecretKeyAuthMiddleware())
	}

	r.GET("/", func(c *gin.Context) {
		c.JSON(200, "server running...")
	})

	return &Api{parley: p, router: r}
}
