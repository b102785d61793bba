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

package parley

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/parleylabs/parley/config"
	"github.com/parleylabs/parley/database"
	"github.com/parleylabs/parley/internal/cache"
	redis_db "github.com/parleylabs/parley/internal/redis-db"
	"github.com/parleylabs/parley/model"
)

// Parley is the control-plane service layer: it admits transmissions into
// the store, executes them through the pipeline and pushes lifecycle events
// to connected clients via the hub.
type Parley struct {
	queue      *Queue
	cache      cache.Cache
	redis      redis.UniversalClient
	datasource database.IDataSource
	pipeline   Pipeline
	hub        *Hub
}

// NewParley initializes the service layer with the provided datasource.
// It fetches the configuration and wires the Redis client, result cache,
// webhook queue, default pipeline and notification hub.
func NewParley(db database.IDataSource) (*Parley, error) {
	configuration, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	redisClient, err := redis_db.NewRedisClient(configuration.Redis.Dns)
	if err != nil {
		return nil, err
	}
	resultCache, err := cache.NewCache()
	if err != nil {
		return nil, err
	}
	newQueue := NewQueue(configuration)
	newHub := NewHub(configuration.Hub)

	return &Parley{
		datasource: db,
		queue:      newQueue,
		cache:      resultCache,
		redis:      redisClient.Client(),
		pipeline:   NewHTTPPipeline(configuration.Pipeline),
		hub:        newHub,
	}, nil
}

// NewParleyWithComponents wires the service layer from explicit
// collaborators instead of the production configuration. A nil cache falls
// back to an in-process map, which is enough for tests and single-process
// deployments.
func NewParleyWithComponents(db database.IDataSource, pipeline Pipeline, resultCache cache.Cache, hub *Hub) *Parley {
	if resultCache == nil {
		resultCache = newMemoryCache()
	}
	return &Parley{
		datasource: db,
		pipeline:   pipeline,
		cache:      resultCache,
		hub:        hub,
	}
}

// Hub exposes the notification hub so the API layer can attach
// subscriber connections to it.
func (p *Parley) Hub() *Hub {
	return p.hub
}

// EnsureTopology writes the topology key once at API process boot. If another
// process initialized the datastore first, its key wins.
func (p *Parley) EnsureTopology(ctx context.Context) (string, error) {
	return p.datasource.EnsureTopologyKey(ctx, model.GenerateUUIDWithSuffix("topo"))
}

// TopologyKey returns this process's view of the datastore identity,
// served to workers over the internal status endpoint.
func (p *Parley) TopologyKey(ctx context.Context) (string, error) {
	return p.datasource.GetTopologyKey(ctx)
}
