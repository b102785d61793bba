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
	"sync"
	"time"

	"github.com/parleylabs/parley/model"
)

// MockPipeline lets tests script the pipeline outcome per execution.
type MockPipeline struct {
	mu         sync.Mutex
	Executions int
	MockExec   func(ctx context.Context, txm *model.Transmission) (*PipelineOutcome, error)
}

func (m *MockPipeline) Execute(ctx context.Context, txm *model.Transmission) (*PipelineOutcome, error) {
	m.mu.Lock()
	m.Executions++
	m.mu.Unlock()

	if m.MockExec != nil {
		return m.MockExec(ctx, txm)
	}
	body := "mock answer"
	return &PipelineOutcome{
		Body:        body,
		Provider:    "mock",
		InputBytes:  int64(len(txm.Payload)),
		OutputBytes: int64(len(body)),
	}, nil
}

// memoryCache is a process-local stand-in for the Redis result cache.
type memoryCache struct {
	mu   sync.Mutex
	data map[string]*model.Result
}

func newMemoryCache() *memoryCache {
	return &memoryCache{data: make(map[string]*model.Result)}
}

func (m *memoryCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	if res, ok := value.(*model.Result); ok {
		m.mu.Lock()
		m.data[key] = res
		m.mu.Unlock()
	}
	return nil
}

func (m *memoryCache) Get(_ context.Context, key string, data interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if res, ok := m.data[key]; ok {
		if target, ok := data.(*model.Result); ok {
			*target = *res
		}
	}
	return nil
}

func (m *memoryCache) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}
