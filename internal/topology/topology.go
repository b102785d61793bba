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

// Package topology implements the worker startup handshake that stops a
// worker from leasing jobs out of a datastore the API process does not also
// consider authoritative. A key mismatch is a split-brain signal and fails
// the worker immediately; transient fetch failures retry with backoff.
package topology

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/parleylabs/parley/config"
	"github.com/parleylabs/parley/internal/request"
)

// ErrTopologyMismatch means the worker and API process disagree about the
// datastore identity. Never retried.
var ErrTopologyMismatch = errors.New("topology key mismatch between worker and api process")

// KeyStore is the slice of the datasource the guard needs.
type KeyStore interface {
	GetTopologyKey(ctx context.Context) (string, error)
}

type statusResponse struct {
	TopologyKey string `json:"topology_key"`
}

// Guard performs the handshake. Construct one per worker process.
type Guard struct {
	store  KeyStore
	conf   config.TopologyConfig
	secure bool
}

func NewGuard(store KeyStore, conf config.TopologyConfig, secure bool) *Guard {
	return &Guard{store: store, conf: conf, secure: secure}
}

// Verify runs the handshake: read the locally stored topology key (waiting a
// bounded number of attempts for the API process to write it), fetch the API
// process's view of the key, and compare. Any returned error means the worker
// must refuse to start.
func (g *Guard) Verify(ctx context.Context) error {
	if g.secure && g.conf.InternalToken == "" {
		return errors.New("internal token is required in secure deployments")
	}

	localKey, err := g.waitForLocalKey(ctx)
	if err != nil {
		return err
	}

	remoteKey, err := g.fetchRemoteKey(ctx)
	if err != nil {
		return err
	}

	if remoteKey != localKey {
		return errors.Wrapf(ErrTopologyMismatch, "local '%s', api reports '%s'", localKey, remoteKey)
	}

	logrus.Infof("topology verified: %s", localKey)
	return nil
}

// waitForLocalKey polls the local store for the topology key. The API
// process writes it once at first initialization, so a missing key usually
// means the worker simply started first.
func (g *Guard) waitForLocalKey(ctx context.Context) (string, error) {
	delay := time.Duration(g.conf.RetryDelaySec) * time.Second

	for attempt := 1; attempt <= g.conf.MaxAttempts; attempt++ {
		key, err := g.store.GetTopologyKey(ctx)
		if err != nil {
			return "", errors.Wrap(err, "reading local topology key")
		}
		if key != "" {
			return key, nil
		}
		if attempt < g.conf.MaxAttempts {
			logrus.Infof("topology key not yet written, waiting (%d/%d)", attempt, g.conf.MaxAttempts)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return "", fmt.Errorf("topology key absent after %d attempts; has the api process initialized the datastore?", g.conf.MaxAttempts)
}

// fetchRemoteKey asks the API process's internal status endpoint for its view
// of the topology key. Network failures and non-2xx responses retry with
// exponential backoff up to the attempt bound.
func (g *Guard) fetchRemoteKey(ctx context.Context) (string, error) {
	var key string

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.conf.ApiUrl+"/internal/status", nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("X-Parley-Internal-Token", g.conf.InternalToken)

		var status statusResponse
		resp, err := request.Call(req, &status)
		if err != nil {
			return errors.Wrap(err, "fetching api topology key")
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("internal status returned %d", resp.StatusCode)
		}

		key = status.TopologyKey
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Duration(g.conf.RetryDelaySec) * time.Second
	retries := uint64(g.conf.MaxAttempts - 1)

	if err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, retries), ctx)); err != nil {
		return "", errors.Wrapf(err, "internal status unreachable after %d attempts", g.conf.MaxAttempts)
	}
	return key, nil
}
