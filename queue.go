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
	"encoding/json"
	"log"

	"github.com/hibiken/asynq"

	"github.com/parleylabs/parley/config"
	redis_db "github.com/parleylabs/parley/internal/redis-db"
)

// Queue carries out-of-band work over Redis. The job lifecycle itself never
// goes through it; only webhook notifications do, with asynq's bounded retry.
type Queue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
}

// NewQueue initializes the queue from the shared Redis configuration.
func NewQueue(conf *config.Configuration) *Queue {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns)
	if err != nil {
		log.Fatalf("Error parsing Redis URL: %v", err)
	}

	queueOptions := asynq.RedisClientOpt{Addr: redisOption.Addr, Password: redisOption.Password, DB: redisOption.DB, TLSConfig: redisOption.TLSConfig}
	client := asynq.NewClient(queueOptions)
	inspector := asynq.NewInspector(queueOptions)
	return &Queue{
		Client:    client,
		Inspector: inspector,
	}
}

// queueWebhook enqueues a webhook notification task. A missing webhook URL
// disables the fan-out entirely.
func (q *Queue) queueWebhook(webhook NewWebhook) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	if cfg.Notification.Webhook.Url == "" {
		return nil
	}

	payload, err := json.Marshal(webhook)
	if err != nil {
		return err
	}

	taskOptions := []asynq.Option{asynq.Queue(cfg.Queue.WebhookQueue)}
	task := asynq.NewTask(cfg.Queue.WebhookQueue, payload, taskOptions...)
	info, err := q.Client.Enqueue(task)
	if err != nil {
		log.Println(err, info)
		return err
	}
	log.Printf(" [*] Successfully enqueued webhook: %+v", webhook.Event)
	return nil
}
