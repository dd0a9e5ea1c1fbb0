// Copyright 2025 the Conductor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package status

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	natsjs "github.com/nats-io/nats.go/jetstream"

	"github.com/tidemark-io/conductor/api"
	"github.com/tidemark-io/conductor/api/serde"
	"github.com/tidemark-io/conductor/internal/server/errs"
	"github.com/tidemark-io/conductor/internal/server/history"
	"github.com/tidemark-io/conductor/internal/server/infra/jetstream"
)

// Projector folds the history stream into status records. It is the only
// writer of the status bucket. History replays are safe: folding is
// deterministic and terminal records ignore stragglers.
type Projector struct {
	conn   *jetstream.Connection
	serde  serde.BinarySerde
	names  api.Names
	store  *Store
	logger *slog.Logger
}

func NewProjector(conn *jetstream.Connection, s serde.BinarySerde, names api.Names, store *Store, logger *slog.Logger) *Projector {
	return &Projector{conn: conn, serde: s, names: names, store: store, logger: logger}
}

// Run consumes history events until ctx is done.
func (p *Projector) Run(ctx context.Context) error {
	consumer, err := p.conn.EnsureConsumer(ctx, p.names.HistoryStream(), natsjs.ConsumerConfig{
		Durable:       api.StatusProjectorConsumer,
		AckPolicy:     natsjs.AckExplicitPolicy,
		FilterSubject: p.names.HistoryFilter(),
		MaxAckPending: 1, // fold order is record order
	})
	if err != nil {
		return fmt.Errorf("status projector consumer: %w", err)
	}

	cc, err := consumer.Consume(func(msg natsjs.Msg) {
		if err := p.handle(ctx, msg); err != nil {
			p.logger.ErrorContext(ctx, "status projection failed, redelivering", "error", err)
			if err := msg.NakWithDelay(time.Second); err != nil {
				p.logger.ErrorContext(ctx, "nak failed", "error", err)
			}
			return
		}
		if err := msg.Ack(); err != nil {
			p.logger.ErrorContext(ctx, "ack failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("consume history: %w", err)
	}

	p.logger.InfoContext(ctx, "status projector started")
	<-ctx.Done()
	cc.Stop()
	return ctx.Err()
}

func (p *Projector) handle(ctx context.Context, msg natsjs.Msg) error {
	event, err := history.Decode(p.serde, msg.Headers(), msg.Data())
	if err != nil {
		// Undecodable events cannot fold; terminate instead of looping.
		p.logger.ErrorContext(ctx, "terminating undecodable history message", "error", err)
		return msg.Term()
	}

	at := time.Now().UTC()
	if meta, err := msg.Metadata(); err == nil {
		at = meta.Timestamp.UTC()
	}

	current, err := p.store.Get(ctx, event.ExecID())
	if err != nil && errs.Code(err) != errs.CodeExecutionNotFound {
		return err
	}

	return p.store.Put(ctx, Fold(current, event, at))
}
