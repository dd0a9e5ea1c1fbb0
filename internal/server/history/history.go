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

// Package history appends and reads the per-execution event log backed by
// the history stream. The log is the source of truth for execution state;
// status records are derived from it by a projector.
package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	natsjs "github.com/nats-io/nats.go/jetstream"

	"github.com/tidemark-io/conductor/api"
	"github.com/tidemark-io/conductor/api/serde"
	"github.com/tidemark-io/conductor/internal/server/infra/jetstream"
)

// eventFactories maps the event-name header to a constructor for the
// concrete event type. Decoding an unknown name is an error: the event set
// is closed.
var eventFactories = map[string]func() api.ExecutionEvent{
	(*api.ExecutionStarted)(nil).EventName():      func() api.ExecutionEvent { return &api.ExecutionStarted{} },
	(*api.StepStarted)(nil).EventName():           func() api.ExecutionEvent { return &api.StepStarted{} },
	(*api.StepCompleted)(nil).EventName():         func() api.ExecutionEvent { return &api.StepCompleted{} },
	(*api.StepRetried)(nil).EventName():           func() api.ExecutionEvent { return &api.StepRetried{} },
	(*api.StepFailed)(nil).EventName():            func() api.ExecutionEvent { return &api.StepFailed{} },
	(*api.CompensationStarted)(nil).EventName():   func() api.ExecutionEvent { return &api.CompensationStarted{} },
	(*api.CompensationCompleted)(nil).EventName(): func() api.ExecutionEvent { return &api.CompensationCompleted{} },
	(*api.CompensationFailed)(nil).EventName():    func() api.ExecutionEvent { return &api.CompensationFailed{} },
	(*api.ExecutionCompleted)(nil).EventName():    func() api.ExecutionEvent { return &api.ExecutionCompleted{} },
	(*api.ExecutionFailed)(nil).EventName():       func() api.ExecutionEvent { return &api.ExecutionFailed{} },
	(*api.ExecutionCancelled)(nil).EventName():    func() api.ExecutionEvent { return &api.ExecutionCancelled{} },
}

// Log writes and reads execution events on the history stream.
type Log struct {
	conn   *jetstream.Connection
	serde  serde.BinarySerde
	names  api.Names
	logger *slog.Logger
}

func NewLog(conn *jetstream.Connection, s serde.BinarySerde, names api.Names, logger *slog.Logger) *Log {
	return &Log{conn: conn, serde: s, names: names, logger: logger}
}

// Append publishes an event to the execution's history subject. The message
// id makes re-publishing after a crash a no-op within the stream's
// duplicate window, so a resumed worker can blindly re-emit the event it
// may or may not have recorded before dying.
func (l *Log) Append(ctx context.Context, event api.ExecutionEvent) error {
	data, err := l.serde.SerializeBinary(event)
	if err != nil {
		return fmt.Errorf("serialize %s: %w", event.EventName(), err)
	}

	msg := &nats.Msg{
		Subject: l.names.HistorySubject(event.ExecID()),
		Data:    data,
		Header:  nats.Header{},
	}
	msg.Header.Set(api.EventNameHeader, event.EventName())
	msg.Header.Set(api.TenantIDHeader, event.Tenant())

	_, err = l.conn.PublishMsgJS(ctx, msg, natsjs.WithMsgID(msgID(event)))
	if err != nil {
		return fmt.Errorf("append %s for execution %s: %w", event.EventName(), event.ExecID(), err)
	}

	l.logger.DebugContext(ctx, "appended history event",
		"execution_id", event.ExecID(),
		"event", event.EventName(),
	)
	return nil
}

// msgID derives a deterministic dedupe id for an event. Events that can
// legitimately recur for the same step (retries) fold the attempt in.
func msgID(event api.ExecutionEvent) string {
	switch e := event.(type) {
	case *api.StepStarted:
		return fmt.Sprintf("%s.%s.%d.%d", e.ExecID(), e.EventName(), e.StepIndex, e.Attempt)
	case *api.StepRetried:
		return fmt.Sprintf("%s.%s.%d.%d", e.ExecID(), e.EventName(), e.StepIndex, e.Attempt)
	case *api.StepCompleted:
		return fmt.Sprintf("%s.%s.%d", e.ExecID(), e.EventName(), e.StepIndex)
	case *api.StepFailed:
		return fmt.Sprintf("%s.%s.%d", e.ExecID(), e.EventName(), e.StepIndex)
	case *api.CompensationStarted:
		return fmt.Sprintf("%s.%s.%d", e.ExecID(), e.EventName(), e.StepIndex)
	case *api.CompensationCompleted:
		return fmt.Sprintf("%s.%s.%d", e.ExecID(), e.EventName(), e.StepIndex)
	case *api.CompensationFailed:
		return fmt.Sprintf("%s.%s.%d", e.ExecID(), e.EventName(), e.StepIndex)
	default:
		return fmt.Sprintf("%s.%s", event.ExecID(), event.EventName())
	}
}

// Decode reconstructs a concrete event from a stored history message.
func Decode(s serde.BinarySerde, header nats.Header, data []byte) (api.ExecutionEvent, error) {
	name := header.Get(api.EventNameHeader)
	if name == "" {
		return nil, errors.New("history message missing event name header")
	}
	factory, ok := eventFactories[name]
	if !ok {
		return nil, fmt.Errorf("unknown event name: %s", name)
	}
	event := factory()
	if err := s.DeserializeBinary(data, event); err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	return event, nil
}

// Load reads the full ordered history of one execution.
func (l *Log) Load(ctx context.Context, id api.ExecutionID) ([]api.ExecutionEvent, error) {
	js, err := l.conn.JS()
	if err != nil {
		return nil, err
	}

	cons, err := js.OrderedConsumer(ctx, l.names.HistoryStream(), natsjs.OrderedConsumerConfig{
		FilterSubjects: []string{l.names.HistorySubject(id)},
	})
	if err != nil {
		return nil, fmt.Errorf("history consumer for %s: %w", id, err)
	}

	info, err := cons.Info(ctx)
	if err != nil {
		return nil, err
	}
	pending := info.NumPending
	if pending == 0 {
		return nil, nil
	}

	events := make([]api.ExecutionEvent, 0, pending)
	for uint64(len(events)) < pending {
		batch, err := cons.FetchNoWait(int(pending) - len(events))
		if err != nil {
			return nil, fmt.Errorf("fetch history for %s: %w", id, err)
		}
		for msg := range batch.Messages() {
			event, err := Decode(l.serde, msg.Headers(), msg.Data())
			if err != nil {
				return nil, err
			}
			events = append(events, event)
		}
		if err := batch.Error(); err != nil {
			return nil, fmt.Errorf("fetch history for %s: %w", id, err)
		}
	}
	return events, nil
}
