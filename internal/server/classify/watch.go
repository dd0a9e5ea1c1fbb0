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

package classify

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// Classifier serves classifications from the current routing table and hot
// reloads it on file change. A broken edit keeps the previous table.
type Classifier struct {
	path   string
	table  atomic.Pointer[Table]
	logger *slog.Logger
}

func NewClassifier(path string, logger *slog.Logger) (*Classifier, error) {
	table, err := Load(path)
	if err != nil {
		return nil, err
	}
	c := &Classifier{path: path, logger: logger}
	c.table.Store(table)
	return c, nil
}

// Table returns the current routing table.
func (c *Classifier) Table() *Table {
	return c.table.Load()
}

// Watch reloads the table whenever the file changes, until ctx is done.
// The parent directory is watched, not the file, so editors that replace
// the file on save keep working.
func (c *Classifier) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("routing table watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(c.path)); err != nil {
		return fmt.Errorf("watch %s: %w", c.path, err)
	}

	target := filepath.Clean(c.path)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			table, err := Load(c.path)
			if err != nil {
				c.logger.ErrorContext(ctx, "keeping previous routing table", "error", err)
				continue
			}
			c.table.Store(table)
			c.logger.InfoContext(ctx, "routing table reloaded", "path", c.path, "rules", len(table.rules))
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			c.logger.ErrorContext(ctx, "routing table watcher error", "error", err)
		}
	}
}
