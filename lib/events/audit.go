/*
 * Authen Gateway
 * Copyright (C) 2026  Authen Authors
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

// Package events implements the gateway's asynchronous audit sink.
// Audit writes ride a bounded queue drained by a single writer
// goroutine; a slow or dead store slows nothing down and at worst
// loses records, which are counted.
package events

import (
	"context"
	"log/slog"
	"sync"

	"github.com/gravitational/trace"

	gateway "github.com/Johnie198946/Authen-sub000"
	"github.com/Johnie198946/Authen-sub000/lib/defaults"
	"github.com/Johnie198946/Authen-sub000/lib/metrics"
	"github.com/Johnie198946/Authen-sub000/lib/services"
)

// Config holds audit log configuration.
type Config struct {
	// Store receives the audit rows.
	Store services.AuditStore
	// QueueSize bounds the in-flight queue.
	QueueSize int
	// Logger, optional.
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.Store == nil {
		return trace.BadParameter("missing audit store")
	}
	if c.QueueSize <= 0 {
		c.QueueSize = defaults.AuditQueueSize
	}
	if c.Logger == nil {
		c.Logger = slog.Default().With(gateway.ComponentKey, gateway.ComponentAudit)
	}
	return nil
}

// Log is the asynchronous audit sink.
type Log struct {
	cfg   Config
	queue chan services.AuditRecord

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewLog returns a running audit sink.
func NewLog(cfg Config) (*Log, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	l := &Log{
		cfg:   cfg,
		queue: make(chan services.AuditRecord, cfg.QueueSize),
		done:  make(chan struct{}),
	}
	go l.run()
	return l, nil
}

// Emit enqueues one audit record. It never blocks: when the queue is
// full the record is dropped and counted. Emit after Close is a no-op.
func (l *Log) Emit(record services.AuditRecord) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}
	select {
	case l.queue <- record:
	default:
		metrics.AuditDropped.Inc()
		l.cfg.Logger.Warn("audit queue full, dropping record",
			"request_id", record.RequestID, "app_id", record.AppID)
	}
}

// Close stops the sink after draining already-queued records.
func (l *Log) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.queue)
	l.mu.Unlock()

	<-l.done
	return nil
}

func (l *Log) run() {
	defer close(l.done)
	for record := range l.queue {
		ctx, cancel := context.WithTimeout(context.Background(), defaults.AuditWriteTimeout)
		err := l.cfg.Store.EmitAuditRecord(ctx, record)
		cancel()
		if err != nil {
			metrics.AuditDropped.Inc()
			l.cfg.Logger.Warn("failed to persist audit record",
				"request_id", record.RequestID, "error", err)
		}
	}
}
