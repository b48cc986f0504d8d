// Copyright (c) 2025 HostPulse authors
// All rights reserved. Use of this source code is governed by an
// MIT-style license that can be found in the LICENSE file.

// Package sampler polls a stats.Source at a fixed cadence and publishes the
// snapshots to their topics.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"

	"hostpulse/internal/broadcast"
	"hostpulse/internal/stats"
	"hostpulse/internal/telemetry"
)

// Metric kinds, also used as topic names.
const (
	KindCPU    = "cpu"
	KindMemory = "memory"
)

// Topics is the process-wide set of topics, one per metric kind.
type Topics struct {
	CPU    *broadcast.Topic[stats.CPUSnapshot]
	Memory *broadcast.Topic[stats.MemorySnapshot]
}

func NewTopics() *Topics {
	return &Topics{
		CPU:    broadcast.NewTopic[stats.CPUSnapshot](KindCPU),
		Memory: broadcast.NewTopic[stats.MemorySnapshot](KindMemory),
	}
}

// Close closes every topic so that streaming handlers return.
func (t *Topics) Close() {
	t.CPU.Close()
	t.Memory.Close()
}

// Sampler owns the source. It is the only goroutine that ever reads it.
type Sampler struct {
	source   stats.Source
	topics   *Topics
	interval time.Duration
	log      logrus.FieldLogger
	metrics  *telemetry.Metrics
}

// New creates a sampler. An interval below the source minimum is raised to
// the minimum.
func New(source stats.Source, topics *Topics, interval time.Duration, log logrus.FieldLogger, metrics *telemetry.Metrics) *Sampler {
	return &Sampler{
		source:   source,
		topics:   topics,
		interval: interval,
		log:      log.WithField("component", "sampler"),
		metrics:  metrics,
	}
}

// Interval is the effective sleep between ticks.
func (s *Sampler) Interval() time.Duration {
	return max(s.interval, s.source.MinInterval())
}

// Start runs the sampler on its own OS thread until ctx is done.
// The returned channel is closed when the loop has exited.
func (s *Sampler) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		s.Run(ctx)
	}()
	return done
}

// Run polls, publishes and sleeps until ctx is cancelled.
func (s *Sampler) Run(ctx context.Context) {
	interval := s.Interval()
	s.log.WithField("interval", interval).Info("sampler started")
	defer s.log.Info("sampler stopped")

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		// failures are logged and counted inside Tick; the next interval retries
		_ = s.Tick(ctx)
		timer.Reset(interval)
	}
}

// Tick reads every metric kind once and publishes what could be read.
// A failed kind is skipped for this tick; the returned error joins all
// failures.
func (s *Sampler) Tick(ctx context.Context) error {
	s.metrics.Ticks.Inc()
	var errs []error

	if cpus, err := s.source.CPU(ctx); err != nil {
		errs = append(errs, s.skip(KindCPU, err))
	} else {
		s.topics.CPU.Publish(cpus)
		s.metrics.Samples.WithLabelValues(KindCPU).Inc()
	}

	if mem, err := s.source.Memory(ctx); err != nil {
		errs = append(errs, s.skip(KindMemory, err))
	} else {
		s.topics.Memory.Publish(mem)
		s.metrics.Samples.WithLabelValues(KindMemory).Inc()
	}

	return errors.Join(errs...)
}

func (s *Sampler) skip(kind string, err error) error {
	s.metrics.SampleErrors.WithLabelValues(kind).Inc()
	entry := s.log.WithFields(logrus.Fields{"kind": kind, "error": err})
	if errors.Is(err, stats.ErrWarmingUp) {
		entry.Debug("source warming up, tick skipped")
	} else {
		entry.Warn("source read failed, tick skipped")
	}
	return fmt.Errorf("sampling %s: %w", kind, err)
}
