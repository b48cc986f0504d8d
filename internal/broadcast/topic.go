// Copyright (c) 2025 HostPulse authors
// All rights reserved. Use of this source code is governed by an
// MIT-style license that can be found in the LICENSE file.

// Package broadcast implements a single-slot, multi-subscriber topic.
//
// A Topic keeps only the most recently published value. Subscribers that fall
// behind skip straight to the newest value, so publishing never blocks and
// memory stays constant no matter how many subscribers there are or how slow
// they read.
package broadcast

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrTopicClosed is returned by Receive once the topic has been closed
	// and no newer value is pending.
	ErrTopicClosed = errors.New("broadcast: topic closed")
	// ErrSubscriptionClosed is returned by Receive after Close.
	ErrSubscriptionClosed = errors.New("broadcast: subscription closed")
)

// Topic is a single-slot broadcast channel for values of type T.
// Values should be treated as immutable once published; every subscriber
// receives the same value.
type Topic[T any] struct {
	name string

	mu     sync.Mutex
	value  T
	gen    uint64        // number of publishes so far
	wake   chan struct{} // closed and replaced on every publish
	subs   map[*Subscription[T]]struct{}
	closed bool
	done   chan struct{}
}

// NewTopic creates an empty topic.
func NewTopic[T any](name string) *Topic[T] {
	return &Topic[T]{
		name: name,
		wake: make(chan struct{}),
		subs: make(map[*Subscription[T]]struct{}),
		done: make(chan struct{}),
	}
}

// Name returns the topic name given to NewTopic.
func (t *Topic[T]) Name() string {
	return t.name
}

// Publish replaces the current value and wakes every waiting subscriber.
// It never waits on subscribers. Publishing to a closed topic is a no-op.
func (t *Topic[T]) Publish(v T) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.value = v
	t.gen++
	close(t.wake)
	t.wake = make(chan struct{})
}

// Latest returns the current value and whether anything was published yet.
func (t *Topic[T]) Latest() (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.value, t.gen > 0
}

// Subscribe registers a subscription that receives values published after
// this call. The value current at subscribe time is not replayed.
func (t *Topic[T]) Subscribe() *Subscription[T] {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := &Subscription[T]{
		topic: t,
		seen:  t.gen,
		done:  make(chan struct{}),
	}
	if !t.closed {
		t.subs[s] = struct{}{}
	}
	return s
}

// Subscribers reports the number of open subscriptions.
func (t *Topic[T]) Subscribers() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

// Close marks the topic closed. Pending receivers get any value they have not
// seen yet and ErrTopicClosed after that. Close is idempotent.
func (t *Topic[T]) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	close(t.done)
	t.subs = make(map[*Subscription[T]]struct{})
}

// Subscription is one subscriber's view of a Topic. Receive must not be
// called from more than one goroutine at a time; Close may be called from
// anywhere.
type Subscription[T any] struct {
	topic *Topic[T]
	seen  uint64 // generation last returned; guarded by topic.mu
	done  chan struct{}
	once  sync.Once
}

// Receive blocks until a value newer than the last one returned is
// published and returns the newest value. Values published while the caller
// was busy are skipped.
func (s *Subscription[T]) Receive(ctx context.Context) (T, error) {
	var zero T
	t := s.topic
	for {
		t.mu.Lock()
		select {
		case <-s.done:
			t.mu.Unlock()
			return zero, ErrSubscriptionClosed
		default:
		}
		if t.gen > s.seen {
			v := t.value
			s.seen = t.gen
			t.mu.Unlock()
			return v, nil
		}
		if t.closed {
			t.mu.Unlock()
			return zero, ErrTopicClosed
		}
		wake := t.wake
		t.mu.Unlock()

		select {
		case <-wake:
		case <-t.done:
		case <-s.done:
			return zero, ErrSubscriptionClosed
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// Close releases the subscription and unblocks a pending Receive.
// It is safe to call more than once and concurrently with Publish.
func (s *Subscription[T]) Close() {
	s.once.Do(func() {
		close(s.done)
		t := s.topic
		t.mu.Lock()
		delete(t.subs, s)
		t.mu.Unlock()
	})
}
