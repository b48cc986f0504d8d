// Copyright (c) 2025 HostPulse authors
// All rights reserved. Use of this source code is governed by an
// MIT-style license that can be found in the LICENSE file.

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"hostpulse/internal/broadcast"
	"hostpulse/internal/telemetry"
)

// Deps carries what the streaming handlers share.
type Deps struct {
	Log          logrus.FieldLogger
	Metrics      *telemetry.Metrics
	WriteTimeout time.Duration
}

// connState is the lifecycle of one streaming connection.
// There is no way back from stateClosed.
type connState int

const (
	stateConnecting connState = iota
	stateStreaming
	stateClosed
)

func (s connState) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateStreaming:
		return "streaming"
	case stateClosed:
		return "closed"
	}
	return fmt.Sprintf("connState(%d)", int(s))
}

// clients never send anything meaningful; the limit only bounds control frames
const maxClientMessage = 512

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 8192,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// StreamHandler upgrades the request to a WebSocket and pushes every
// snapshot published on topic as one JSON text frame. A client that reads
// slower than the publish rate only ever gets the newest snapshot.
// @Summary Stream snapshots
// @Description Upgrade to WebSocket; one text frame per sampler tick.
// @Tags realtime
// @Success 101
// @Router /realtime/cpus [get]
// @Router /realtime/memory [get]
func StreamHandler[T any](topic *broadcast.Topic[T], d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c := &streamConn[T]{
			topic: topic,
			deps:  d,
			log: d.Log.WithFields(logrus.Fields{
				"topic":  topic.Name(),
				"conn":   uuid.NewString(),
				"remote": r.RemoteAddr,
			}),
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// the upgrader has already answered with an HTTP error
			d.Metrics.UpgradeErrors.Inc()
			c.log.WithError(err).Debug("websocket upgrade failed")
			return
		}
		c.serve(r.Context(), conn)
	}
}

type streamConn[T any] struct {
	topic *broadcast.Topic[T]
	deps  Deps
	log   logrus.FieldLogger
	state connState
}

func (c *streamConn[T]) setState(next connState, fields logrus.Fields) {
	c.log.WithFields(fields).WithFields(logrus.Fields{
		"from": c.state.String(),
		"to":   next.String(),
	}).Debug("stream state change")
	c.state = next
}

func (c *streamConn[T]) serve(ctx context.Context, conn *websocket.Conn) {
	defer conn.Close()

	sub := c.topic.Subscribe()
	defer sub.Close()

	subscribers := c.deps.Metrics.Subscribers.WithLabelValues(c.topic.Name())
	subscribers.Inc()
	defer subscribers.Dec()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.setState(stateStreaming, nil)
	c.log.Info("stream opened")

	go c.readPump(conn, cancel)
	err := c.writeLoop(ctx, conn, sub)

	c.setState(stateClosed, logrus.Fields{"reason": err})
	c.log.WithField("reason", err).Info("stream closed")
}

// readPump discards client frames so that pings and close frames are
// processed, and cancels the stream once the client goes away.
func (c *streamConn[T]) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(maxClientMessage)
	for {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
	}
}

func (c *streamConn[T]) writeLoop(ctx context.Context, conn *websocket.Conn, sub *broadcast.Subscription[T]) error {
	name := c.topic.Name()
	for {
		v, err := sub.Receive(ctx)
		if err != nil {
			if errors.Is(err, broadcast.ErrTopicClosed) {
				msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
				_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			}
			return err
		}

		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encoding snapshot: %w", err)
		}
		_ = conn.SetWriteDeadline(time.Now().Add(c.deps.WriteTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			// a failed send means the client is gone; never retried
			c.deps.Metrics.SendFailures.WithLabelValues(name).Inc()
			return fmt.Errorf("writing snapshot: %w", err)
		}
		c.deps.Metrics.MessagesSent.WithLabelValues(name).Inc()
	}
}
