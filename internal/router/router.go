// Package router delivers envelopes to registered sessions, one at a time or
// as a broadcast over a registry snapshot.
package router

import (
	"sync/atomic"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/Tyrowin/chatrelay/internal/protocol"
	"github.com/Tyrowin/chatrelay/internal/registry"
)

// DefaultFanout bounds the number of concurrent sends in a broadcast.
const DefaultFanout = 16

// Router sends envelopes to sessions found in a Registry. Sends never hold the
// registry lock, so a recipient may disconnect between the snapshot and its
// send; that send is silently dropped.
type Router struct {
	registry *registry.Registry
	logger   logrus.FieldLogger
	fanout   int
}

// New creates a Router over reg. A non-positive fanout uses DefaultFanout.
func New(reg *registry.Registry, logger logrus.FieldLogger, fanout int) *Router {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if fanout <= 0 {
		fanout = DefaultFanout
	}
	return &Router{registry: reg, logger: logger, fanout: fanout}
}

// SendTo delivers env to identity and reports whether the transport accepted
// it. An unregistered identity is not an error. A failed send removes the
// session and closes its transport, which ends that connection.
func (r *Router) SendTo(identity string, env protocol.Envelope) bool {
	frame, err := protocol.Encode(env)
	if err != nil {
		r.logger.WithError(err).WithField("type", env.Type).Error("Failed to encode envelope")
		return false
	}
	return r.sendFrame(identity, frame)
}

// Broadcast delivers env to every registered identity not listed in exclude
// and returns the number of transports that accepted it. A failing recipient
// does not affect delivery to the others.
func (r *Router) Broadcast(env protocol.Envelope, exclude ...string) int {
	frame, err := protocol.Encode(env)
	if err != nil {
		r.logger.WithError(err).WithField("type", env.Type).Error("Failed to encode envelope")
		return 0
	}

	recipients := lo.Without(r.registry.Snapshot(), exclude...)
	r.logger.WithFields(logrus.Fields{
		"type":       env.Type,
		"recipients": len(recipients),
	}).Debug("Broadcasting envelope")

	var delivered atomic.Int64
	var g errgroup.Group
	g.SetLimit(r.fanout)
	for _, identity := range recipients {
		g.Go(func() error {
			if r.sendFrame(identity, frame) {
				delivered.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	return int(delivered.Load())
}

func (r *Router) sendFrame(identity string, frame []byte) bool {
	session, ok := r.registry.Get(identity)
	if !ok {
		return false
	}
	if err := session.Transport().Send(frame); err != nil {
		r.drop(session, err)
		return false
	}
	return true
}

// drop deregisters a session whose transport refused a frame and closes it.
// The connection's own teardown announces the departure.
func (r *Router) drop(session *registry.Session, cause error) {
	entry := r.logger.WithFields(logrus.Fields{
		"identity": session.Identity(),
		"conn_id":  session.ConnID(),
	}).WithError(cause)

	if r.registry.RemoveSession(session) {
		entry.Warn("Send failed; session removed")
	}
	if err := session.Transport().Close(); err != nil {
		entry.WithField("close_error", err).Debug("Error closing transport after failed send")
	}
}
