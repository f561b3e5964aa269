package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/dantte-lp/isofep/internal/iso8583"
)

// DropPolicy selects what the response dispatcher does when the
// bounded response queue is full (see DESIGN.md).
type DropPolicy int

const (
	DropOldest DropPolicy = iota
	DropNewest
	Block
)

func (p DropPolicy) String() string {
	switch p {
	case DropOldest:
		return "drop_oldest"
	case DropNewest:
		return "drop_newest"
	case Block:
		return "block"
	default:
		return "unknown"
	}
}

// pendingResponse is one entry on the response dispatcher's queue.
type pendingResponse struct {
	instID string
	msg    *iso8583.Message
}

// enqueue applies s.cfg.ResponseQueuePolicy when the queue is full.
// Returns false if the response was dropped.
func (s *Server) enqueue(resp *pendingResponse) bool {
	switch s.cfg.ResponseQueuePolicy {
	case Block:
		select {
		case s.queue <- resp:
			return true
		case <-s.closing:
			return false
		}
	case DropNewest:
		select {
		case s.queue <- resp:
			return true
		default:
			s.dropped.Add(1)
			s.metrics.IncServerDropped(s.cfg.ResponseQueuePolicy.String())
			s.logger.Warn("server: response queue full, dropping newest", "inst_id", resp.instID)
			return false
		}
	default: // DropOldest
		for {
			select {
			case s.queue <- resp:
				return true
			default:
			}
			select {
			case <-s.queue:
				s.dropped.Add(1)
				s.metrics.IncServerDropped(s.cfg.ResponseQueuePolicy.String())
			default:
				// another goroutine drained it first; retry the send.
			}
		}
	}
}

// runDispatcher is the single dispatcher task: it dequeues pending
// responses, sleeps the configured delay, and writes
// each to the routed send-side socket, falling back to an arbitrary
// registered send-side socket when the target institution id has none.
func (s *Server) runDispatcher(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case resp, ok := <-s.queue:
			if !ok {
				return
			}
			s.dispatchOne(ctx, resp)
		}
	}
}

func (s *Server) dispatchOne(ctx context.Context, resp *pendingResponse) {
	if s.cfg.ResponseDelay > 0 {
		select {
		case <-time.After(s.cfg.ResponseDelay):
		case <-ctx.Done():
			return
		}
	}

	raw, err := iso8583.Assemble(s.cfg.Schema, resp.msg)
	if err != nil {
		s.logger.Error("server: assemble response failed", "inst_id", resp.instID, "error", err)
		return
	}

	fr, ok := s.router.SendConn(resp.instID)
	targetID := resp.instID
	if !ok {
		fallbackID, fallbackFr, fallbackOK := s.router.AnySendConn()
		if !fallbackOK {
			s.dropped.Add(1)
			s.metrics.IncServerDropped("no_send_conn")
			s.logger.Warn("server: no send-side socket for institution id, dropping", "inst_id", resp.instID)
			return
		}
		s.logger.Warn("server: institution id has no send-side socket, falling back to first available",
			slog.String("inst_id", resp.instID), slog.String("fallback_inst_id", fallbackID))
		fr, targetID = fallbackFr, fallbackID
	}

	if err := fr.WriteMessage(ctx, raw); err != nil {
		s.logger.Warn("server: write response failed", "inst_id", targetID, "error", err)
		return
	}
	s.sent.Add(1)
	s.metrics.IncServerSent(targetID)
}
