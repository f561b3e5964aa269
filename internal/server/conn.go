package server

import (
	"context"
	"errors"
	"log/slog"
	"net"

	"github.com/dantte-lp/isofep/internal/framer"
	"github.com/dantte-lp/isofep/internal/iso8583"
)

// handleReceiveConn serves one client connection accepted on the
// receive listener: every decoded request is validated, dispatched to
// its per-MTI handler, and the response is enqueued for the dispatcher.
func (s *Server) handleReceiveConn(ctx context.Context, conn net.Conn) {
	connID := newConnID()
	logger := s.logger.With(slog.String("conn_id", connID), slog.String("role", "receive"))

	fr, err := framer.New(conn, s.cfg.Framer)
	if err != nil {
		logger.Warn("server: framer setup failed", "error", err)
		_ = conn.Close()
		return
	}

	var instID string
	defer func() {
		_ = fr.Close()
		_ = conn.Close()
		if instID != "" {
			s.router.UnregisterReceive(instID, fr)
			s.metrics.SetServerActiveConnections(s.router.Len())
		}
	}()

	for {
		raw, err := fr.ReadMessage(ctx)
		if err != nil {
			var resyncErr *framer.ResyncError
			if errors.As(err, &resyncErr) {
				logger.Warn("server: discarded unsynced frame", "error", err, "discarded", resyncErr.Discarded)
				continue
			}
			if ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				logger.Debug("server: receive read ended", "error", err)
			}
			return
		}

		msg, err := iso8583.Parse(s.cfg.Schema, raw)
		if err != nil {
			logger.Warn("server: malformed inbound message", "error", err)
			continue
		}

		s.received.Add(1)
		id := msg.InstitutionID()
		if id != "" && id != instID {
			instID = id
			s.router.RegisterReceive(instID, fr, conn)
			s.metrics.SetServerActiveConnections(s.router.Len())
		}
		s.metrics.IncServerReceived(instID)

		resp := s.buildResponse(msg)
		s.enqueue(&pendingResponse{instID: instID, msg: resp})
	}
}

// handleSendConn serves one client connection accepted on the send
// listener. The client identifies itself with one message carrying
// field 32; afterward the connection is write-only from the server's
// perspective, so the loop only needs to detect the peer closing it.
func (s *Server) handleSendConn(ctx context.Context, conn net.Conn) {
	connID := newConnID()
	logger := s.logger.With(slog.String("conn_id", connID), slog.String("role", "send"))

	fr, err := framer.New(conn, s.cfg.Framer)
	if err != nil {
		logger.Warn("server: framer setup failed", "error", err)
		_ = conn.Close()
		return
	}

	var instID string
	defer func() {
		_ = fr.Close()
		_ = conn.Close()
		if instID != "" {
			s.router.UnregisterSend(instID, fr)
			s.metrics.SetServerActiveConnections(s.router.Len())
		}
	}()

	for {
		raw, err := fr.ReadMessage(ctx)
		if err != nil {
			var resyncErr *framer.ResyncError
			if errors.As(err, &resyncErr) {
				logger.Warn("server: discarded unsynced frame", "error", err, "discarded", resyncErr.Discarded)
				continue
			}
			if ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				logger.Debug("server: send-side read ended", "error", err)
			}
			return
		}
		msg, err := iso8583.Parse(s.cfg.Schema, raw)
		if err != nil {
			logger.Warn("server: malformed send-side identification message", "error", err)
			continue
		}
		id := msg.InstitutionID()
		if id != "" && id != instID {
			instID = id
			s.router.RegisterSend(instID, fr, conn)
			s.metrics.SetServerActiveConnections(s.router.Len())
			logger.Info("server: send-side socket registered", "inst_id", instID)
		}
	}
}

// handleUnifiedConn serves one connection in unified mode, where the
// same socket carries both directions: the Framer is registered as
// both halves under the first institution id it presents.
func (s *Server) handleUnifiedConn(ctx context.Context, conn net.Conn) {
	connID := newConnID()
	logger := s.logger.With(slog.String("conn_id", connID), slog.String("role", "unified"))

	fr, err := framer.New(conn, s.cfg.Framer)
	if err != nil {
		logger.Warn("server: framer setup failed", "error", err)
		_ = conn.Close()
		return
	}

	var instID string
	defer func() {
		_ = fr.Close()
		_ = conn.Close()
		if instID != "" {
			s.router.UnregisterReceive(instID, fr)
			s.router.UnregisterSend(instID, fr)
			s.metrics.SetServerActiveConnections(s.router.Len())
		}
	}()

	for {
		raw, err := fr.ReadMessage(ctx)
		if err != nil {
			var resyncErr *framer.ResyncError
			if errors.As(err, &resyncErr) {
				logger.Warn("server: discarded unsynced frame", "error", err, "discarded", resyncErr.Discarded)
				continue
			}
			if ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				logger.Debug("server: unified read ended", "error", err)
			}
			return
		}

		msg, err := iso8583.Parse(s.cfg.Schema, raw)
		if err != nil {
			logger.Warn("server: malformed inbound message", "error", err)
			continue
		}

		s.received.Add(1)
		id := msg.InstitutionID()
		if id != "" && id != instID {
			instID = id
			s.router.RegisterReceive(instID, fr, conn)
			s.router.RegisterSend(instID, fr, conn)
			s.metrics.SetServerActiveConnections(s.router.Len())
		}
		s.metrics.IncServerReceived(instID)

		resp := s.buildResponse(msg)
		s.enqueue(&pendingResponse{instID: instID, msg: resp})
	}
}

// buildResponse runs the optional Validator and per-MTI handler
// against req, producing the response message to enqueue.
func (s *Server) buildResponse(req *iso8583.Message) *iso8583.Message {
	s.mu.RLock()
	validator := s.validator
	handler := s.handlers[req.MTI()]
	s.mu.RUnlock()

	if validator != nil {
		if err := validator(req); err != nil {
			resp, rerr := iso8583.CreateResponse(req)
			if rerr != nil {
				return nil
			}
			resp.Set(iso8583.FieldResponseCode, s.cfg.ValidationErrorCode)
			return resp
		}
	}

	if handler == nil {
		resp, err := iso8583.CreateResponse(req)
		if err != nil {
			return nil
		}
		resp.Set(iso8583.FieldResponseCode, "12")
		return resp
	}

	resp, err := s.invokeHandler(handler, req)
	if err != nil {
		s.logger.Error("server: handler error", "mti", req.MTI(), "error", err)
		fallback, ferr := iso8583.CreateResponse(req)
		if ferr != nil {
			return nil
		}
		fallback.Set(iso8583.FieldResponseCode, "96")
		return fallback
	}
	return resp
}

// invokeHandler recovers a panicking handler into an error so one
// misbehaving handler cannot take down the accept loop.
func (s *Server) invokeHandler(h Handler, req *iso8583.Message) (resp *iso8583.Message, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errHandlerPanic(r)
		}
	}()
	return h(req)
}
