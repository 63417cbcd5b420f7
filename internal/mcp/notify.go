// ABOUTME: Server-initiated notifications: resource updates, list changes, log messages
// ABOUTME: Provider change hooks feed these; each goes only to operational sessions that want it

package mcp

import (
	"context"
	"errors"

	"github.com/2389/mcp-runtime/internal/jsonrpc"
	"github.com/2389/mcp-runtime/internal/protocol"
	"github.com/2389/mcp-runtime/internal/providers"
)

// watch forwards p's changes as notifications and reports whether p emits any.
func (s *Server) watch(p any, listChanged string) bool {
	n, ok := p.(providers.ChangeNotifier)
	if !ok {
		return false
	}
	return n.OnChange(func(c providers.Change) {
		ctx := context.Background()
		if c.ListChanged {
			if err := s.NotifyListChanged(ctx, listChanged); err != nil {
				s.logger.Warn("failed to send list change", "notification", listChanged, "error", err)
			}
		}
		if c.URI != "" {
			if err := s.NotifyResourceUpdated(ctx, c.URI); err != nil {
				s.logger.Warn("failed to send resource update", "uri", c.URI, "error", err)
			}
		}
	})
}

func (s *Server) publishLog(e providers.LogEntry) {
	data := map[string]any{"message": e.Message}
	if e.Data != nil {
		data["data"] = e.Data
	}
	if err := s.LogMessage(context.Background(), e.Level, s.info.Name, data); err != nil {
		s.logger.Warn("failed to send log message", "error", err)
	}
}

func (s *Server) operational(filter func(*session) bool) []*session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*session
	for _, sess := range s.sessions {
		if sess.State() != StateOperational {
			continue
		}
		if filter == nil || filter(sess) {
			out = append(out, sess)
		}
	}
	return out
}

func (s *Server) broadcast(ctx context.Context, targets []*session, method string, params any) error {
	if len(targets) == 0 {
		return nil
	}
	msg, err := jsonrpc.NewNotification(method, params)
	if err != nil {
		return err
	}
	var errs []error
	for _, sess := range targets {
		if err := s.send(ctx, sess.id, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NotifyResourceUpdated tells every session subscribed to uri that it changed.
func (s *Server) NotifyResourceUpdated(ctx context.Context, uri string) error {
	targets := s.operational(func(sess *session) bool { return sess.subscribed(uri) })
	err := s.broadcast(ctx, targets, protocol.NotificationResourceUpdated,
		protocol.ResourceUpdatedParams{URI: protocol.URI(uri)})
	if err != nil {
		return &Error{Kind: KindSubscription, Message: err.Error(), Err: err}
	}
	return nil
}

// NotifyListChanged broadcasts one of the list_changed notifications.
func (s *Server) NotifyListChanged(ctx context.Context, notification string) error {
	switch notification {
	case protocol.NotificationResourceListChanged,
		protocol.NotificationToolListChanged,
		protocol.NotificationPromptListChanged:
	default:
		return newError(KindInvalidParams, "%s is not a list_changed notification", notification)
	}
	return s.broadcast(ctx, s.operational(nil), notification, nil)
}

// LogMessage sends notifications/message to sessions whose level admits it.
func (s *Server) LogMessage(ctx context.Context, level protocol.LoggingLevel, logger string, data any) error {
	targets := s.operational(func(sess *session) bool {
		sess.mu.Lock()
		defer sess.mu.Unlock()
		return sess.logLevel.Enables(level)
	})
	return s.broadcast(ctx, targets, protocol.NotificationMessage, protocol.LogMessageParams{
		Level:  level,
		Logger: logger,
		Data:   data,
	})
}
