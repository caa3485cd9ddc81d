package plc

import (
	"errors"
	"time"

	"github.com/robinson/gos7"

	"github.com/thatsimonsguy/plc-dashboard/internal/model"
)

var errNotOpen = errors.New("session not open")

type s7Session struct {
	handler *gos7.TCPClientHandler
	client  gos7.Client
}

// S7Dialer opens ISO-on-TCP sessions (port 102) addressed by rack and slot.
func S7Dialer(timeout time.Duration) Dialer {
	return func(settings model.ControllerSettings) Session {
		handler := gos7.NewTCPClientHandler(settings.IPAddress, settings.Rack, settings.Slot)
		handler.Timeout = timeout
		return &s7Session{handler: handler}
	}
}

func (s *s7Session) Connect() error {
	if err := s.handler.Connect(); err != nil {
		return err
	}
	s.client = gos7.NewClient(s.handler)
	return nil
}

func (s *s7Session) Ready() bool {
	return s.client != nil
}

func (s *s7Session) ReadDB(db, start int, buf []byte) error {
	if s.client == nil {
		return errNotOpen
	}
	return s.client.AGReadDB(db, start, len(buf), buf)
}

func (s *s7Session) Close() error {
	s.client = nil
	return s.handler.Close()
}
