package plc

import (
	"fmt"
	"time"

	"github.com/goburrow/modbus"

	"github.com/thatsimonsguy/plc-dashboard/internal/model"
)

// modbusSession reads a data block exposed by an MB_SERVER instruction. The
// server maps exactly one DB onto the holding registers, so the DB number of
// a data point is ignored and byte n lives in register n/2 (high byte first).
type modbusSession struct {
	handler *modbus.TCPClientHandler
	client  modbus.Client
}

// ModbusDialer connects to host:port and uses the slot as unit id.
func ModbusDialer(port int, timeout time.Duration) Dialer {
	return func(settings model.ControllerSettings) Session {
		handler := modbus.NewTCPClientHandler(fmt.Sprintf("%s:%d", settings.IPAddress, port))
		handler.Timeout = timeout
		handler.SlaveId = byte(settings.Slot)
		return &modbusSession{handler: handler}
	}
}

func (s *modbusSession) Connect() error {
	if err := s.handler.Connect(); err != nil {
		return err
	}
	s.client = modbus.NewClient(s.handler)
	return nil
}

func (s *modbusSession) Ready() bool {
	return s.client != nil
}

func (s *modbusSession) ReadDB(_ int, start int, buf []byte) error {
	if s.client == nil {
		return errNotOpen
	}
	address, quantity, skip, err := registerSpan(start, len(buf))
	if err != nil {
		return err
	}
	results, err := s.client.ReadHoldingRegisters(address, quantity)
	if err != nil {
		return err
	}
	if len(results) < skip+len(buf) {
		return fmt.Errorf("short modbus response: got %d bytes, want %d", len(results), skip+len(buf))
	}
	copy(buf, results[skip:skip+len(buf)])
	return nil
}

// maxRegisters is the holding register limit of one read request.
const maxRegisters = 125

// registerSpan maps a byte range onto the holding registers covering it.
func registerSpan(start, size int) (address, quantity uint16, skip int, err error) {
	if start < 0 {
		return 0, 0, 0, fmt.Errorf("negative start byte %d", start)
	}
	skip = start % 2
	first := start / 2
	count := (skip + size + 1) / 2
	if count > maxRegisters {
		return 0, 0, 0, fmt.Errorf("read of %d bytes exceeds %d registers", size, maxRegisters)
	}
	if first+count > 1<<16 {
		return 0, 0, 0, fmt.Errorf("start byte %d outside the modbus register space", start)
	}
	return uint16(first), uint16(count), skip, nil
}

func (s *modbusSession) Close() error {
	s.client = nil
	return s.handler.Close()
}
