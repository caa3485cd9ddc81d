package plc

import (
	"fmt"
	"time"

	"github.com/thatsimonsguy/plc-dashboard/internal/model"
)

// Session is one transport connection to a controller. Implementations are
// not safe for concurrent use; Client serialises every call.
type Session interface {
	Connect() error
	// Ready reports whether the session completed its handshake and can serve reads.
	Ready() bool
	// ReadDB fills buf with len(buf) bytes of data block db starting at byte start.
	ReadDB(db, start int, buf []byte) error
	Close() error
}

// Dialer builds an unconnected session for the given endpoint.
type Dialer func(settings model.ControllerSettings) Session

// NewDialer picks the driver by name: "s7" or "modbus".
func NewDialer(driver string, modbusPort int, timeout time.Duration) (Dialer, error) {
	switch driver {
	case "s7":
		return S7Dialer(timeout), nil
	case "modbus":
		return ModbusDialer(modbusPort, timeout), nil
	default:
		return nil, fmt.Errorf("unknown plc driver %q", driver)
	}
}
