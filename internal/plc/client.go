package plc

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/plc-dashboard/internal/model"
	"github.com/thatsimonsguy/plc-dashboard/internal/register"
)

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

type ReadStatus int

const (
	ReadOK ReadStatus = iota
	ReadNotConnected
	ReadFailed
)

// Result tells a failed read apart from a read that never happened because
// the client was disconnected.
type Result struct {
	Status ReadStatus
	Value  float64
	Err    error
}

// Ptr collapses the result to the nullable form: nil unless the read succeeded.
func (r Result) Ptr() *float64 {
	if r.Status != ReadOK {
		return nil
	}
	v := r.Value
	return &v
}

const msgNotReady = "connection could not be established"

type Client struct {
	dial Dialer

	// sessionMu serialises every use of session.
	sessionMu sync.Mutex
	session   Session

	mu        sync.RWMutex
	state     State
	lastError string
}

func NewClient(dial Dialer) *Client {
	return &Client{dial: dial}
}

func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Client) IsConnected() bool {
	return c.State() == StateConnected
}

func (c *Client) LastError() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastError
}

func (c *Client) setState(state State, lastError string) {
	c.mu.Lock()
	c.state = state
	c.lastError = lastError
	c.mu.Unlock()
}

// Connect replaces any open session with a new one to settings. Failures are
// recorded as the last error and never returned.
func (c *Client) Connect(settings model.ControllerSettings) bool {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()

	c.closeSessionLocked()

	c.mu.Lock()
	c.state = StateConnecting
	c.mu.Unlock()

	session := c.dial(settings)
	if err := session.Connect(); err != nil {
		_ = session.Close()
		c.setState(StateDisconnected, err.Error())
		log.Error().Err(err).
			Str("address", settings.IPAddress).
			Int("rack", settings.Rack).
			Int("slot", settings.Slot).
			Msg("Failed to connect to PLC")
		return false
	}
	if !session.Ready() {
		_ = session.Close()
		c.setState(StateDisconnected, msgNotReady)
		log.Warn().Str("address", settings.IPAddress).Msg("PLC session opened but is not ready")
		return false
	}

	c.session = session
	c.setState(StateConnected, "")
	log.Info().Str("address", settings.IPAddress).Msg("Connected to PLC")
	return true
}

// Disconnect is idempotent and never fails.
func (c *Client) Disconnect() {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()

	c.closeSessionLocked()

	c.mu.Lock()
	wasConnected := c.state != StateDisconnected
	c.state = StateDisconnected
	c.mu.Unlock()

	if wasConnected {
		log.Info().Msg("PLC connection closed")
	}
}

// Close releases the session for teardown.
func (c *Client) Close() {
	c.Disconnect()
}

func (c *Client) closeSessionLocked() {
	if c.session == nil {
		return
	}
	if err := c.session.Close(); err != nil {
		log.Debug().Err(err).Msg("Error closing PLC session")
	}
	c.session = nil
}

// Read reads one data point. Any transport error drops the connection.
func (c *Client) Read(dp model.DataPoint) Result {
	if !c.IsConnected() {
		return Result{Status: ReadNotConnected}
	}

	dataType, err := model.ParseDataType(string(dp.DataType))
	if err != nil {
		return Result{Status: ReadFailed, Err: err}
	}
	buf := make([]byte, register.Size(dataType))

	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()

	// a concurrent Disconnect may have won the lock
	if c.session == nil || !c.IsConnected() {
		return Result{Status: ReadNotConnected}
	}

	if err := c.session.ReadDB(dp.DBNumber, dp.StartByte, buf); err != nil {
		c.failLocked(dp, err)
		return Result{Status: ReadFailed, Err: err}
	}
	raw, err := register.Parse(buf, dataType)
	if err != nil {
		c.failLocked(dp, err)
		return Result{Status: ReadFailed, Err: err}
	}
	return Result{Status: ReadOK, Value: register.Decode(raw, dp.ScaleFactor, dp.Offset)}
}

func (c *Client) failLocked(dp model.DataPoint, err error) {
	log.Error().Err(err).
		Str("datapoint", dp.Name).
		Int("db", dp.DBNumber).
		Int("start_byte", dp.StartByte).
		Msg("Failed to read data point")
	c.closeSessionLocked()
	c.setState(StateDisconnected, err.Error())
}

// ReadValue returns nil both when disconnected and when the read failed.
func (c *Client) ReadValue(dp model.DataPoint) *float64 {
	return c.Read(dp).Ptr()
}

// ReadAllValues reads the points in order. Once a failure drops the
// connection the remaining points come back nil without I/O.
func (c *Client) ReadAllValues(dps []model.DataPoint) map[string]*float64 {
	values := make(map[string]*float64, len(dps))
	for _, dp := range dps {
		values[dp.ID] = c.ReadValue(dp)
	}
	return values
}

// TestConnection probes settings with a throwaway session. Only a failure
// message is recorded; the connection state is left alone.
func (c *Client) TestConnection(settings model.ControllerSettings) bool {
	session := c.dial(settings)
	defer func() {
		if err := session.Close(); err != nil {
			log.Debug().Err(err).Msg("Error closing probe session")
		}
	}()

	if err := session.Connect(); err != nil {
		c.recordError(err.Error())
		log.Warn().Err(err).Str("address", settings.IPAddress).Msg("Connection test failed")
		return false
	}
	if !session.Ready() {
		c.recordError(msgNotReady)
		log.Warn().Str("address", settings.IPAddress).Msg("Connection test failed: session not ready")
		return false
	}
	return true
}

func (c *Client) recordError(msg string) {
	c.mu.Lock()
	c.lastError = msg
	c.mu.Unlock()
}

func (r Result) String() string {
	switch r.Status {
	case ReadOK:
		return fmt.Sprintf("ok(%g)", r.Value)
	case ReadNotConnected:
		return "not connected"
	default:
		return fmt.Sprintf("failed(%v)", r.Err)
	}
}
