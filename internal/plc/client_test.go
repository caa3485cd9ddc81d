package plc

import (
	"encoding/binary"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/plc-dashboard/internal/model"
)

type fakeSession struct {
	mu         sync.Mutex
	connectErr error
	notReady   bool
	readErr    error
	memory     map[int][]byte // db -> bytes
	reads      int
	closed     bool
	block      chan struct{}
	entered    chan struct{}
}

func (f *fakeSession) Connect() error { return f.connectErr }
func (f *fakeSession) Ready() bool    { return !f.notReady }

func (f *fakeSession) ReadDB(db, start int, buf []byte) error {
	if f.entered != nil {
		close(f.entered)
		f.entered = nil
	}
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	if f.readErr != nil {
		return f.readErr
	}
	copy(buf, f.memory[db][start:])
	return nil
}

func (f *fakeSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return errors.New("close always complains")
}

func (f *fakeSession) readCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

func realBytes(v float32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, math.Float32bits(v))
	return b
}

func newFakeMemory() map[int][]byte {
	db1 := make([]byte, 16)
	copy(db1[0:], realBytes(21.5))
	copy(db1[4:], realBytes(1.25))
	binary.BigEndian.PutUint16(db1[8:], uint16(0xFF38)) // -200
	db1[10] = 0x01
	return map[int][]byte{1: db1}
}

func dialerFor(sessions ...*fakeSession) (Dialer, *int) {
	calls := 0
	return func(model.ControllerSettings) Session {
		s := sessions[calls]
		if calls < len(sessions)-1 {
			calls++
		}
		return s
	}, &calls
}

func point(id string, start int, t model.DataType) model.DataPoint {
	dp := model.NewDataPoint()
	dp.ID = id
	dp.Name = id
	dp.DBNumber = 1
	dp.StartByte = start
	dp.DataType = t
	return dp
}

func TestClientStartsDisconnected(t *testing.T) {
	c := NewClient(nil)
	assert.Equal(t, StateDisconnected, c.State())
	assert.False(t, c.IsConnected())
	assert.Empty(t, c.LastError())
}

func TestConnect(t *testing.T) {
	t.Run("success clears last error", func(t *testing.T) {
		bad := &fakeSession{connectErr: errors.New("refused")}
		good := &fakeSession{memory: newFakeMemory()}
		dial, _ := dialerFor(bad, good)
		c := NewClient(dial)

		assert.False(t, c.Connect(model.DefaultControllerSettings()))
		assert.Equal(t, "refused", c.LastError())
		assert.True(t, bad.closed)

		assert.True(t, c.Connect(model.DefaultControllerSettings()))
		assert.Equal(t, StateConnected, c.State())
		assert.Empty(t, c.LastError())
	})

	t.Run("session not ready", func(t *testing.T) {
		dial, _ := dialerFor(&fakeSession{notReady: true})
		c := NewClient(dial)

		assert.False(t, c.Connect(model.DefaultControllerSettings()))
		assert.Equal(t, StateDisconnected, c.State())
		assert.Equal(t, msgNotReady, c.LastError())
	})

	t.Run("reconnect closes the previous session", func(t *testing.T) {
		first := &fakeSession{}
		second := &fakeSession{}
		dial, _ := dialerFor(first, second)
		c := NewClient(dial)

		require.True(t, c.Connect(model.DefaultControllerSettings()))
		require.True(t, c.Connect(model.DefaultControllerSettings()))
		assert.True(t, first.closed)
		assert.False(t, second.closed)
	})
}

func TestDisconnectIsIdempotent(t *testing.T) {
	s := &fakeSession{}
	dial, _ := dialerFor(s)
	c := NewClient(dial)
	require.True(t, c.Connect(model.DefaultControllerSettings()))

	c.Disconnect()
	c.Disconnect()
	c.Close()

	assert.True(t, s.closed)
	assert.Equal(t, StateDisconnected, c.State())
}

func TestReadValue(t *testing.T) {
	s := &fakeSession{memory: newFakeMemory()}
	dial, _ := dialerFor(s)
	c := NewClient(dial)
	require.True(t, c.Connect(model.DefaultControllerSettings()))

	tests := []struct {
		name   string
		dp     model.DataPoint
		scale  float64
		offset float64
		want   float64
	}{
		{"real", point("a", 0, model.DataTypeReal), 1, 0, 21.5},
		{"real scaled", point("b", 4, model.DataTypeReal), 2, 1, 3.5},
		{"int", point("c", 8, model.DataTypeInt), 0.1, 0, -20},
		{"bool", point("d", 10, model.DataTypeBool), 1, 0, 1},
		{"lowercase type", point("e", 0, "real"), 1, 0, 21.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.dp.ScaleFactor = tt.scale
			tt.dp.Offset = tt.offset
			v := c.ReadValue(tt.dp)
			require.NotNil(t, v)
			assert.InDelta(t, tt.want, *v, 1e-6)
		})
	}
}

func TestReadWhileDisconnectedDoesNoIO(t *testing.T) {
	s := &fakeSession{memory: newFakeMemory()}
	dial, _ := dialerFor(s)
	c := NewClient(dial)

	assert.Nil(t, c.ReadValue(point("a", 0, model.DataTypeReal)))
	assert.Equal(t, ReadNotConnected, c.Read(point("a", 0, model.DataTypeReal)).Status)
	assert.Equal(t, 0, s.readCount())
}

func TestReadFailureDisconnects(t *testing.T) {
	s := &fakeSession{readErr: errors.New("connection reset")}
	dial, _ := dialerFor(s)
	c := NewClient(dial)
	require.True(t, c.Connect(model.DefaultControllerSettings()))

	res := c.Read(point("a", 0, model.DataTypeReal))
	assert.Equal(t, ReadFailed, res.Status)
	assert.Nil(t, res.Ptr())
	assert.False(t, c.IsConnected())
	assert.Equal(t, "connection reset", c.LastError())
	assert.True(t, s.closed)
}

func TestReadAllValuesShortCircuitsAfterFailure(t *testing.T) {
	s := &fakeSession{readErr: errors.New("timeout")}
	dial, _ := dialerFor(s)
	c := NewClient(dial)
	require.True(t, c.Connect(model.DefaultControllerSettings()))

	values := c.ReadAllValues([]model.DataPoint{
		point("a", 0, model.DataTypeReal),
		point("b", 4, model.DataTypeReal),
		point("c", 8, model.DataTypeInt),
	})

	require.Len(t, values, 3)
	for id, v := range values {
		assert.Nil(t, v, id)
	}
	assert.Equal(t, 1, s.readCount())
}

func TestReadAllValues(t *testing.T) {
	s := &fakeSession{memory: newFakeMemory()}
	dial, _ := dialerFor(s)
	c := NewClient(dial)
	require.True(t, c.Connect(model.DefaultControllerSettings()))

	values := c.ReadAllValues([]model.DataPoint{
		point("temp", 0, model.DataTypeReal),
		point("pressure", 4, model.DataTypeReal),
	})

	require.NotNil(t, values["temp"])
	require.NotNil(t, values["pressure"])
	assert.InDelta(t, 21.5, *values["temp"], 1e-6)
	assert.InDelta(t, 1.25, *values["pressure"], 1e-6)
}

func TestUnsupportedTypeKeepsConnection(t *testing.T) {
	s := &fakeSession{memory: newFakeMemory()}
	dial, _ := dialerFor(s)
	c := NewClient(dial)
	require.True(t, c.Connect(model.DefaultControllerSettings()))

	res := c.Read(point("x", 0, "LReal"))
	assert.Equal(t, ReadFailed, res.Status)
	assert.True(t, c.IsConnected())
	assert.Equal(t, 0, s.readCount())
}

func TestTestConnection(t *testing.T) {
	t.Run("probe leaves state alone", func(t *testing.T) {
		probe := &fakeSession{}
		dial, _ := dialerFor(probe)
		c := NewClient(dial)

		assert.True(t, c.TestConnection(model.DefaultControllerSettings()))
		assert.True(t, probe.closed)
		assert.Equal(t, StateDisconnected, c.State())
	})

	t.Run("failure records message only", func(t *testing.T) {
		live := &fakeSession{memory: newFakeMemory()}
		probe := &fakeSession{connectErr: errors.New("no route to host")}
		dial, _ := dialerFor(live, probe)
		c := NewClient(dial)
		require.True(t, c.Connect(model.DefaultControllerSettings()))

		assert.False(t, c.TestConnection(model.DefaultControllerSettings()))
		assert.True(t, c.IsConnected())
		assert.Equal(t, "no route to host", c.LastError())
		assert.False(t, live.closed)
	})
}

func TestConnectWaitsForInFlightRead(t *testing.T) {
	slow := &fakeSession{
		memory:  newFakeMemory(),
		block:   make(chan struct{}),
		entered: make(chan struct{}),
	}
	next := &fakeSession{memory: newFakeMemory()}
	dial, _ := dialerFor(slow, next)
	c := NewClient(dial)
	require.True(t, c.Connect(model.DefaultControllerSettings()))

	entered := slow.entered
	readDone := make(chan *float64)
	go func() {
		readDone <- c.ReadValue(point("a", 0, model.DataTypeReal))
	}()
	<-entered

	connectDone := make(chan bool)
	go func() {
		connectDone <- c.Connect(model.DefaultControllerSettings())
	}()

	select {
	case <-connectDone:
		t.Fatal("connect finished while a read held the session")
	case <-time.After(50 * time.Millisecond):
	}
	assert.True(t, c.IsConnected(), "state must stay readable during I/O")

	close(slow.block)
	v := <-readDone
	require.NotNil(t, v)
	assert.InDelta(t, 21.5, *v, 1e-6)
	assert.True(t, <-connectDone)
	assert.True(t, slow.closed)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "connected", StateConnected.String())
}

func TestNewDialer(t *testing.T) {
	settings := model.ControllerSettings{IPAddress: "10.0.0.7", Rack: 0, Slot: 2, PollingIntervalMs: 1000}

	dial, err := NewDialer("s7", 502, time.Second)
	require.NoError(t, err)
	assert.IsType(t, &s7Session{}, dial(settings))

	dial, err = NewDialer("modbus", 1502, time.Second)
	require.NoError(t, err)
	session, ok := dial(settings).(*modbusSession)
	require.True(t, ok)
	assert.Equal(t, "10.0.0.7:1502", session.handler.Address)
	assert.Equal(t, byte(2), session.handler.SlaveId)

	_, err = NewDialer("profibus", 0, time.Second)
	assert.Error(t, err)
}
