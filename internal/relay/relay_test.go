package relay

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/tbrandon/mbserver"

	"valve-go-home/internal/valve"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSimBoardSwitch(t *testing.T) {
	b := NewSimBoard(testLogger())
	sw, err := b.Switch(4, 5)
	if err != nil {
		t.Fatal(err)
	}

	if err := sw.Set(valve.DirectionOpen, true); err != nil {
		t.Fatal(err)
	}
	if !b.Energized(4) || b.Energized(5) {
		t.Errorf("pins = %v/%v, want open energized only", b.Energized(4), b.Energized(5))
	}
	if err := sw.Set(valve.DirectionOpen, false); err != nil {
		t.Fatal(err)
	}
	if b.Energized(4) {
		t.Error("open relay still energized")
	}
	if err := sw.Set("up", true); !errors.Is(err, valve.ErrInvalidDirection) {
		t.Errorf("err = %v, want ErrInvalidDirection", err)
	}
}

func TestSwitchRejectsSharedPin(t *testing.T) {
	b := NewSimBoard(testLogger())
	if _, err := b.Switch(3, 3); err == nil {
		t.Fatal("expected error for shared pin")
	}
}

func TestOpenUnknownType(t *testing.T) {
	if _, err := Open(Config{Type: "carrier-pigeon"}, testLogger()); err == nil {
		t.Fatal("expected error")
	}
	b, err := Open(Config{Type: "sim"}, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := b.(*SimBoard); !ok {
		t.Errorf("board = %T, want *SimBoard", b)
	}
}

func TestActuatorOnSimBoard(t *testing.T) {
	b := NewSimBoard(testLogger())
	sw, _ := b.Switch(1, 2)
	act, err := valve.NewRelayActuator(sw)
	if err != nil {
		t.Fatal(err)
	}
	if err := act.Actuate(valve.DirectionClose, 1); err != nil {
		t.Fatal(err)
	}
	// two releases at init, energize + release for the pulse
	if b.Writes() != 4 {
		t.Errorf("writes = %d, want 4", b.Writes())
	}
	if b.Energized(1) || b.Energized(2) {
		t.Error("relay left energized")
	}
}

type bufPort struct {
	bytes.Buffer
	closed bool
}

func (p *bufPort) Close() error {
	p.closed = true
	return nil
}

func TestLCUSFrame(t *testing.T) {
	tests := []struct {
		ch   int
		on   bool
		want []byte
	}{
		{1, true, []byte{0xA0, 0x01, 0x01, 0xA2}},
		{1, false, []byte{0xA0, 0x01, 0x00, 0xA1}},
		{2, true, []byte{0xA0, 0x02, 0x01, 0xA3}},
	}
	for _, tt := range tests {
		if got := lcusFrame(tt.ch, tt.on); !bytes.Equal(got, tt.want) {
			t.Errorf("lcusFrame(%d,%v) = % X, want % X", tt.ch, tt.on, got, tt.want)
		}
	}
}

func TestSerialBoardWritesFrames(t *testing.T) {
	port := &bufPort{}
	b := newSerialBoard(port, testLogger())
	sw, err := b.Switch(1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if err := sw.Set(valve.DirectionClose, true); err != nil {
		t.Fatal(err)
	}
	want := []byte{0xA0, 0x02, 0x01, 0xA3}
	if !bytes.Equal(port.Bytes(), want) {
		t.Errorf("wrote % X, want % X", port.Bytes(), want)
	}
	if _, err := b.Switch(0, 1); err == nil {
		t.Error("channel 0 should be rejected")
	}
	b.Close()
	if !port.closed {
		t.Error("port not closed")
	}
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().String()
	l.Close()
	return addr
}

func TestModbusBoardWritesCoils(t *testing.T) {
	srv := mbserver.NewServer()
	addr := freeAddr(t)
	if err := srv.ListenTCP(addr); err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer srv.Close()

	b, err := NewModbusBoard(Config{Type: "modbus-tcp", TCPAddr: addr, Timeout: 2 * time.Second}, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	sw, err := b.Switch(3, 4)
	if err != nil {
		t.Fatal(err)
	}
	if err := sw.Set(valve.DirectionOpen, true); err != nil {
		t.Fatal(err)
	}
	if srv.Coils[3] != 1 || srv.Coils[4] != 0 {
		t.Errorf("coils = %d/%d, want 1/0", srv.Coils[3], srv.Coils[4])
	}
	if err := sw.Set(valve.DirectionOpen, false); err != nil {
		t.Fatal(err)
	}
	if srv.Coils[3] != 0 {
		t.Errorf("coil 3 = %d after release", srv.Coils[3])
	}
}
