package matrix

import (
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"

	"github.com/timfallmk/nowplaying-matrix-daemon/internal/logging"
	"github.com/timfallmk/nowplaying-matrix-daemon/internal/xcolor"
)

const (
	DefaultBaudRate = 115200
	DefaultTimeout  = 1 * time.Second
)

var (
	listPorts = enumerator.GetDetailedPortsList
	openPort  = serial.Open
)

// SerialSink writes Adalight frames to a microcontroller over a serial port.
type SerialSink struct {
	port     serial.Port
	logger   *logging.Logger
	config   *serial.Mode
	portName string
	pixels   []xcolor.RGB
	buf      []byte
	timeout  time.Duration
	mu       sync.Mutex
}

func NewSerialSink(count, baudRate int, logger *logging.Logger) *SerialSink {
	if baudRate <= 0 {
		baudRate = DefaultBaudRate
	}

	if logger == nil {
		logger = logging.Discard()
	}

	return &SerialSink{
		logger: logger.WithComponent("sink-serial"),
		config: &serial.Mode{
			BaudRate: baudRate,
		},
		pixels:  make([]xcolor.RGB, count),
		timeout: DefaultTimeout,
	}
}

// SetTimeout sets the read timeout applied to ports opened afterwards.
func (s *SerialSink) SetTimeout(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d > 0 {
		s.timeout = d
	}
}

// DiscoverPort returns the first USB serial port, or the first port of any
// kind when none is USB.
func DiscoverPort() (string, error) {
	ports, err := listPorts()
	if err != nil {
		return "", fmt.Errorf("failed to enumerate ports: %w", err)
	}

	if len(ports) == 0 {
		return "", fmt.Errorf("no serial ports found")
	}

	for _, port := range ports {
		if port.IsUSB {
			return port.Name, nil
		}
	}

	return ports[0].Name, nil
}

// Connect opens portName, discovering a port when it is empty.
func (s *SerialSink) Connect(portName string) error {
	if portName == "" {
		discoveredPort, err := DiscoverPort()
		if err != nil {
			return fmt.Errorf("failed to discover port: %w", err)
		}

		portName = discoveredPort
	}

	port, err := openPort(portName, s.config)
	if err != nil {
		return fmt.Errorf("failed to open port %s: %w", portName, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := port.SetReadTimeout(s.timeout); err != nil {
		s.logger.Warn("failed to set read timeout", "port", portName, "error", err)
	}

	s.port = port
	s.portName = portName

	s.logger.Info("Connected to LED matrix", "port", portName, "baud", s.config.BaudRate, "pixels", len(s.pixels))

	return nil
}

func (s *SerialSink) PortName() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.portName
}

func (s *SerialSink) SetPixel(index int, c xcolor.RGB) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index >= 0 && index < len(s.pixels) {
		s.pixels[index] = c
	}
}

func (s *SerialSink) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	clear(s.pixels)
}

func (s *SerialSink) Present() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port == nil {
		return fmt.Errorf("not connected to any port")
	}

	data, err := AppendFrame(s.buf[:0], s.pixels)
	if err != nil {
		return err
	}

	s.buf = data

	if _, err := s.port.Write(data); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}

	return nil
}

func (s *SerialSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port == nil {
		return nil
	}

	err := s.port.Close()
	s.port = nil

	return err
}
