package gps

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"go.bug.st/serial"
)

// SerialConfig holds configuration for a UART attached GPS.
type SerialConfig struct {
	PortPath string `yaml:"port_path" json:"portPath"`
	BaudRate int    `yaml:"baud_rate" json:"baudRate"`
}

// SerialDMA streams a UART into a circular buffer from a background
// goroutine, giving a host serial port the same interface as a
// microcontroller UART running circular DMA.
type SerialDMA struct {
	dmaRing

	portPath string
	baudRate int

	mu   sync.Mutex
	port serial.Port
	done chan struct{}
}

// NewSerialDMA creates a serial peripheral. It does not open the port.
func NewSerialDMA(cfg SerialConfig) *SerialDMA {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 9600 // Standard NMEA default
	}
	return &SerialDMA{
		portPath: cfg.PortPath,
		baudRate: cfg.BaudRate,
	}
}

func (s *SerialDMA) Name() string { return "NMEA serial " + s.portPath }

// StartReceive opens the port and begins filling buf in circular mode.
func (s *SerialDMA) StartReceive(buf []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port != nil {
		return fmt.Errorf("gps: %s already receiving", s.portPath)
	}
	if err := s.start(buf); err != nil {
		return err
	}

	mode := &serial.Mode{
		BaudRate: s.baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(s.portPath, mode)
	if err != nil {
		return fmt.Errorf("gps: failed to open %s: %w", s.portPath, err)
	}
	if err := port.SetReadTimeout(200 * time.Millisecond); err != nil {
		port.Close()
		return fmt.Errorf("gps: failed to set timeout: %w", err)
	}
	s.port = port
	s.done = make(chan struct{})
	go s.receive(port, s.done)

	log.Printf("[gps] receiving from %s at %d baud into %d byte ring", s.portPath, s.baudRate, len(buf))
	return nil
}

func (s *SerialDMA) receive(port serial.Port, done chan struct{}) {
	defer close(done)
	chunk := make([]byte, 64)
	for {
		n, err := port.Read(chunk)
		if err != nil {
			var perr *serial.PortError
			if errors.As(err, &perr) && perr.Code() == serial.PortClosed {
				return
			}
			log.Printf("[gps] read %s: %v", s.portPath, err)
			return
		}
		// n == 0 is a read timeout
		s.write(chunk[:n])
	}
}

// Close stops reception and closes the port.
func (s *SerialDMA) Close() error {
	s.mu.Lock()
	port, done := s.port, s.done
	s.port = nil
	s.mu.Unlock()

	if port == nil {
		return nil
	}
	err := port.Close()
	<-done
	return err
}
