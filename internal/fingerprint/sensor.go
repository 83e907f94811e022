package fingerprint

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/accessgate/internal/monitoring"
)

// DefaultCapacity is the number of template slots scanned for a free index.
const DefaultCapacity = 200

// Timeouts bounds how long each kind of exchange waits for an acknowledgement.
type Timeouts struct {
	Capture time.Duration
	Probe   time.Duration
	Default time.Duration
}

// DefaultTimeouts matches the response times of AS608 modules at 57600 baud.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Capture: 100 * time.Millisecond,
		Probe:   200 * time.Millisecond,
		Default: 500 * time.Millisecond,
	}
}

// Option configures a Sensor.
type Option func(*Sensor)

func WithAddress(addr uint32) Option { return func(s *Sensor) { s.address = addr } }

func WithPassword(pw uint32) Option { return func(s *Sensor) { s.password = pw } }

func WithTimeouts(t Timeouts) Option { return func(s *Sensor) { s.timeouts = t } }

func WithCapacity(capacity int) Option { return func(s *Sensor) { s.capacity = capacity } }

// Sensor drives an optical fingerprint module over a serial link. Every
// exchange is a single command followed by a single acknowledgement and runs
// with mu held, so concurrent callers never interleave frames.
type Sensor struct {
	mu       sync.Mutex
	port     SerialPorter
	address  uint32
	password uint32
	capacity int
	timeouts Timeouts

	exchanges  uint64
	noResponse uint64
}

// NewSensor wraps an already opened port.
func NewSensor(port SerialPorter, opts ...Option) *Sensor {
	s := &Sensor{
		port:     port,
		address:  DefaultAddress,
		capacity: DefaultCapacity,
		timeouts: DefaultTimeouts(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open opens the serial device at path and returns a Sensor bound to it.
func Open(path string, popts PortOptions, opener PortOpener, opts ...Option) (*Sensor, error) {
	if opener == nil {
		opener = OpenSerialPort
	}
	port, err := opener(path, popts)
	if err != nil {
		return nil, err
	}
	return NewSensor(port, opts...), nil
}

// Disabled returns a Sensor with no port. Every operation fails fast; it is
// used when the serial device could not be opened.
func Disabled() *Sensor {
	return NewSensor(nil)
}

// Available reports whether the sensor has a port to talk to.
func (s *Sensor) Available() bool { return s != nil && s.port != nil }

// Capacity returns the number of template slots.
func (s *Sensor) Capacity() int { return s.capacity }

func (s *Sensor) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	return err
}

// WriteCommand frames and sends a command packet.
func (s *Sensor) WriteCommand(op Opcode, args []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeCommand(op, args)
}

// ReadPacket waits up to timeout for one valid frame from the sensor.
func (s *Sensor) ReadPacket(timeout time.Duration) (Packet, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readPacket(timeout)
}

func (s *Sensor) writeCommand(op Opcode, args []byte) error {
	if s.port == nil {
		return ErrDisabled
	}
	if r, ok := s.port.(inputResetter); ok {
		if err := r.ResetInputBuffer(); err != nil {
			monitoring.Logf("fingerprint: reset input buffer: %v", err)
		}
	}
	payload := make([]byte, 0, 1+len(args))
	payload = append(payload, byte(op))
	payload = append(payload, args...)
	frame := Packet{Address: s.address, Type: CommandPacket, Payload: payload}.Marshal()
	if _, err := s.port.Write(frame); err != nil {
		return fmt.Errorf("write %s: %w", op, err)
	}
	if d, ok := s.port.(drainer); ok {
		if err := d.Drain(); err != nil {
			return fmt.Errorf("drain %s: %w", op, err)
		}
	}
	return nil
}

func (s *Sensor) readPacket(timeout time.Duration) (Packet, bool) {
	if s.port == nil {
		return Packet{}, false
	}
	if tp, ok := s.port.(TimeoutSerialPorter); ok {
		if err := tp.SetReadTimeout(timeout); err != nil {
			monitoring.Logf("fingerprint: set read timeout: %v", err)
		}
	}
	return readPacket(s.port, s.address, time.Now().Add(timeout))
}

// exchange sends op and returns the acknowledgement. Caller holds s.mu.
func (s *Sensor) exchange(op Opcode, args []byte, timeout time.Duration) (Packet, bool) {
	s.exchanges++
	if err := s.writeCommand(op, args); err != nil {
		monitoring.Logf("fingerprint: %v", err)
		s.noResponse++
		return Packet{}, false
	}
	pkt, ok := s.readPacket(timeout)
	if !ok || pkt.Type != AckPacket || len(pkt.Payload) == 0 {
		s.noResponse++
		return Packet{}, false
	}
	return pkt, true
}

func (s *Sensor) do(op Opcode, args []byte, timeout time.Duration) (Packet, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exchange(op, args, timeout)
}

// result converts an acknowledgement into an error.
func result(op Opcode, pkt Packet, ok bool) error {
	if !ok {
		return ErrNoResponse
	}
	if c := pkt.Confirmation(); c != ConfirmOK {
		return &RejectedError{Op: op, Code: c}
	}
	return nil
}

func be16(v int) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, uint16(v))
	return b
}

// VerifyPassword performs the handshake modules expect after power-up.
func (s *Sensor) VerifyPassword() error {
	args := make([]byte, 4)
	binary.BigEndian.PutUint32(args, s.password)
	pkt, ok := s.do(OpVerifyPassword, args, s.timeouts.Default)
	return result(OpVerifyPassword, pkt, ok)
}

// Capture asks the sensor to image whatever is on the glass.
func (s *Sensor) Capture() CaptureResult {
	pkt, ok := s.do(OpGetImage, nil, s.timeouts.Capture)
	if !ok {
		return CaptureFailed
	}
	switch pkt.Confirmation() {
	case ConfirmOK:
		return CaptureOK
	case ConfirmNoFinger:
		return CaptureNoFinger
	}
	return CaptureFailed
}

// Extract converts the last image into a character file in buf.
func (s *Sensor) Extract(buf Buffer) ExtractResult {
	pkt, ok := s.do(OpImage2Tz, []byte{byte(buf)}, s.timeouts.Default)
	if !ok || pkt.Confirmation() != ConfirmOK {
		return ExtractFailed
	}
	return ExtractOK
}

// BuildModel fuses both character buffers into one template.
func (s *Sensor) BuildModel() ModelResult {
	pkt, ok := s.do(OpRegModel, nil, s.timeouts.Default)
	if !ok {
		return ModelFailed
	}
	switch pkt.Confirmation() {
	case ConfirmOK:
		return ModelOK
	case ConfirmEnrollMismatch:
		return ModelMismatch
	}
	return ModelFailed
}

// Search looks up the character file in buf across every slot.
func (s *Sensor) Search(buf Buffer) (Match, SearchResult) {
	args := append([]byte{byte(buf)}, be16(0)...)
	args = append(args, be16(s.capacity)...)
	pkt, ok := s.do(OpSearch, args, s.timeouts.Default)
	if !ok {
		return Match{}, SearchFailed
	}
	switch pkt.Confirmation() {
	case ConfirmOK:
		if len(pkt.Payload) < 5 {
			return Match{}, SearchFailed
		}
		return Match{
			Slot:  int(binary.BigEndian.Uint16(pkt.Payload[1:3])),
			Score: int(binary.BigEndian.Uint16(pkt.Payload[3:5])),
		}, SearchFound
	case ConfirmNotFound:
		return Match{}, SearchNotFound
	}
	return Match{}, SearchFailed
}

// Store writes the template in buf to slot.
func (s *Sensor) Store(buf Buffer, slot int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store(buf, slot)
}

func (s *Sensor) store(buf Buffer, slot int) error {
	if slot < 1 || slot > s.capacity {
		return fmt.Errorf("fingerprint: slot %d out of range 1..%d", slot, s.capacity)
	}
	args := append([]byte{byte(buf)}, be16(slot)...)
	pkt, ok := s.exchange(OpStore, args, s.timeouts.Default)
	return result(OpStore, pkt, ok)
}

// StoreAuto stores buf at the lowest free slot and returns it. The scan and
// the store happen under one hold of the port lock. Probing loads templates
// into the other buffer so buf survives the scan.
func (s *Sensor) StoreAuto(buf Buffer) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	probe := Buffer2
	if buf == Buffer2 {
		probe = Buffer1
	}
	slot, err := s.freeSlot(probe)
	if err != nil {
		return 0, err
	}
	if err := s.store(buf, slot); err != nil {
		return 0, err
	}
	return slot, nil
}

// Delete removes count templates starting at slot.
func (s *Sensor) Delete(slot, count int) error {
	args := append(be16(slot), be16(count)...)
	pkt, ok := s.do(OpDelete, args, s.timeouts.Default)
	return result(OpDelete, pkt, ok)
}

// Empty wipes the whole template library.
func (s *Sensor) Empty() error {
	pkt, ok := s.do(OpEmpty, nil, s.timeouts.Default)
	return result(OpEmpty, pkt, ok)
}

// TemplateCount returns the number of stored templates.
func (s *Sensor) TemplateCount() (int, error) {
	pkt, ok := s.do(OpTemplateCount, nil, s.timeouts.Default)
	if err := result(OpTemplateCount, pkt, ok); err != nil {
		return 0, err
	}
	if len(pkt.Payload) < 3 {
		return 0, ErrNoResponse
	}
	return int(binary.BigEndian.Uint16(pkt.Payload[1:3])), nil
}

// SlotOccupied probes slot by loading it into buffer 1.
func (s *Sensor) SlotOccupied(slot int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slotOccupied(slot, Buffer1)
}

func (s *Sensor) slotOccupied(slot int, into Buffer) bool {
	args := append([]byte{byte(into)}, be16(slot)...)
	pkt, ok := s.exchange(OpLoad, args, s.timeouts.Probe)
	return ok && pkt.Confirmation() == ConfirmOK
}

// FreeSlot returns the lowest unoccupied slot, or ErrSensorFull.
func (s *Sensor) FreeSlot() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.freeSlot(Buffer1)
}

func (s *Sensor) freeSlot(probe Buffer) (int, error) {
	if s.port == nil {
		return 0, ErrDisabled
	}
	for slot := 1; slot <= s.capacity; slot++ {
		if !s.slotOccupied(slot, probe) {
			return slot, nil
		}
	}
	return 0, ErrSensorFull
}

// OccupiedSlots lists every slot that currently holds a template.
func (s *Sensor) OccupiedSlots() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var slots []int
	for slot := 1; slot <= s.capacity; slot++ {
		if s.slotOccupied(slot, Buffer1) {
			slots = append(slots, slot)
		}
	}
	return slots
}

// Stats reports exchange counters for the debug page.
func (s *Sensor) Stats() (exchanges, noResponse uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exchanges, s.noResponse
}
