package fingerprint

import (
	"bytes"
	"encoding/binary"
	"errors"
	"sort"
	"sync"
	"time"
)

// Presence is one step of a scripted finger placement: Finger is on the glass
// (or absent when empty) for the next Polls image requests.
type Presence struct {
	Finger string
	Polls  int
}

// Emulator is an in-memory stand-in for an AS608 module. It decodes command
// frames written to it and queues acknowledgement frames for Read. Fingers
// are identified by opaque strings; two captures of the same string match.
// It backs the kiosk's dev mode and the driver tests.
type Emulator struct {
	mu sync.Mutex

	address  uint32
	password uint32
	capacity int

	finger  string
	script  []Presence
	image   string
	buffers [3]string
	slots   map[int]string

	in  bytes.Buffer
	out bytes.Buffer

	// Silent drops every acknowledgement, simulating a disconnected module.
	Silent bool
	// CorruptReplies flips a checksum bit in every acknowledgement.
	CorruptReplies bool

	commands    []Opcode
	readTimeout time.Duration
	closed      bool
}

// NewEmulator returns an emulator with the default address and capacity.
func NewEmulator(capacity int) *Emulator {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Emulator{
		address:  DefaultAddress,
		capacity: capacity,
		slots:    make(map[int]string),
	}
}

// PlaceFinger leaves finger on the glass until LiftFinger.
func (e *Emulator) PlaceFinger(finger string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.finger = finger
}

// LiftFinger clears the glass.
func (e *Emulator) LiftFinger() { e.PlaceFinger("") }

// Script queues timed presences consumed by successive image requests before
// falling back to the finger set by PlaceFinger.
func (e *Emulator) Script(steps ...Presence) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.script = append(e.script, steps...)
}

// Enroll stores finger directly at slot.
func (e *Emulator) Enroll(slot int, finger string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.slots[slot] = finger
}

// Slots returns the occupied slots in ascending order.
func (e *Emulator) Slots() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]int, 0, len(e.slots))
	for slot := range e.slots {
		out = append(out, slot)
	}
	sort.Ints(out)
	return out
}

// Template returns the finger stored at slot.
func (e *Emulator) Template(slot int) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	f, ok := e.slots[slot]
	return f, ok
}

// Commands returns the opcodes received so far.
func (e *Emulator) Commands() []Opcode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Opcode(nil), e.commands...)
}

// Read returns queued acknowledgement bytes. An empty queue reads as a
// timeout.
func (e *Emulator) Read(p []byte) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return 0, errors.New("serial port closed")
	}
	if e.out.Len() == 0 {
		return 0, nil
	}
	return e.out.Read(p)
}

// Write accepts command frames, answering each complete one.
func (e *Emulator) Write(p []byte) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return 0, errors.New("serial port closed")
	}
	e.in.Write(p)
	e.drainInput()
	return len(p), nil
}

func (e *Emulator) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

func (e *Emulator) SetReadTimeout(d time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.readTimeout = d
	return nil
}

func (e *Emulator) ResetInputBuffer() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.out.Reset()
	return nil
}

func (e *Emulator) drainInput() {
	for {
		buf := e.in.Bytes()
		if len(buf) < headerLen {
			return
		}
		if binary.BigEndian.Uint16(buf[0:2]) != StartCode {
			e.in.Next(1)
			continue
		}
		size := headerLen + int(binary.BigEndian.Uint16(buf[7:9]))
		if len(buf) < size {
			return
		}
		frame := append([]byte(nil), e.in.Next(size)...)
		pkt, ok := ParsePacket(frame, e.address)
		reply := []byte{byte(ConfirmPacketError)}
		if ok && pkt.Type == CommandPacket && len(pkt.Payload) > 0 {
			op := Opcode(pkt.Payload[0])
			e.commands = append(e.commands, op)
			reply = e.handle(op, pkt.Payload[1:])
		}
		if e.Silent {
			continue
		}
		out := Packet{Address: e.address, Type: AckPacket, Payload: reply}.Marshal()
		if e.CorruptReplies {
			out[len(out)-1] ^= 0x01
		}
		e.out.Write(out)
	}
}

func (e *Emulator) onGlass() string {
	for len(e.script) > 0 {
		step := &e.script[0]
		if step.Polls <= 0 {
			e.script = e.script[1:]
			continue
		}
		step.Polls--
		return step.Finger
	}
	return e.finger
}

func (e *Emulator) handle(op Opcode, args []byte) []byte {
	ok := []byte{byte(ConfirmOK)}
	fail := func(c Confirmation) []byte { return []byte{byte(c)} }
	u16 := func(b []byte) int { return int(binary.BigEndian.Uint16(b)) }

	switch op {
	case OpVerifyPassword:
		if len(args) == 4 && binary.BigEndian.Uint32(args) == e.password {
			return ok
		}
		return fail(ConfirmBadPassword)

	case OpGetImage:
		finger := e.onGlass()
		if finger == "" {
			return fail(ConfirmNoFinger)
		}
		e.image = finger
		return ok

	case OpImage2Tz:
		if len(args) != 1 || (args[0] != 1 && args[0] != 2) {
			return fail(ConfirmPacketError)
		}
		if e.image == "" {
			return fail(ConfirmFeatureFail)
		}
		e.buffers[args[0]] = e.image
		return ok

	case OpRegModel:
		if e.buffers[1] == "" || e.buffers[1] != e.buffers[2] {
			return fail(ConfirmEnrollMismatch)
		}
		return ok

	case OpStore:
		if len(args) != 3 {
			return fail(ConfirmPacketError)
		}
		slot := u16(args[1:3])
		if slot < 1 || slot > e.capacity {
			return fail(ConfirmBadLocation)
		}
		if args[0] != 1 && args[0] != 2 {
			return fail(ConfirmPacketError)
		}
		e.slots[slot] = e.buffers[args[0]]
		return ok

	case OpLoad:
		if len(args) != 3 {
			return fail(ConfirmPacketError)
		}
		if args[0] != 1 && args[0] != 2 {
			return fail(ConfirmPacketError)
		}
		tmpl, found := e.slots[u16(args[1:3])]
		if !found {
			return fail(ConfirmReadTemplate)
		}
		e.buffers[args[0]] = tmpl
		return ok

	case OpSearch:
		if len(args) != 5 || (args[0] != 1 && args[0] != 2) {
			return fail(ConfirmPacketError)
		}
		want := e.buffers[args[0]]
		start, count := u16(args[1:3]), u16(args[3:5])
		for slot := max(start, 1); slot < start+count && slot <= e.capacity; slot++ {
			if f, found := e.slots[slot]; found && f == want && want != "" {
				return []byte{byte(ConfirmOK), byte(slot >> 8), byte(slot), 0x00, 0x96}
			}
		}
		return fail(ConfirmNotFound)

	case OpDelete:
		if len(args) != 4 {
			return fail(ConfirmPacketError)
		}
		start, count := u16(args[0:2]), u16(args[2:4])
		for slot := start; slot < start+count; slot++ {
			delete(e.slots, slot)
		}
		return ok

	case OpEmpty:
		e.slots = make(map[int]string)
		return ok

	case OpTemplateCount:
		n := len(e.slots)
		return []byte{byte(ConfirmOK), byte(n >> 8), byte(n)}
	}
	return fail(ConfirmPacketError)
}
