package bufr

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/icza/bitio"
)

const (
	edition      = 4
	section1Len  = 22
	indicator    = "BUFR"
	endIndicator = "7777"
)

// Data categories from Common Code Table C-13.
const (
	CategorySurface  uint8 = 0
	CategoryUpperAir uint8 = 2
)

// Header is the identification (section 1) and description (section 3)
// content of a message.
type Header struct {
	Centre             uint16
	SubCentre          uint16
	UpdateSequence     uint8
	DataCategory       uint8
	DataSubCategory    uint8
	LocalSubCategory   uint8
	MasterTableVersion uint8
	LocalTableVersion  uint8
	Time               time.Time

	Subsets     uint16
	Observed    bool
	Compressed  bool
	Descriptors []Descriptor
}

// field is one element value in data section order.
type field struct {
	desc  Descriptor
	value float64
}

// build assembles a complete message. Fields must follow the expansion of
// h.Descriptors.
func build(h Header, fields []field) ([]byte, error) {
	data, err := packData(fields)
	if err != nil {
		return nil, err
	}

	s1 := section1(h)
	s3 := section3(h)
	s4 := make([]byte, 4, 4+len(data))
	put24(s4, 4+len(data))
	s4 = append(s4, data...)

	total := 8 + len(s1) + len(s3) + len(s4) + len(endIndicator)
	if total >= 1<<24 {
		return nil, fmt.Errorf("message length %d exceeds 24 bits", total)
	}

	msg := make([]byte, 0, total)
	msg = append(msg, indicator...)
	msg = append(msg, 0, 0, 0, edition)
	put24(msg[4:], total)
	msg = append(msg, s1...)
	msg = append(msg, s3...)
	msg = append(msg, s4...)
	msg = append(msg, endIndicator...)
	return msg, nil
}

func section1(h Header) []byte {
	t := h.Time.UTC()
	s := make([]byte, section1Len)
	put24(s, section1Len)
	s[3] = 0 // master table: meteorology
	put16(s[4:], h.Centre)
	put16(s[6:], h.SubCentre)
	s[8] = h.UpdateSequence
	s[9] = 0 // no optional section
	s[10] = h.DataCategory
	s[11] = h.DataSubCategory
	s[12] = h.LocalSubCategory
	s[13] = h.MasterTableVersion
	s[14] = h.LocalTableVersion
	put16(s[15:], uint16(t.Year()))
	s[17] = byte(t.Month())
	s[18] = byte(t.Day())
	s[19] = byte(t.Hour())
	s[20] = byte(t.Minute())
	s[21] = byte(t.Second())
	return s
}

func section3(h Header) []byte {
	n := 7 + 2*len(h.Descriptors)
	s := make([]byte, n)
	put24(s, n)
	put16(s[4:], h.Subsets)
	if h.Observed {
		s[6] |= 0x80
	}
	if h.Compressed {
		s[6] |= 0x40
	}
	for i, d := range h.Descriptors {
		put16(s[7+2*i:], uint16(d))
	}
	return s
}

func packData(fields []field) ([]byte, error) {
	var buf bytes.Buffer
	w := bitio.NewWriter(&buf)
	for _, f := range fields {
		e, ok := tableB[f.desc]
		if !ok {
			return nil, fmt.Errorf("descriptor %s not in table B", f.desc)
		}
		raw, err := e.Encode(f.value)
		if err != nil {
			return nil, fmt.Errorf("descriptor %s: %w", f.desc, err)
		}
		w.TryWriteBits(raw, e.Width)
	}
	if w.TryError != nil {
		return nil, w.TryError
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Split frames a byte stream of concatenated messages using the section 0
// length of each, and checks every end section.
func Split(data []byte) ([][]byte, error) {
	var msgs [][]byte
	for off := 0; off < len(data); {
		rest := data[off:]
		if len(rest) < 8 || string(rest[:4]) != indicator {
			return nil, fmt.Errorf("offset %d: missing %q indicator", off, indicator)
		}
		n := get24(rest[4:])
		if n < 12 || n > len(rest) {
			return nil, fmt.Errorf("offset %d: message length %d exceeds remaining %d bytes", off, n, len(rest))
		}
		if string(rest[n-4:n]) != endIndicator {
			return nil, fmt.Errorf("offset %d: missing end section", off)
		}
		msgs = append(msgs, rest[:n:n])
		off += n
	}
	return msgs, nil
}

// Value is one decoded element.
type Value struct {
	Descriptor Descriptor
	Value      float64
}

// Message is a decoded single-subset message.
type Message struct {
	Header Header
	Values []Value
}

// Decode parses one message produced by the Encoder. Only the descriptors
// this package knows can be decoded.
func Decode(msg []byte) (*Message, error) {
	if len(msg) < 8 || string(msg[:4]) != indicator {
		return nil, errors.New("missing BUFR indicator")
	}
	if n := get24(msg[4:]); n != len(msg) {
		return nil, fmt.Errorf("section 0 length %d, message has %d bytes", n, len(msg))
	}
	if msg[7] != edition {
		return nil, fmt.Errorf("unsupported edition %d", msg[7])
	}
	if string(msg[len(msg)-4:]) != endIndicator {
		return nil, errors.New("missing end section")
	}

	body := msg[8 : len(msg)-4]
	s1, body, err := section(body, section1Len)
	if err != nil {
		return nil, fmt.Errorf("section 1: %w", err)
	}
	h := Header{
		Centre:             get16(s1[4:]),
		SubCentre:          get16(s1[6:]),
		UpdateSequence:     s1[8],
		DataCategory:       s1[10],
		DataSubCategory:    s1[11],
		LocalSubCategory:   s1[12],
		MasterTableVersion: s1[13],
		LocalTableVersion:  s1[14],
		Time: time.Date(int(get16(s1[15:])), time.Month(s1[17]), int(s1[18]),
			int(s1[19]), int(s1[20]), int(s1[21]), 0, time.UTC),
	}
	if s1[9]&0x80 != 0 {
		if _, body, err = section(body, 4); err != nil {
			return nil, fmt.Errorf("section 2: %w", err)
		}
	}

	s3, body, err := section(body, 7)
	if err != nil {
		return nil, fmt.Errorf("section 3: %w", err)
	}
	h.Subsets = get16(s3[4:])
	h.Observed = s3[6]&0x80 != 0
	h.Compressed = s3[6]&0x40 != 0
	for i := 7; i+1 < len(s3); i += 2 {
		h.Descriptors = append(h.Descriptors, Descriptor(get16(s3[i:])))
	}
	if h.Subsets != 1 || h.Compressed {
		return nil, fmt.Errorf("unsupported layout: %d subsets, compressed=%t", h.Subsets, h.Compressed)
	}

	s4, _, err := section(body, 4)
	if err != nil {
		return nil, fmt.Errorf("section 4: %w", err)
	}
	d := &decoder{r: bitio.NewReader(bytes.NewReader(s4[4:]))}
	if err := d.walk(h.Descriptors); err != nil {
		return nil, fmt.Errorf("section 4: %w", err)
	}
	return &Message{Header: h, Values: d.values}, nil
}

// section splits off one length-prefixed section of at least minLen bytes.
func section(b []byte, minLen int) (sec, rest []byte, err error) {
	if len(b) < 3 {
		return nil, nil, errors.New("truncated")
	}
	n := get24(b)
	if n < minLen || n > len(b) {
		return nil, nil, fmt.Errorf("length %d out of bounds", n)
	}
	return b[:n], b[n:], nil
}

type decoder struct {
	r      *bitio.Reader
	values []Value
}

func (d *decoder) walk(ds []Descriptor) error {
	for i := 0; i < len(ds); i++ {
		desc := ds[i]
		switch desc.F() {
		case 0:
			if _, err := d.element(desc); err != nil {
				return err
			}
		case 1:
			span, count := desc.X(), desc.Y()
			if count == 0 {
				i++
				if i >= len(ds) {
					return fmt.Errorf("%s: missing replication factor", desc)
				}
				v, err := d.element(ds[i])
				if err != nil {
					return err
				}
				if math.IsNaN(v) {
					return fmt.Errorf("%s: missing replication factor value", desc)
				}
				count = int(v)
			}
			if i+1+span > len(ds) {
				return fmt.Errorf("%s: replicates past end of descriptors", desc)
			}
			group := ds[i+1 : i+1+span]
			for r := 0; r < count; r++ {
				if err := d.walk(group); err != nil {
					return err
				}
			}
			i += span
		case 3:
			seq, ok := tableD[desc]
			if !ok {
				return fmt.Errorf("sequence %s not in table D", desc)
			}
			if err := d.walk(seq); err != nil {
				return err
			}
		default:
			return fmt.Errorf("operator %s not supported", desc)
		}
	}
	return nil
}

func (d *decoder) element(desc Descriptor) (float64, error) {
	e, ok := tableB[desc]
	if !ok {
		return 0, fmt.Errorf("descriptor %s not in table B", desc)
	}
	raw, err := d.r.ReadBits(e.Width)
	if err != nil {
		return 0, fmt.Errorf("descriptor %s: %w", desc, err)
	}
	v := e.Decode(raw)
	d.values = append(d.values, Value{Descriptor: desc, Value: v})
	return v, nil
}

func put16(b []byte, v uint16) {
	b[0], b[1] = byte(v>>8), byte(v)
}

func put24(b []byte, v int) {
	b[0], b[1], b[2] = byte(v>>16), byte(v>>8), byte(v)
}

func get16(b []byte) uint16 {
	return uint16(b[0])<<8 | uint16(b[1])
}

func get24(b []byte) int {
	return int(b[0])<<16 | int(b[1])<<8 | int(b[2])
}
