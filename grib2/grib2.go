// Package grib2 decodes GRIB2 messages as emitted by the NOAA NOMADS
// filter endpoints. The decoder is pure: bytes in, fields out, no I/O.
//
// Coverage is intentionally limited to what the 0.25° GFS products use:
// grid definition template 3.0 (regular lat/lon), product definition
// template 4.x (the category/parameter pair lives at fixed octets for the
// templates NOMADS serves), data representation template 5.0 (simple
// packing) and an optional bitmap section. Anything else is a DecodeError
// for that message; remaining messages in the stream are still decoded.
package grib2

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Field is one decoded meteorological field.
type Field struct {
	Discipline int
	Category   int
	Parameter  int

	Nx  int
	Ny  int
	La1 float64 // first (north-west) latitude, degrees
	Lo1 float64 // first longitude, provider convention (0..360 for GFS)
	Dx  float64
	Dy  float64

	// Data is row-major, latitude decreasing, longitude increasing.
	// Bitmap-masked cells are NaN.
	Data []float64

	// flipRows marks a south-to-north scanning order that unpacking must
	// reverse to reach the canonical layout.
	flipRows bool
}

// HasData reports whether the field carries any real (non-NaN) values.
// NOMADS analysis files include parameter stubs with empty data sections;
// callers filter on this.
func (f *Field) HasData() bool {
	for _, v := range f.Data {
		if !math.IsNaN(v) {
			return true
		}
	}
	return false
}

const indicatorLen = 16

// Decode iterates every message in the stream and returns the decoded
// fields. A message using an unsupported template fails decoding of that
// message only; the error is returned alongside all fields decoded so far
// only when no field could be decoded at all.
func Decode(data []byte) ([]Field, error) {
	var fields []Field
	var lastErr error

	for len(data) >= indicatorLen {
		if string(data[0:4]) != "GRIB" {
			// Filter responses occasionally carry leading padding; scan
			// forward to the next magic.
			idx := indexMagic(data)
			if idx < 0 {
				break
			}
			data = data[idx:]
			continue
		}
		if data[7] != 2 {
			return fields, fmt.Errorf("unsupported GRIB edition %d", data[7])
		}
		msgLen := binary.BigEndian.Uint64(data[8:16])
		if msgLen < indicatorLen || msgLen > uint64(len(data)) {
			lastErr = fmt.Errorf("truncated GRIB message (want %d bytes, have %d)", msgLen, len(data))
			break
		}

		field, err := decodeMessage(data[:msgLen])
		if err != nil {
			lastErr = err
		} else {
			fields = append(fields, *field)
		}
		data = data[msgLen:]
	}

	if len(fields) == 0 {
		if lastErr != nil {
			return nil, lastErr
		}
		return nil, fmt.Errorf("no GRIB messages in stream")
	}
	return fields, nil
}

func indexMagic(data []byte) int {
	for i := 0; i+4 <= len(data); i++ {
		if string(data[i:i+4]) == "GRIB" {
			return i
		}
	}
	return -1
}

// decodeMessage walks the sections of one message.
func decodeMessage(msg []byte) (*Field, error) {
	field := &Field{Discipline: int(msg[6])}

	var (
		packing *simplePacking
		bitmap  []byte
		gridSet bool
		dataRaw []byte
	)

	rest := msg[indicatorLen:]
	for len(rest) >= 4 {
		if string(rest[:4]) == "7777" {
			break
		}
		if len(rest) < 5 {
			return nil, fmt.Errorf("truncated section header")
		}
		secLen := int(binary.BigEndian.Uint32(rest[0:4]))
		secNum := int(rest[4])
		if secLen < 5 || secLen > len(rest) {
			return nil, fmt.Errorf("truncated section %d", secNum)
		}
		sec := rest[:secLen]

		switch secNum {
		case 1, 2:
			// Identification / local use: nothing needed.
		case 3:
			if err := decodeGrid(sec, field); err != nil {
				return nil, err
			}
			gridSet = true
		case 4:
			if err := decodeProduct(sec, field); err != nil {
				return nil, err
			}
		case 5:
			p, err := decodePacking(sec)
			if err != nil {
				return nil, err
			}
			packing = p
		case 6:
			b, err := decodeBitmap(sec, bitmap)
			if err != nil {
				return nil, err
			}
			bitmap = b
		case 7:
			if secLen > 5 {
				dataRaw = sec[5:]
			}
		default:
			return nil, fmt.Errorf("unexpected section %d", secNum)
		}
		rest = rest[secLen:]
	}

	if !gridSet {
		return nil, fmt.Errorf("message has no grid definition")
	}
	if packing == nil {
		return nil, fmt.Errorf("message has no data representation")
	}

	field.Data = unpack(packing, dataRaw, bitmap, field.Nx*field.Ny)
	if field.flipRows {
		reverseRows(field.Data, field.Nx, field.Ny)
	}
	return field, nil
}

func reverseRows(data []float64, nx, ny int) {
	for top, bottom := 0, ny-1; top < bottom; top, bottom = top+1, bottom-1 {
		for i := 0; i < nx; i++ {
			data[top*nx+i], data[bottom*nx+i] = data[bottom*nx+i], data[top*nx+i]
		}
	}
}

// decodeGrid handles grid definition template 3.0 (regular lat/lon).
func decodeGrid(sec []byte, field *Field) error {
	if len(sec) < 72 {
		return fmt.Errorf("grid definition section too short")
	}
	template := binary.BigEndian.Uint16(sec[12:14])
	if template != 0 {
		return fmt.Errorf("unsupported grid definition template 3.%d", template)
	}

	field.Nx = int(binary.BigEndian.Uint32(sec[30:34]))
	field.Ny = int(binary.BigEndian.Uint32(sec[34:38]))
	la1 := signedMicro(sec[46:50])
	lo1 := signedMicro(sec[50:54])
	la2 := signedMicro(sec[55:59])
	field.Dx = math.Abs(signedMicro(sec[63:67]))
	field.Dy = math.Abs(signedMicro(sec[67:71]))

	scan := sec[71]
	// Canonical layout is north-to-south. Scanning mode bit 2 set means
	// +j (south to north): flag it by swapping La1 later via flipRows.
	field.La1 = la1
	field.Lo1 = lo1
	if scan&0x40 != 0 {
		// Rows run south to north in the data section; remember the
		// northern edge and flip after unpacking.
		field.La1 = la2
		field.flipRows = true
	}
	return nil
}

// decodeProduct extracts the category/parameter pair. All 4.x templates
// NOMADS serves keep them at octets 10 and 11.
func decodeProduct(sec []byte, field *Field) error {
	if len(sec) < 11 {
		return fmt.Errorf("product definition section too short")
	}
	field.Category = int(sec[9])
	field.Parameter = int(sec[10])
	return nil
}

type simplePacking struct {
	numPoints int
	reference float64
	binScale  float64 // 2^E
	decScale  float64 // 10^-D
	bits      int
}

// decodePacking handles data representation template 5.0.
func decodePacking(sec []byte) (*simplePacking, error) {
	if len(sec) < 21 {
		return nil, fmt.Errorf("data representation section too short")
	}
	template := binary.BigEndian.Uint16(sec[9:11])
	if template != 0 {
		return nil, fmt.Errorf("unsupported data representation template 5.%d", template)
	}
	ref := math.Float32frombits(binary.BigEndian.Uint32(sec[11:15]))
	e := signed16(sec[15:17])
	d := signed16(sec[17:19])
	return &simplePacking{
		numPoints: int(binary.BigEndian.Uint32(sec[5:9])),
		reference: float64(ref),
		binScale:  math.Pow(2, float64(e)),
		decScale:  math.Pow(10, -float64(d)),
		bits:      int(sec[19]),
	}, nil
}

// decodeBitmap handles section 6: indicator 255 means no bitmap, 254 means
// reuse the previously defined one.
func decodeBitmap(sec []byte, previous []byte) ([]byte, error) {
	switch sec[5] {
	case 255:
		return nil, nil
	case 254:
		return previous, nil
	case 0:
		return sec[6:], nil
	default:
		return nil, fmt.Errorf("unsupported bitmap indicator %d", sec[5])
	}
}

// unpack expands simple-packed values, applies the bitmap and normalizes
// row order to north-to-south.
func unpack(p *simplePacking, raw, bitmap []byte, cells int) []float64 {
	packed := make([]float64, 0, p.numPoints)
	if p.bits == 0 {
		// Constant field.
		value := p.reference * p.decScale
		for i := 0; i < p.numPoints; i++ {
			packed = append(packed, value)
		}
	} else {
		reader := bitReader{data: raw}
		for i := 0; i < p.numPoints; i++ {
			n, ok := reader.read(p.bits)
			if !ok {
				break
			}
			packed = append(packed, (p.reference+float64(n)*p.binScale)*p.decScale)
		}
	}

	if cells <= 0 {
		cells = p.numPoints
	}
	out := make([]float64, cells)
	next := 0
	for i := 0; i < cells; i++ {
		if bitmap != nil && !bitmapSet(bitmap, i) {
			out[i] = math.NaN()
			continue
		}
		if next < len(packed) {
			out[i] = packed[next]
			next++
		} else {
			out[i] = math.NaN()
		}
	}
	return out
}

func bitmapSet(bitmap []byte, i int) bool {
	byteIdx := i / 8
	if byteIdx >= len(bitmap) {
		return false
	}
	return bitmap[byteIdx]&(1<<uint(7-i%8)) != 0
}

// signedMicro decodes a sign-magnitude int32 in microdegrees.
func signedMicro(b []byte) float64 {
	raw := binary.BigEndian.Uint32(b)
	value := float64(raw & 0x7fffffff)
	if raw&0x80000000 != 0 {
		value = -value
	}
	return value * 1e-6
}

// signed16 decodes a sign-magnitude int16.
func signed16(b []byte) int {
	raw := binary.BigEndian.Uint16(b)
	value := int(raw & 0x7fff)
	if raw&0x8000 != 0 {
		value = -value
	}
	return value
}

type bitReader struct {
	data []byte
	pos  int // bit position
}

// read extracts the next n bits big-endian.
func (r *bitReader) read(n int) (uint64, bool) {
	if r.pos+n > len(r.data)*8 {
		return 0, false
	}
	var out uint64
	for i := 0; i < n; i++ {
		byteIdx := r.pos / 8
		bit := (r.data[byteIdx] >> uint(7-r.pos%8)) & 1
		out = out<<1 | uint64(bit)
		r.pos++
	}
	return out, true
}
