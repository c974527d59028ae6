package stream

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrUnsupportedPacket marks packet types the decoder deliberately skips
// (status, telemetry, messages, Mic-E). Callers drop these silently.
var ErrUnsupportedPacket = errors.New("unsupported packet type")

// Packet is one decoded APRS position report.
type Packet struct {
	Source      string
	Destination string
	Path        []string

	Lat         float64
	Lon         float64
	SymbolTable byte
	Symbol      byte
	Comment     string

	Course   float64 // degrees, 0 when absent
	Speed    float64 // km/h, 0 when absent
	Altitude float64 // meters, 0 when absent
}

const (
	knotsToKmh = 1.852
	feetToM    = 0.3048
)

// ParsePacket decodes one APRS-IS line. Only position reports (data type
// bytes '!', '=', '/', '@') are handled; everything else returns
// ErrUnsupportedPacket.
func ParsePacket(line string) (*Packet, error) {
	header, body, found := strings.Cut(line, ":")
	if !found || body == "" {
		return nil, fmt.Errorf("packet has no body")
	}

	source, rest, found := strings.Cut(header, ">")
	if !found || source == "" {
		return nil, fmt.Errorf("packet has no source callsign")
	}
	hops := strings.Split(rest, ",")

	pkt := &Packet{
		Source:      source,
		Destination: hops[0],
	}
	if len(hops) > 1 {
		pkt.Path = hops[1:]
	}

	switch body[0] {
	case '!', '=':
		return decodePosition(pkt, body[1:])
	case '/', '@':
		// Timestamped variants carry a 7-byte timestamp before the
		// position; the timestamp itself is not needed.
		if len(body) < 8 {
			return nil, fmt.Errorf("timestamped packet too short")
		}
		return decodePosition(pkt, body[8:])
	default:
		return nil, ErrUnsupportedPacket
	}
}

// decodePosition dispatches on the first byte: a digit starts an
// uncompressed DDMM.MMH latitude, anything else is a compressed report's
// symbol table byte.
func decodePosition(pkt *Packet, data string) (*Packet, error) {
	if data == "" {
		return nil, fmt.Errorf("empty position payload")
	}
	var err error
	if data[0] >= '0' && data[0] <= '9' {
		err = decodeUncompressed(pkt, data)
	} else {
		err = decodeCompressed(pkt, data)
	}
	if err != nil {
		return nil, err
	}
	if math.Abs(pkt.Lat) > 90 || math.Abs(pkt.Lon) > 180 {
		return nil, fmt.Errorf("position out of range: %f, %f", pkt.Lat, pkt.Lon)
	}
	return pkt, nil
}

// decodeUncompressed handles the 19+ byte plain-text position:
// DDMM.MMH latitude, symbol table, DDDMM.MMH longitude, symbol code,
// optional NNN/NNN course/speed and /A=NNNNNN altitude in the comment.
func decodeUncompressed(pkt *Packet, data string) error {
	if len(data) < 19 {
		return fmt.Errorf("uncompressed position too short: %d bytes", len(data))
	}

	lat, err := parseDegMin(data[0:8], 2)
	if err != nil {
		return err
	}
	lon, err := parseDegMin(data[9:18], 3)
	if err != nil {
		return err
	}

	pkt.Lat = lat
	pkt.Lon = lon
	pkt.SymbolTable = data[8]
	pkt.Symbol = data[18]

	comment := data[19:]
	if len(comment) >= 7 && isCourseSpeed(comment[:7]) {
		course, _ := strconv.Atoi(comment[0:3])
		speed, _ := strconv.Atoi(comment[4:7])
		pkt.Course = float64(course)
		pkt.Speed = float64(speed) * knotsToKmh
		comment = comment[7:]
	}
	if idx := strings.Index(comment, "/A="); idx >= 0 && len(comment) >= idx+9 {
		if feet, err := strconv.Atoi(comment[idx+3 : idx+9]); err == nil {
			pkt.Altitude = float64(feet) * feetToM
			comment = comment[:idx] + comment[idx+9:]
		}
	}
	pkt.Comment = comment
	return nil
}

// parseDegMin decodes DDMM.MMH / DDDMM.MMH fields. degDigits is 2 for
// latitude, 3 for longitude.
func parseDegMin(s string, degDigits int) (float64, error) {
	hemi := s[len(s)-1]
	deg, err := strconv.Atoi(s[:degDigits])
	if err != nil {
		return 0, fmt.Errorf("bad degrees in %q: %w", s, err)
	}
	minutes, err := strconv.ParseFloat(s[degDigits:len(s)-1], 64)
	if err != nil {
		return 0, fmt.Errorf("bad minutes in %q: %w", s, err)
	}

	value := float64(deg) + minutes/60
	switch hemi {
	case 'N', 'E':
		return value, nil
	case 'S', 'W':
		return -value, nil
	default:
		return 0, fmt.Errorf("bad hemisphere %q in %q", hemi, s)
	}
}

func isCourseSpeed(s string) bool {
	if len(s) != 7 || s[3] != '/' {
		return false
	}
	for _, i := range []int{0, 1, 2, 4, 5, 6} {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// decodeCompressed handles the 13-byte base-91 position: symbol table,
// 4 bytes latitude, 4 bytes longitude, symbol code, then course/speed or
// altitude selected by the compression-type bits in the last byte.
func decodeCompressed(pkt *Packet, data string) error {
	if len(data) < 13 {
		return fmt.Errorf("compressed position too short: %d bytes", len(data))
	}

	lat, ok := base91(data[1:5])
	if !ok {
		return fmt.Errorf("bad base-91 latitude")
	}
	lon, ok := base91(data[5:9])
	if !ok {
		return fmt.Errorf("bad base-91 longitude")
	}

	pkt.SymbolTable = data[0]
	pkt.Symbol = data[9]
	pkt.Lat = 90 - float64(lat)/380926
	pkt.Lon = -180 + float64(lon)/190463

	c, s, t := data[10], data[11], data[12]
	if c != ' ' {
		compType := int(t) - 33
		if compType&0x18 == 0x10 {
			// GGA source: cs is altitude as 1.002^(c*91+s) feet.
			exp := float64(int(c)-33)*91 + float64(int(s)-33)
			pkt.Altitude = math.Pow(1.002, exp) * feetToM
		} else if c >= '!' && c <= 'z' {
			pkt.Course = float64(int(c)-33) * 4
			pkt.Speed = (math.Pow(1.08, float64(int(s)-33)) - 1) * knotsToKmh
		}
	}

	pkt.Comment = data[13:]
	return nil
}

// base91 decodes four bytes offset by 33 into a base-91 integer.
func base91(s string) (int, bool) {
	n := 0
	for i := 0; i < len(s); i++ {
		digit := int(s[i]) - 33
		if digit < 0 || digit > 90 {
			return 0, false
		}
		n = n*91 + digit
	}
	return n, true
}
