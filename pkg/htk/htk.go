// Package htk reads and writes HTK parameter files, the feature archive
// format used by speech training corpora.
//
// An HTK parameter file starts with a 12-byte big-endian header:
//
//	uint32 nSamples      number of frames in the file
//	uint32 samplePeriod  frame shift in 100 ns units (100000 = 10 ms)
//	uint16 sampleSize    bytes per frame (dimension * 4 for float data)
//	uint16 parmKind      base kind code plus qualifier bits
//
// followed by nSamples frames of big-endian float32 vectors. Compressed
// (_C) and waveform files are not supported; the pipeline consumes
// pre-extracted float feature archives only.
package htk

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// HeaderSize is the byte length of the HTK parameter file header.
const HeaderSize = 12

// ErrUnsupported is returned for parameter files the reader cannot decode
// (compressed data, waveforms, non-float sample layouts).
var ErrUnsupported = errors.New("htk: unsupported parameter file")

// Base parameter kind codes (low 6 bits of parmKind).
const (
	KindWaveform  = 0
	KindLPC       = 1
	KindLPRefC    = 2
	KindLPCepstra = 3
	KindLPDelCep  = 4
	KindIRefC     = 5
	KindMFCC      = 6
	KindFBank     = 7
	KindMelSpec   = 8
	KindUser      = 9
	KindDiscrete  = 10
	KindPLP       = 11
)

// Qualifier bits ORed into parmKind.
const (
	QualE = 0x0040 // log energy appended
	QualN = 0x0080 // absolute energy suppressed
	QualD = 0x0100 // delta coefficients appended
	QualA = 0x0200 // acceleration coefficients appended
	QualC = 0x0400 // compressed
	QualZ = 0x0800 // cepstral mean normalized
	QualK = 0x1000 // CRC appended
	Qual0 = 0x2000 // 0th cepstral coefficient appended
)

var baseKindNames = []string{
	"WAVEFORM", "LPC", "LPREFC", "LPCEPSTRA", "LPDELCEP", "IREFC",
	"MFCC", "FBANK", "MELSPEC", "USER", "DISCRETE", "PLP",
}

// KindName renders a parmKind code as the conventional HTK string,
// e.g. 0x0346 -> "MFCC_E_D_A".
func KindName(kind uint16) string {
	base := int(kind & 0x3f)
	var b strings.Builder
	if base < len(baseKindNames) {
		b.WriteString(baseKindNames[base])
	} else {
		fmt.Fprintf(&b, "KIND%d", base)
	}
	for _, q := range []struct {
		bit  uint16
		name string
	}{
		{QualE, "_E"}, {QualN, "_N"}, {QualD, "_D"}, {QualA, "_A"},
		{QualC, "_C"}, {QualZ, "_Z"}, {QualK, "_K"}, {Qual0, "_0"},
	} {
		if kind&q.bit != 0 {
			b.WriteString(q.name)
		}
	}
	return b.String()
}

// ParseKind converts a kind string like "FBANK_D_A" back to a parmKind code.
func ParseKind(name string) (uint16, error) {
	parts := strings.Split(name, "_")
	var kind uint16
	found := false
	for code, n := range baseKindNames {
		if n == parts[0] {
			kind = uint16(code)
			found = true
			break
		}
	}
	if !found {
		return 0, fmt.Errorf("htk: unknown parameter kind %q", name)
	}
	for _, q := range parts[1:] {
		switch q {
		case "E":
			kind |= QualE
		case "N":
			kind |= QualN
		case "D":
			kind |= QualD
		case "A":
			kind |= QualA
		case "C":
			kind |= QualC
		case "Z":
			kind |= QualZ
		case "K":
			kind |= QualK
		case "0":
			kind |= Qual0
		default:
			return 0, fmt.Errorf("htk: unknown qualifier _%s in %q", q, name)
		}
	}
	return kind, nil
}

// Header is the decoded HTK parameter file header.
type Header struct {
	NumSamples   uint32 // frames in the file
	SamplePeriod uint32 // 100 ns units
	SampleSize   uint16 // bytes per frame
	ParmKind     uint16
}

// Dim returns the feature dimension implied by the sample size,
// assuming 4-byte float samples.
func (h Header) Dim() int { return int(h.SampleSize) / 4 }

// KindName returns the parameter kind as a string.
func (h Header) KindName() string { return KindName(h.ParmKind) }

// decodeHeader parses the 12-byte header.
func decodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("htk: short header: %d bytes", len(buf))
	}
	h := Header{
		NumSamples:   binary.BigEndian.Uint32(buf[0:4]),
		SamplePeriod: binary.BigEndian.Uint32(buf[4:8]),
		SampleSize:   binary.BigEndian.Uint16(buf[8:10]),
		ParmKind:     binary.BigEndian.Uint16(buf[10:12]),
	}
	if h.ParmKind&QualC != 0 {
		return Header{}, fmt.Errorf("%w: compressed (_C) data", ErrUnsupported)
	}
	if h.ParmKind&0x3f == KindWaveform {
		return Header{}, fmt.Errorf("%w: waveform data", ErrUnsupported)
	}
	if h.SampleSize == 0 || h.SampleSize%4 != 0 {
		return Header{}, fmt.Errorf("%w: sample size %d not float-aligned", ErrUnsupported, h.SampleSize)
	}
	return h, nil
}

// encodeHeader renders the header into a 12-byte buffer.
func encodeHeader(h Header) []byte {
	buf := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(buf[0:4], h.NumSamples)
	binary.BigEndian.PutUint32(buf[4:8], h.SamplePeriod)
	binary.BigEndian.PutUint16(buf[8:10], h.SampleSize)
	binary.BigEndian.PutUint16(buf[10:12], h.ParmKind)
	return buf
}
