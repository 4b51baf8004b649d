// Package protocol implements the framing used to carry a structured result
// through a subprocess's stdout alongside arbitrary program output.
//
// A frame is
//
//	\n<<<SANDBOX-RESULT nonce=<hex> len=<n>>>>\n<n bytes of JSON>\n<<<SANDBOX-END nonce=<hex>>>>\n
//
// The nonce is generated per execution and handed to the harness on stdin,
// where only the emitter's closure holds it. The length prefix is checked
// against the payload, so output that imitates a frame is not mistaken for
// one.
package protocol

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
)

const (
	beginMarker = "<<<SANDBOX-RESULT"
	endMarker   = "<<<SANDBOX-END"
	nonceBytes  = 16
)

var (
	headerPattern = regexp.MustCompile(`<<<SANDBOX-RESULT nonce=([0-9a-f]+) len=([0-9]+)>>>\n`)
	endTrailer    = ">>>\n"
)

// NewNonce returns a random hex nonce.
func NewNonce() string {
	b := make([]byte, nonceBytes)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b)
}

// Encode frames payload under nonce.
func Encode(nonce string, payload []byte) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "\n%s nonce=%s len=%d>>>\n", beginMarker, nonce, len(payload))
	buf.Write(payload)
	fmt.Fprintf(&buf, "\n%s nonce=%s>>>\n", endMarker, nonce)
	return buf.Bytes()
}

// Frame is a located frame within a stdout buffer.
type Frame struct {
	Payload []byte
	// Start and End delimit the whole frame, including its leading newline
	// when present.
	Start, End int
}

// FindAll returns every well-formed frame for nonce in order of appearance.
// Headers with a different nonce, a length that overruns the buffer, or a
// missing end marker are skipped.
func FindAll(stdout []byte, nonce string) []Frame {
	var frames []Frame
	end := []byte(endMarker + " nonce=" + nonce + endTrailer)
	offset := 0
	for offset < len(stdout) {
		loc := headerPattern.FindSubmatchIndex(stdout[offset:])
		if loc == nil {
			break
		}
		hStart, hEnd := offset+loc[0], offset+loc[1]
		gotNonce := string(stdout[offset+loc[2] : offset+loc[3]])
		n, err := strconv.Atoi(string(stdout[offset+loc[4] : offset+loc[5]]))
		offset = hEnd
		if err != nil || gotNonce != nonce {
			continue
		}
		if n > len(stdout)-hEnd-1 {
			continue
		}
		pEnd := hEnd + n
		if pEnd+1+len(end) > len(stdout) || stdout[pEnd] != '\n' || !bytes.Equal(stdout[pEnd+1:pEnd+1+len(end)], end) {
			continue
		}
		start := hStart
		if start > 0 && stdout[start-1] == '\n' {
			start--
		}
		frames = append(frames, Frame{
			Payload: stdout[hEnd:pEnd],
			Start:   start,
			End:     pEnd + 1 + len(end),
		})
		offset = pEnd + 1 + len(end)
	}
	return frames
}

// Find returns the payload of the last well-formed frame for nonce.
func Find(stdout []byte, nonce string) ([]byte, bool) {
	frames := FindAll(stdout, nonce)
	if len(frames) == 0 {
		return nil, false
	}
	return frames[len(frames)-1].Payload, true
}

// Strip returns stdout with every well-formed frame for nonce removed.
func Strip(stdout []byte, nonce string) []byte {
	frames := FindAll(stdout, nonce)
	if len(frames) == 0 {
		return stdout
	}
	out := make([]byte, 0, len(stdout))
	prev := 0
	for _, f := range frames {
		out = append(out, stdout[prev:f.Start]...)
		prev = f.End
	}
	return append(out, stdout[prev:]...)
}
