package dbgp

import (
	"strconv"

	"github.com/dbgpdap/adapter/internal/xerr"
)

// frameState is the two-state incremental parser described in spec §4.1:
// ReadingLength -> (on NUL) ReadingBody -> (on budget exhaustion + trailing
// NUL) emit frame, return to ReadingLength.
type frameState int

const (
	stateReadingLength frameState = iota
	stateReadingBody
)

// FrameDecoder is a restartable, incremental decoder of the DBGp
// "<len>\0<xml>\0" wire format. Feed it bytes as they arrive with Feed; it
// returns zero or more complete frame bodies per call. It never blocks and
// never looks ahead past what it was given — excess bytes in one Feed call
// cascade into the next state within that same call, exactly as spec §4.1
// requires ("Excess bytes in a chunk must cascade to the next state within
// the same input event").
type FrameDecoder struct {
	state    frameState
	lenBuf   []byte
	body     []byte
	bodyWant int
}

// NewFrameDecoder returns a decoder ready to read the length prefix of the
// first frame.
func NewFrameDecoder() *FrameDecoder {
	return &FrameDecoder{state: stateReadingLength}
}

// Feed appends chunk to the decoder's buffer and returns every frame body
// (XML bytes, without the length prefix or the framing NULs) that became
// complete as a result. The returned slices are owned by the caller; the
// decoder does not retain them.
func (d *FrameDecoder) Feed(chunk []byte) ([][]byte, error) {
	var frames [][]byte
	for len(chunk) > 0 {
		switch d.state {
		case stateReadingLength:
			nul := indexByte(chunk, 0)
			if nul == -1 {
				d.lenBuf = append(d.lenBuf, chunk...)
				return frames, nil
			}
			d.lenBuf = append(d.lenBuf, chunk[:nul]...)
			chunk = chunk[nul+1:]

			n, ok := parseASCIIDecimal(d.lenBuf)
			if !ok {
				return frames, xerr.MalformedFrame("length prefix is not an ASCII decimal integer: " + string(d.lenBuf))
			}
			d.lenBuf = d.lenBuf[:0]
			d.bodyWant = n
			d.body = make([]byte, 0, n)
			d.state = stateReadingBody

		case stateReadingBody:
			remaining := d.bodyWant - len(d.body)
			if len(chunk) < remaining {
				d.body = append(d.body, chunk...)
				return frames, nil
			}

			d.body = append(d.body, chunk[:remaining]...)
			chunk = chunk[remaining:]

			// The byte immediately after the body budget is the trailing NUL.
			if len(chunk) == 0 {
				// Trailing NUL hasn't arrived yet; wait for more input but
				// keep the completed body buffered.
				d.state = stateAwaitingTrailingNUL
				continue
			}
			if chunk[0] != 0 {
				return frames, xerr.MalformedFrame("expected frame-terminating NUL byte")
			}
			chunk = chunk[1:]

			frames = append(frames, d.body)
			d.body = nil
			d.state = stateReadingLength

		case stateAwaitingTrailingNUL:
			if chunk[0] != 0 {
				return frames, xerr.MalformedFrame("expected frame-terminating NUL byte")
			}
			chunk = chunk[1:]
			frames = append(frames, d.body)
			d.body = nil
			d.state = stateReadingLength
		}
	}
	return frames, nil
}

// stateAwaitingTrailingNUL is a third, internal bookkeeping state: the body
// budget is exhausted but the chunk that satisfied it carried no further
// bytes, so the trailing NUL is still outstanding.
const stateAwaitingTrailingNUL frameState = 2

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

func parseASCIIDecimal(b []byte) (int, bool) {
	if len(b) == 0 {
		return 0, false
	}
	n := 0
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}

// EncodeFrame produces the wire bytes for one DBGp frame carrying body.
func EncodeFrame(body []byte) []byte {
	length := strconv.Itoa(len(body))
	out := make([]byte, 0, len(length)+1+len(body)+1)
	out = append(out, length...)
	out = append(out, 0)
	out = append(out, body...)
	out = append(out, 0)
	return out
}
