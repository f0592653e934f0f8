package escape

// Segment is one forwardable piece of a read together with the event that
// ended it. Data may be empty for control events.
type Segment struct {
	Data  []byte
	Event Event
}

// Splitter cuts raw reads into segments at escape boundaries.
type Splitter struct {
	scanner Scanner
}

// NewSplitter wraps a Scanner.
func NewSplitter(s Scanner) *Splitter {
	return &Splitter{scanner: s}
}

// Scanner returns the underlying scanner.
func (sp *Splitter) Scanner() Scanner {
	return sp.scanner
}

// Split classifies buf[:n], which must be the result of a single read.
// Segments are returned in input order. Segment data is copied so the
// caller may reuse buf.
//
// Forwarded bytes per event:
//   - Itself and control events: everything before the escape or command
//     byte. The escape character stays withheld.
//   - Invalid: the withheld escape character, then the bytes up to and
//     including the unknown command byte.
//   - Literal: the bytes before the command byte, then one escape character.
//   - None: everything up to the end of the read.
//
// Splitting stops after a Terminate event; the rest of the read is dropped.
func (sp *Splitter) Split(buf []byte, n int) []Segment {
	var segments []Segment
	sp.scanner.Reset()
	sent := 0
	for sent < n {
		ev := sp.scanner.NextEscape(buf, n)
		pos := sp.scanner.Pos()

		var data []byte
		switch ev {
		case Itself, DecreaseVerbosity, Help, IncreaseVerbosity, Suspend, Terminate:
			data = clone(buf[sent : pos-1])
		case Invalid:
			data = make([]byte, 0, pos-sent+1)
			data = append(data, sp.scanner.Char())
			data = append(data, buf[sent:pos]...)
		case Literal:
			data = make([]byte, 0, pos-sent)
			data = append(data, buf[sent:pos-1]...)
			data = append(data, sp.scanner.Char())
		default:
			data = clone(buf[sent:pos])
		}

		segments = append(segments, Segment{Data: data, Event: ev})
		sent = pos
		if ev == Terminate {
			break
		}
	}
	return segments
}

func clone(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
