package counsel

import "unicode/utf8"

// utf8Decoder turns a byte stream into text, holding back a rune that is split
// across reads until the rest of it arrives.
type utf8Decoder struct {
	pending []byte
	offset  int64
}

// Decode returns the complete text available after p. The result is empty when
// p only extends a partial rune.
func (d *utf8Decoder) Decode(p []byte) (string, error) {
	data := p
	if len(d.pending) > 0 {
		data = append(d.pending, p...)
		d.pending = nil
	}

	cut := incompleteTail(data)
	text, rest := data[:cut], data[cut:]

	if !utf8.Valid(text) {
		return "", &DecodeError{Offset: d.offset + int64(firstInvalid(text))}
	}
	d.offset += int64(len(text))
	if len(rest) > 0 {
		d.pending = append([]byte(nil), rest...)
	}
	return string(text), nil
}

// Flush reports a rune left unfinished at end of stream.
func (d *utf8Decoder) Flush() error {
	if len(d.pending) > 0 {
		return &DecodeError{Offset: d.offset}
	}
	return nil
}

// incompleteTail returns the index where a trailing, not yet complete rune starts,
// or len(b) when b ends on a rune boundary.
func incompleteTail(b []byte) int {
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if !utf8.RuneStart(b[i]) {
			continue
		}
		if !utf8.FullRune(b[i:]) {
			return i
		}
		break
	}
	return len(b)
}

func firstInvalid(b []byte) int {
	for i := 0; i < len(b); {
		r, size := utf8.DecodeRune(b[i:])
		if r == utf8.RuneError && size <= 1 {
			return i
		}
		i += size
	}
	return len(b)
}
