package blocks

import (
	"encoding/xml"
	"strings"

	"github.com/openmdf/mdf/iohelp"
)

// Text is a TX block (v3 and v4): a NUL-terminated UTF-8 string payload,
// used for long names, comments, and the v4 MetaData XML bodies (tag "MD").
//
// For an "MD" block, Value holds the <TX> element's character data (the
// common case for channel/channel-group comments); Raw keeps the full XML
// document for callers that need the other common-properties elements.
type Text struct {
	Header
	Value string
	Raw   string
}

func (b *Text) Kind() string { return b.Header.Tag }
func (b *Text) Hdr() *Header { return &b.Header }

// mdDoc is the subset of MD's common-properties schema this module reads.
type mdDoc struct {
	TX string `xml:"TX"`
}

func parseText(h Header, payload []byte) *Text {
	s := string(payload)
	if i := strings.IndexByte(s, 0); i >= 0 {
		s = s[:i]
	}

	t := &Text{Header: h, Value: s}
	if h.Tag == "MD" {
		t.Raw = s
		var doc mdDoc
		if err := xml.Unmarshal([]byte(s), &doc); err == nil {
			t.Value = strings.TrimSpace(doc.TX)
		}
	}

	return t
}

// WriteTextV4 writes a v4 "##TX" or "##MD" block containing value,
// NUL-terminated and 8-byte aligned, returning its absolute offset.
func WriteTextV4(w *iohelp.Writer, tag string, value string) (int64, error) {
	offset, err := w.SeekEnd()
	if err != nil {
		return 0, err
	}

	payload := append([]byte(value), 0)
	if _, err := WriteHeaderV4(w, tag, nil, len(payload)); err != nil {
		return 0, err
	}
	if err := w.WriteBytes(payload); err != nil {
		return 0, err
	}
	if err := w.AlignTo8(); err != nil {
		return 0, err
	}

	return offset, nil
}

// WriteTextV3 writes a v3 "TX" block containing value, NUL-terminated,
// returning its absolute offset.
func WriteTextV3(w *iohelp.Writer, value string) (int64, error) {
	offset, err := w.SeekEnd()
	if err != nil {
		return 0, err
	}

	payload := append([]byte(value), 0)
	if _, err := WriteHeaderV3(w, "TX", nil, len(payload)); err != nil {
		return 0, err
	}
	if err := w.WriteBytes(payload); err != nil {
		return 0, err
	}

	return offset, nil
}

// WriteMDV4 wraps comment in the minimal MDComment schema this module
// understands and writes it as a v4 "##MD" block.
func WriteMDV4(w *iohelp.Writer, comment string) (int64, error) {
	var escaped strings.Builder
	if err := xml.EscapeText(&escaped, []byte(comment)); err != nil {
		escaped.WriteString(comment)
	}

	return WriteTextV4(w, "MD", "<MDComment><TX>"+escaped.String()+"</TX></MDComment>")
}

// resolveText returns the Value of the Text block (TX or MD) at offset, or
// "" if offset is 0 or does not resolve to a Text block.
func resolveText(arena *Arena, offset int64) string {
	if t, ok := arena.Find(offset).(*Text); ok {
		return t.Value
	}

	return ""
}
