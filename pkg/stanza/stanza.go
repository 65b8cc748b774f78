// Package stanza models the structured units exchanged over the stream:
// generic stanzas, acknowledgments and delivery/read receipts.
package stanza

import (
	"bytes"
	"encoding/xml"
	"fmt"

	cerrors "github.com/gezibash/courier/pkg/errors"
)

// ErrMalformed indicates a stanza that cannot be decoded or is missing a
// required attribute.
var ErrMalformed = cerrors.ErrMalformed

// Stanza is a single XML element with its attributes and children.
// The same type is used for top-level stanzas and their payload elements.
type Stanza struct {
	XMLName  xml.Name
	Attrs    []xml.Attr `xml:",any,attr"`
	Children []*Stanza  `xml:",any"`
	Text     string     `xml:",chardata"`
}

// New creates an empty element with the given local name.
func New(name string) *Stanza {
	return &Stanza{XMLName: xml.Name{Local: name}}
}

// NewNS creates an empty element with the given namespace and local name.
func NewNS(space, name string) *Stanza {
	return &Stanza{XMLName: xml.Name{Space: space, Local: name}}
}

// Name returns the element's local name.
func (s *Stanza) Name() string { return s.XMLName.Local }

// Namespace returns the element's namespace.
func (s *Stanza) Namespace() string { return s.XMLName.Space }

// ID returns the id attribute.
func (s *Stanza) ID() string { return s.Attr("id") }

// From returns the from attribute.
func (s *Stanza) From() string { return s.Attr("from") }

// To returns the to attribute.
func (s *Stanza) To() string { return s.Attr("to") }

// Type returns the type attribute.
func (s *Stanza) Type() string { return s.Attr("type") }

// Attr returns the value of the attribute with the given local name, or "".
func (s *Stanza) Attr(name string) string {
	v, _ := s.LookupAttr(name)
	return v
}

// LookupAttr returns the attribute value and whether it was present.
func (s *Stanza) LookupAttr(name string) (string, bool) {
	if s == nil {
		return "", false
	}
	for _, a := range s.Attrs {
		if a.Name.Local == name {
			return a.Value, true
		}
	}
	return "", false
}

// SetAttr sets (or replaces) an attribute. Empty values remove it.
func (s *Stanza) SetAttr(name, value string) *Stanza {
	for i, a := range s.Attrs {
		if a.Name.Local != name {
			continue
		}
		if value == "" {
			s.Attrs = append(s.Attrs[:i], s.Attrs[i+1:]...)
		} else {
			s.Attrs[i].Value = value
		}
		return s
	}
	if value != "" {
		s.Attrs = append(s.Attrs, xml.Attr{Name: xml.Name{Local: name}, Value: value})
	}
	return s
}

// Append adds child elements and returns s.
func (s *Stanza) Append(children ...*Stanza) *Stanza {
	s.Children = append(s.Children, children...)
	return s
}

// Child returns the first direct child with the given local name.
func (s *Stanza) Child(name string) *Stanza {
	if s == nil {
		return nil
	}
	for _, c := range s.Children {
		if c.XMLName.Local == name {
			return c
		}
	}
	return nil
}

// FirstChild returns the first child element, or nil.
func (s *Stanza) FirstChild() *Stanza {
	if s == nil || len(s.Children) == 0 {
		return nil
	}
	return s.Children[0]
}

// Clone returns a deep copy.
func (s *Stanza) Clone() *Stanza {
	if s == nil {
		return nil
	}
	c := &Stanza{XMLName: s.XMLName, Text: s.Text}
	if len(s.Attrs) > 0 {
		c.Attrs = make([]xml.Attr, len(s.Attrs))
		copy(c.Attrs, s.Attrs)
	}
	for _, child := range s.Children {
		c.Children = append(c.Children, child.Clone())
	}
	return c
}

// Encode serializes the stanza.
func (s *Stanza) Encode() ([]byte, error) {
	if s == nil || s.XMLName.Local == "" {
		return nil, fmt.Errorf("encode: %w: missing element name", ErrMalformed)
	}
	return xml.Marshal(s)
}

// String returns the encoded form, for logging.
func (s *Stanza) String() string {
	b, err := s.Encode()
	if err != nil {
		return "<invalid>"
	}
	return string(b)
}

// Decode parses a single stanza.
func Decode(data []byte) (*Stanza, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("decode: %w: empty frame", ErrMalformed)
	}
	var s Stanza
	if err := xml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode: %w: %v", ErrMalformed, err)
	}
	s.normalize()
	return &s, nil
}

// normalize drops namespace declarations, which are carried in XMLName.Space,
// and whitespace-only text between child elements.
func (s *Stanza) normalize() {
	attrs := s.Attrs[:0]
	for _, a := range s.Attrs {
		if a.Name.Space == "xmlns" || (a.Name.Space == "" && a.Name.Local == "xmlns") {
			continue
		}
		attrs = append(attrs, a)
	}
	s.Attrs = attrs
	if len(s.Children) > 0 && len(bytes.TrimSpace([]byte(s.Text))) == 0 {
		s.Text = ""
	}
	for _, c := range s.Children {
		c.normalize()
	}
}
