package blocks

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"

	"github.com/openmdf/mdf/errs"
)

// PropertyType is the declared type of a common-properties entry.
type PropertyType string

const (
	PropertyString   PropertyType = "string"
	PropertyInteger  PropertyType = "integer"
	PropertyFloat    PropertyType = "float"
	PropertyBoolean  PropertyType = "boolean"
	PropertyDateTime PropertyType = "datetime"
)

// MetaProperty is one typed <e name="..." type="...">value</e> entry of an
// MD block's common-properties section.
type MetaProperty struct {
	Name  string
	Type  PropertyType
	Value string
}

// Metadata is the parsed body of an MD block: the root element name (which
// varies by owning block, e.g. "HDcomment", "CNcomment"), the TX comment
// text, and the common-properties entries. The XML body is otherwise
// treated as opaque: anything this type doesn't model is dropped on a
// parse/serialize round trip, which matches how the rest of the tree uses
// MD blocks (comment plus properties, nothing more).
type Metadata struct {
	RootName   string
	Comment    string
	Properties []MetaProperty
}

// mdDocument mirrors the on-wire XML: TX must come first, then the
// common_properties element.
type mdDocument struct {
	XMLName          xml.Name
	TX               string              `xml:"TX"`
	CommonProperties *mdCommonProperties `xml:"common_properties"`
}

type mdCommonProperties struct {
	Entries []mdEntry `xml:"e"`
}

type mdEntry struct {
	Name  string `xml:"name,attr"`
	Type  string `xml:"type,attr,omitempty"`
	Value string `xml:",chardata"`
}

// ParseMetadata decodes an MD block's XML body. A plain-text body (a TX
// block reached through an MD-typed link, or malformed XML) degrades to a
// Metadata carrying only the raw text as its comment.
func ParseMetadata(body string) *Metadata {
	trimmed := strings.TrimSpace(body)
	if trimmed == "" || !strings.HasPrefix(trimmed, "<") {
		return &Metadata{Comment: trimmed}
	}

	var doc mdDocument
	if err := xml.Unmarshal([]byte(trimmed), &doc); err != nil {
		return &Metadata{Comment: trimmed}
	}

	md := &Metadata{RootName: doc.XMLName.Local, Comment: doc.TX}
	if doc.CommonProperties != nil {
		for _, e := range doc.CommonProperties.Entries {
			t := PropertyType(e.Type)
			if t == "" {
				t = PropertyString
			}
			md.Properties = append(md.Properties, MetaProperty{Name: e.Name, Type: t, Value: strings.TrimSpace(e.Value)})
		}
	}

	return md
}

// String serializes the metadata back to the XML an MD block stores.
func (m *Metadata) String() string {
	root := m.RootName
	if root == "" {
		root = "HDcomment"
	}

	doc := mdDocument{XMLName: xml.Name{Local: root}, TX: m.Comment}
	if len(m.Properties) > 0 {
		cp := &mdCommonProperties{}
		for _, p := range m.Properties {
			cp.Entries = append(cp.Entries, mdEntry{Name: p.Name, Type: string(p.Type), Value: p.Value})
		}
		doc.CommonProperties = cp
	}

	out, err := xml.Marshal(doc)
	if err != nil {
		return ""
	}

	return xml.Header + string(out)
}

func (m *Metadata) lookup(key string) *MetaProperty {
	for i := range m.Properties {
		if m.Properties[i].Name == key {
			return &m.Properties[i]
		}
	}

	return nil
}

// GetStringProperty returns the raw value of the named entry.
func (m *Metadata) GetStringProperty(key string) (string, bool) {
	p := m.lookup(key)
	if p == nil {
		return "", false
	}

	return p.Value, true
}

// SetStringProperty adds or replaces the named entry as a string.
func (m *Metadata) SetStringProperty(key, value string) {
	m.setProperty(key, PropertyString, value)
}

// GetFloatProperty returns the named entry parsed as a float; entries of
// any declared type are coerced if their text parses.
func (m *Metadata) GetFloatProperty(key string) (float64, error) {
	p := m.lookup(key)
	if p == nil {
		return 0, fmt.Errorf("%w: no common property %q", errs.ErrUnknownBlock, key)
	}

	v, err := strconv.ParseFloat(p.Value, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: property %q is not numeric", errs.ErrDomainError, key)
	}

	return v, nil
}

// SetFloatProperty adds or replaces the named entry as a float.
func (m *Metadata) SetFloatProperty(key string, value float64) {
	m.setProperty(key, PropertyFloat, strconv.FormatFloat(value, 'g', -1, 64))
}

// SetIntProperty adds or replaces the named entry as an integer.
func (m *Metadata) SetIntProperty(key string, value int64) {
	m.setProperty(key, PropertyInteger, strconv.FormatInt(value, 10))
}

// SetBoolProperty adds or replaces the named entry as a boolean.
func (m *Metadata) SetBoolProperty(key string, value bool) {
	m.setProperty(key, PropertyBoolean, strconv.FormatBool(value))
}

func (m *Metadata) setProperty(key string, t PropertyType, value string) {
	if p := m.lookup(key); p != nil {
		p.Type = t
		p.Value = value

		return
	}

	m.Properties = append(m.Properties, MetaProperty{Name: key, Type: t, Value: value})
}

// hdCommonPropertyKeys are the HDcomment entries the file model normalizes
// into FileHeader fields, matching the names Hd4Block reads and writes.
const (
	hdPropAuthor        = "author"
	hdPropDepartment    = "department"
	hdPropProject       = "project"
	hdPropSubject       = "subject"
	hdPropMeasurementID = "Measurement.UUID"
	hdPropRecorderID    = "Recorder.Name"
	hdPropRecorderIndex = "Recorder.Index"
)

// applyHDComment fills hd's normalized metadata fields from a parsed
// HDcomment body.
func applyHDComment(hd *FileHeader, md *Metadata) {
	hd.Comment = md.Comment
	if v, ok := md.GetStringProperty(hdPropAuthor); ok {
		hd.Author = v
	}
	if v, ok := md.GetStringProperty(hdPropDepartment); ok {
		hd.Department = v
	}
	if v, ok := md.GetStringProperty(hdPropProject); ok {
		hd.Project = v
	}
	if v, ok := md.GetStringProperty(hdPropSubject); ok {
		hd.Subject = v
	}
	if v, ok := md.GetStringProperty(hdPropMeasurementID); ok {
		hd.MeasurementID = v
	}
	if v, ok := md.GetStringProperty(hdPropRecorderID); ok {
		hd.RecorderID = v
	}
	if v, ok := md.GetStringProperty(hdPropRecorderIndex); ok {
		if n, err := strconv.ParseUint(v, 10, 16); err == nil {
			hd.RecorderIndex = uint16(n)
		}
	}
}

// BuildHDComment composes the HDcomment MD body a v4 writer stores for hd,
// the inverse of applyHDComment. Returns "" when there is nothing to store.
func BuildHDComment(hd *FileHeader) string {
	md := &Metadata{RootName: "HDcomment", Comment: hd.Comment}
	if hd.Author != "" {
		md.SetStringProperty(hdPropAuthor, hd.Author)
	}
	if hd.Department != "" {
		md.SetStringProperty(hdPropDepartment, hd.Department)
	}
	if hd.Project != "" {
		md.SetStringProperty(hdPropProject, hd.Project)
	}
	if hd.Subject != "" {
		md.SetStringProperty(hdPropSubject, hd.Subject)
	}
	if hd.MeasurementID != "" {
		md.SetStringProperty(hdPropMeasurementID, hd.MeasurementID)
	}
	if hd.RecorderID != "" {
		md.SetStringProperty(hdPropRecorderID, hd.RecorderID)
	}
	if hd.RecorderIndex != 0 {
		md.SetIntProperty(hdPropRecorderIndex, int64(hd.RecorderIndex))
	}
	if md.Comment == "" && len(md.Properties) == 0 {
		return ""
	}

	return md.String()
}
