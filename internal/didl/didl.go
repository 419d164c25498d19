// Package didl extracts object metadata from the DIDL-Lite fragment a camera
// embeds in its CreateObject request.
//
// Tags are matched by their literal prefixed spelling (dc:title, upnp:class)
// because the camera firmware always sends the same prefixes and does not
// reliably declare the namespaces behind them.
package didl

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"github.com/lgulliver/autobackup/pkg/types"
)

// Keys of the map returned by Parse
const (
	KeyName         = "name"
	KeyDate         = "date"
	KeyClass        = "class"
	KeyProtocolInfo = "protocolInfo"
	KeySize         = "size"
)

var (
	// ErrNoElements is returned when a SOAP body carries no Elements argument
	ErrNoElements = errors.New("no Elements argument in request")

	// ErrMissingResource is returned when the res element or one of its required attributes is absent
	ErrMissingResource = errors.New("missing res attribute")

	// ErrInvalidProtocolInfo is returned for protocolInfo values without a MIME type
	ErrInvalidProtocolInfo = errors.New("invalid protocolInfo")
)

// textTags maps the element names whose text is captured to their result key
var textTags = map[string]string{
	"dc:title":   KeyName,
	"dc:date":    KeyDate,
	"upnp:class": KeyClass,
}

// Only the outer SOAP argument is located with a regexp; the fragment itself
// is walked as XML.
var elementsPattern = regexp.MustCompile(`(?s)<Elements[^>]*>(.*?)</Elements>`)

// Fields is the flat result of Parse. Missing elements are absent keys.
type Fields map[string]string

// Parse walks a decoded DIDL-Lite fragment and returns the text of the first
// dc:title, dc:date and upnp:class elements plus every attribute of the first
// res element. Tags outside that set are ignored.
func Parse(fragment []byte) (Fields, error) {
	fields := make(Fields)

	decoder := xml.NewDecoder(bytes.NewReader(fragment))
	decoder.Strict = false

	capture := ""
	seenRes := false
	for {
		tok, err := decoder.RawToken()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse DIDL-Lite: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			name := tagName(t.Name)
			if key, ok := textTags[name]; ok {
				if _, done := fields[key]; !done {
					capture = key
					fields[key] = ""
				}
				continue
			}
			if name == "res" && !seenRes {
				seenRes = true
				for _, attr := range t.Attr {
					fields[tagName(attr.Name)] = attr.Value
				}
			}
		case xml.CharData:
			if capture != "" {
				fields[capture] += string(t)
			}
		case xml.EndElement:
			if key, ok := textTags[tagName(t.Name)]; ok && key == capture {
				fields[capture] = strings.TrimSpace(fields[capture])
				capture = ""
			}
		}
	}

	return fields, nil
}

func tagName(n xml.Name) string {
	if n.Space == "" {
		return n.Local
	}
	return n.Space + ":" + n.Local
}

// ExtractElements returns the decoded DIDL-Lite fragment carried in the
// Elements argument of a CreateObject SOAP body.
func ExtractElements(body []byte) ([]byte, error) {
	m := elementsPattern.FindSubmatch(body)
	if m == nil {
		return nil, ErrNoElements
	}
	return []byte(Unescape(string(m[1]))), nil
}

// Unescape decodes entities once, and a second time when the camera escaped
// the fragment twice (the result still starts with an escaped tag).
func Unescape(s string) string {
	s = strings.TrimSpace(html.UnescapeString(s))
	if strings.HasPrefix(s, "&lt;") {
		s = strings.TrimSpace(html.UnescapeString(s))
	}
	return s
}

// ProtocolInfo is the parsed form of a DLNA protocolInfo string
type ProtocolInfo struct {
	Protocol    string
	Network     string
	MimeType    string
	MimeSubtype string
	Additional  string
}

// ParseProtocolInfo splits "protocol:network:type/subtype:info". Some
// firmware sends the MIME type as two colon separated fields instead, in
// which case the third and fourth fields are type and subtype.
func ParseProtocolInfo(s string) (ProtocolInfo, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 3 {
		return ProtocolInfo{}, fmt.Errorf("%w: %q", ErrInvalidProtocolInfo, s)
	}

	info := ProtocolInfo{Protocol: parts[0], Network: parts[1]}
	if mimeType, subtype, ok := strings.Cut(parts[2], "/"); ok {
		info.MimeType = mimeType
		info.MimeSubtype = subtype
		info.Additional = strings.Join(parts[3:], ":")
	} else {
		if len(parts) < 4 {
			return ProtocolInfo{}, fmt.Errorf("%w: %q", ErrInvalidProtocolInfo, s)
		}
		info.MimeType = parts[2]
		info.MimeSubtype = parts[3]
		info.Additional = strings.Join(parts[4:], ":")
	}

	if info.MimeType == "" || info.MimeSubtype == "" {
		return ProtocolInfo{}, fmt.Errorf("%w: %q", ErrInvalidProtocolInfo, s)
	}
	return info, nil
}

// Metadata converts parsed fields into object metadata. The res element must
// carry a usable protocolInfo and a numeric size; title, date and class are
// passed through as given.
func (f Fields) Metadata() (types.ObjectMetadata, error) {
	protocolInfo, ok := f[KeyProtocolInfo]
	if !ok || protocolInfo == "" {
		return types.ObjectMetadata{}, fmt.Errorf("%w: %s", ErrMissingResource, KeyProtocolInfo)
	}
	rawSize, ok := f[KeySize]
	if !ok || rawSize == "" {
		return types.ObjectMetadata{}, fmt.Errorf("%w: %s", ErrMissingResource, KeySize)
	}

	info, err := ParseProtocolInfo(protocolInfo)
	if err != nil {
		return types.ObjectMetadata{}, err
	}
	size, err := strconv.ParseInt(rawSize, 10, 64)
	if err != nil || size < 0 {
		return types.ObjectMetadata{}, fmt.Errorf("%w: size %q is not a byte count", ErrMissingResource, rawSize)
	}

	return types.ObjectMetadata{
		Name:        f[KeyName],
		Date:        f[KeyDate],
		Class:       f[KeyClass],
		MimeType:    info.MimeType,
		MimeSubtype: info.MimeSubtype,
		Size:        size,
	}, nil
}

// ParseRequest runs the whole CreateObject decoding chain on a raw SOAP body
func ParseRequest(body []byte) (types.ObjectMetadata, error) {
	fragment, err := ExtractElements(body)
	if err != nil {
		return types.ObjectMetadata{}, err
	}
	fields, err := Parse(fragment)
	if err != nil {
		return types.ObjectMetadata{}, err
	}
	return fields.Metadata()
}
