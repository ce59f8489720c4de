// Package protocol holds the DBGp packet and command model: command line
// rendering, XML packet classification and the failure kinds shared by the
// engine.
package protocol

import (
	"bytes"
	"encoding/base64"
	"encoding/xml"
	"io"
	"strings"

	"github.com/go-pantheon/fabrica-util/errors"
	"golang.org/x/net/html/charset"
)

type Kind string

const (
	KindInit     Kind = "init"
	KindResponse Kind = "response"
	KindStream   Kind = "stream"
	KindNotify   Kind = "notify"
)

// Packet is a parsed engine to IDE frame.
type Packet interface {
	Kind() Kind
	// Body is the raw XML the packet was parsed from.
	Body() []byte
}

// Parse classifies body by its root element and decodes it. The returned
// packet keeps its own copy of body.
func Parse(body []byte) (Packet, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, ErrEmptyPacket
	}

	root, err := rootName(body)
	if err != nil {
		return nil, err
	}

	raw := bytes.Clone(body)

	switch Kind(root) {
	case KindInit:
		p := &Init{raw: raw}
		if err := unmarshal(raw, p); err != nil {
			return nil, errors.Wrap(err, "decode init packet failed")
		}

		return p, nil
	case KindResponse:
		p := &Response{raw: raw}
		if err := unmarshal(raw, p); err != nil {
			return nil, errors.Wrap(err, "decode response packet failed")
		}

		return p, nil
	case KindStream:
		p := &Stream{raw: raw}
		if err := unmarshal(raw, p); err != nil {
			return nil, errors.Wrap(err, "decode stream packet failed")
		}

		return p, nil
	case KindNotify:
		p := &Notify{raw: raw}
		if err := unmarshal(raw, p); err != nil {
			return nil, errors.Wrap(err, "decode notify packet failed")
		}

		return p, nil
	default:
		return nil, errors.Wrapf(ErrUnknownPacket, "root=%s", root)
	}
}

// newDecoder accepts the non UTF-8 encodings engines declare in the XML
// prolog, iso-8859-1 being the common one.
func newDecoder(body []byte) *xml.Decoder {
	d := xml.NewDecoder(bytes.NewReader(body))
	d.CharsetReader = charset.NewReaderLabel

	return d
}

func unmarshal(body []byte, v any) error {
	return newDecoder(body).Decode(v)
}

func rootName(body []byte) (string, error) {
	d := newDecoder(body)

	for {
		tok, err := d.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return "", ErrEmptyPacket
			}

			return "", errors.Wrap(err, "read packet root failed")
		}

		if se, ok := tok.(xml.StartElement); ok {
			return se.Name.Local, nil
		}
	}
}

// Init is the greeting the engine sends right after connecting.
type Init struct {
	XMLName         xml.Name `xml:"init"`
	ApplicationID   string   `xml:"appid,attr"`
	IDEKey          string   `xml:"idekey,attr"`
	SessionID       string   `xml:"session,attr"`
	ThreadID        string   `xml:"thread,attr"`
	ParentID        string   `xml:"parent,attr"`
	Language        string   `xml:"language,attr"`
	ProtocolVersion string   `xml:"protocol_version,attr"`
	FileURI         string   `xml:"fileuri,attr"`
	Engine          struct {
		Version string `xml:"version,attr"`
		Name    string `xml:",chardata"`
	} `xml:"engine"`

	raw []byte
}

func (p *Init) Kind() Kind   { return KindInit }
func (p *Init) Body() []byte { return p.raw }

// Stream is a copy of the debugged program's stdout or stderr.
type Stream struct {
	XMLName  xml.Name `xml:"stream"`
	Type     string   `xml:"type,attr"`
	Encoding string   `xml:"encoding,attr"`
	Content  string   `xml:",chardata"`

	raw []byte
}

func (p *Stream) Kind() Kind   { return KindStream }
func (p *Stream) Body() []byte { return p.raw }

// Text returns the decoded stream content.
func (p *Stream) Text() (string, error) {
	return decodeText(p.Encoding, p.Content)
}

// Notify is an asynchronous event the engine raises on its own.
type Notify struct {
	XMLName  xml.Name `xml:"notify"`
	Name     string   `xml:"name,attr"`
	Encoding string   `xml:"encoding,attr"`
	Content  string   `xml:",chardata"`
	Inner    []byte   `xml:",innerxml"`

	raw []byte
}

func (p *Notify) Kind() Kind   { return KindNotify }
func (p *Notify) Body() []byte { return p.raw }

func (p *Notify) Text() (string, error) {
	return decodeText(p.Encoding, p.Content)
}

func decodeText(encoding, content string) (string, error) {
	if encoding != "base64" {
		return content, nil
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(content))
	if err != nil {
		return "", errors.Wrap(err, "decode base64 content failed")
	}

	return string(raw), nil
}
