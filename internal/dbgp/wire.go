// Package dbgp implements the wire codec, command pipeline, and breakpoint
// serialization of the DBGp protocol (spec §4.1, §4.3, §4.4) — the parts the
// teacher's engine/base.go, engine/response_formats.go and tmc-dbgp/conn.go
// hand-roll with fmt.Sprintf templates and bufio.ReadString(0), generalized
// here into a typed, bidirectional connection with one goroutine reading the
// wire and a mutex serializing outbound commands.
package dbgp

import (
	"bytes"
	"encoding/base64"
	"encoding/xml"
	"strconv"
	"strings"
)

// InitPacket is the unsolicited first frame an engine sends (spec GLOSSARY).
type InitPacket struct {
	XMLName  xml.Name `xml:"init"`
	AppID    string   `xml:"appid,attr"`
	IDEKey   string   `xml:"idekey,attr"`
	Session  string   `xml:"session,attr"`
	Thread   string   `xml:"thread,attr"`
	Parent   string   `xml:"parent,attr"`
	Language string   `xml:"language,attr"`
	FileURI  string   `xml:"fileuri,attr"`
	Engine   struct {
		Version string `xml:"version,attr"`
		Name    string `xml:",chardata"`
	} `xml:"engine"`
}

// ErrorPayload is the <error> child of a DBGp response (spec §4.3).
type ErrorPayload struct {
	Code    int    `xml:"code,attr"`
	Message string `xml:"message"`
}

// ResponseEnvelope is the generic shape of every DBGp <response>. Typed
// decoders (see replies.go) re-parse the raw body for command-specific
// children; this envelope is what the connection's reader uses to route a
// reply to its awaiter and to detect engine errors.
type ResponseEnvelope struct {
	XMLName       xml.Name      `xml:"response"`
	Command       string        `xml:"command,attr"`
	TransactionID int           `xml:"transaction_id,attr"`
	Status        string        `xml:"status,attr"`
	Reason        string        `xml:"reason,attr"`
	Error         *ErrorPayload `xml:"error"`
}

// NotifyEvent is an unsolicited <notify> frame (spec §6): breakpoint_resolved
// or user notifications.
type NotifyEvent struct {
	XMLName xml.Name `xml:"notify"`
	Name    string   `xml:"name,attr"`
	Raw     []byte   `xml:"-"`
}

// StreamEvent is an unsolicited <stream> frame carrying base64 engine stdout
// or stderr.
type StreamEvent struct {
	XMLName xml.Name `xml:"stream"`
	Type    string   `xml:"type,attr"`
	Text    string   `xml:",chardata"`
}

// Decoded returns the base64-decoded stream payload.
func (s StreamEvent) Decoded() ([]byte, error) {
	return base64.StdEncoding.DecodeString(strings.TrimSpace(s.Text))
}

// frameKind classifies a raw frame body by its root element, without a full
// XML unmarshal, so the connection reader can route it cheaply.
func frameKind(body []byte) string {
	d := xml.NewDecoder(bytes.NewReader(body))
	for {
		tok, err := d.Token()
		if err != nil {
			return ""
		}
		if se, ok := tok.(xml.StartElement); ok {
			return se.Name.Local
		}
	}
}

// EncodeCommand serializes a DBGp command line per spec §4.3:
// "<name> -i <tx> [-<flag> <value>]* [-- <base64(data)>]\0" — the trailing
// NUL is added by EncodeFrame, not here.
func EncodeCommand(name string, txID int, flags []KV, data []byte, hasData bool) []byte {
	var b strings.Builder
	b.WriteString(name)
	b.WriteString(" -i ")
	b.WriteString(strconv.Itoa(txID))
	for _, kv := range flags {
		if kv.Value == "" {
			continue
		}
		b.WriteString(" -")
		b.WriteString(kv.Flag)
		b.WriteString(" ")
		b.WriteString(kv.Value)
	}
	if hasData {
		b.WriteString(" -- ")
		b.WriteString(base64.StdEncoding.EncodeToString(data))
	}
	return []byte(b.String())
}
