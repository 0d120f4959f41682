package dbgp

import (
	"encoding/base64"
	"encoding/xml"
	"strings"

	"github.com/dbgpdap/adapter/internal/xerr"
)

// ParseErr classifies a reply body that failed to decode as XML.
func ParseErr(cause error) error { return xerr.ParseErr(cause) }

// StatusReply mirrors spec §3's StatusReply: the result of status, run,
// step_into, step_over, step_out and stop.
type StatusReply struct {
	Status    string
	Reason    string
	Command   string
	FileURI   string
	Line      int
	Exception string
}

type statusXML struct {
	XMLName xml.Name `xml:"response"`
	Status  string   `xml:"status,attr"`
	Reason  string   `xml:"reason,attr"`
	Command string   `xml:"command,attr"`
	// message is the (namespace-qualified xdebug:message, or bare message
	// depending on engine) break-location child; encoding/xml matches by
	// local name regardless of prefix, so one field covers both spellings.
	Message struct {
		FileURI   string `xml:"filename,attr"`
		Line      int    `xml:"lineno,attr"`
		Exception string `xml:"exception,attr"`
	} `xml:"message"`
}

// DecodeStatusReply parses the reply to status/run/step_*/stop.
func DecodeStatusReply(body []byte) (StatusReply, error) {
	var x statusXML
	if err := xml.Unmarshal(body, &x); err != nil {
		return StatusReply{}, ParseErr(err)
	}
	return StatusReply{
		Status:    x.Status,
		Reason:    x.Reason,
		Command:   x.Command,
		FileURI:   x.Message.FileURI,
		Line:      x.Message.Line,
		Exception: x.Message.Exception,
	}, nil
}

// BreakpointSetReply is the reply to breakpoint_set (spec §4.4).
type BreakpointSetReply struct {
	EngineID string
	State    string
	Resolved bool
}

type breakpointSetXML struct {
	XMLName  xml.Name `xml:"response"`
	ID       string   `xml:"id,attr"`
	State    string   `xml:"state,attr"`
	Resolved string   `xml:"resolved,attr"`
}

// DecodeBreakpointSetReply parses the reply to breakpoint_set.
func DecodeBreakpointSetReply(body []byte) (BreakpointSetReply, error) {
	var x breakpointSetXML
	if err := xml.Unmarshal(body, &x); err != nil {
		return BreakpointSetReply{}, ParseErr(err)
	}
	return BreakpointSetReply{
		EngineID: x.ID,
		State:    x.State,
		Resolved: x.Resolved == "resolved",
	}, nil
}

// BreakpointGetReply refreshes the engine-resolved location of a breakpoint
// (spec §4.4 "must be refreshed via breakpoint_get").
type BreakpointGetReply struct {
	Line     int
	Resolved bool
}

type breakpointGetXML struct {
	XMLName    xml.Name `xml:"response"`
	Breakpoint struct {
		Line     int    `xml:"lineno,attr"`
		Resolved string `xml:"resolved,attr"`
	} `xml:"breakpoint"`
}

// DecodeBreakpointGetReply parses the reply to breakpoint_get.
func DecodeBreakpointGetReply(body []byte) (BreakpointGetReply, error) {
	var x breakpointGetXML
	if err := xml.Unmarshal(body, &x); err != nil {
		return BreakpointGetReply{}, ParseErr(err)
	}
	return BreakpointGetReply{
		Line:     x.Breakpoint.Line,
		Resolved: x.Breakpoint.Resolved == "resolved",
	}, nil
}

// StackFrameXML is one <stack> entry of a stack_get reply.
type StackFrameXML struct {
	Level    int    `xml:"level,attr"`
	Type     string `xml:"type,attr"`
	Filename string `xml:"filename,attr"`
	Lineno   int    `xml:"lineno,attr"`
	Where    string `xml:"where,attr"`
}

type stackGetXML struct {
	XMLName xml.Name        `xml:"response"`
	Stack   []StackFrameXML `xml:"stack"`
}

// DecodeStackGetReply parses the reply to stack_get.
func DecodeStackGetReply(body []byte) ([]StackFrameXML, error) {
	var x stackGetXML
	if err := xml.Unmarshal(body, &x); err != nil {
		return nil, ParseErr(err)
	}
	return x.Stack, nil
}

// ContextXML is one <context> entry of a context_names reply.
type ContextXML struct {
	Name string `xml:"name,attr"`
	ID   int    `xml:"id,attr"`
}

type contextNamesXML struct {
	XMLName xml.Name     `xml:"response"`
	Context []ContextXML `xml:"context"`
}

// DecodeContextNamesReply parses the reply to context_names.
func DecodeContextNamesReply(body []byte) ([]ContextXML, error) {
	var x contextNamesXML
	if err := xml.Unmarshal(body, &x); err != nil {
		return nil, ParseErr(err)
	}
	return x.Context, nil
}

// PropertyXML is the typed view over a <property> element (spec §4.7). It
// decodes lazily-fetchable children by reparsing the element's own child
// <property> nodes; callers needing further pages issue another
// property_get with -p.
type PropertyXML struct {
	Name        string        `xml:"name,attr"`
	FullName    string        `xml:"fullname,attr"`
	Type        string        `xml:"type,attr"`
	ClassName   string        `xml:"classname,attr"`
	Facet       string        `xml:"facet,attr"`
	Size        int           `xml:"size,attr"`
	NumChildren int           `xml:"numchildren,attr"`
	Children    bool          `xml:"children,attr"`
	Page        int           `xml:"page,attr"`
	PageSize    int           `xml:"pagesize,attr"`
	Encoding    string        `xml:"encoding,attr"`
	Address     string        `xml:"address,attr"`
	Value       string        `xml:",chardata"`
	Nested      []PropertyXML `xml:"property"`
}

// DecodedValue returns Value, transparently base64-decoded when the
// property's encoding attribute says so (spec §4.7).
func (p PropertyXML) DecodedValue() (string, error) {
	if p.Encoding != "base64" {
		return strings.TrimSpace(p.Value), nil
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(p.Value))
	if err != nil {
		return "", ParseErr(err)
	}
	return string(raw), nil
}

// HasFacet reports whether the space-separated facet list contains name.
func (p PropertyXML) HasFacet(name string) bool {
	for _, f := range strings.Fields(p.Facet) {
		if f == name {
			return true
		}
	}
	return false
}

// NeedsPropertyValueFetch reports whether the full value must be fetched
// separately via property_value (spec §4.7: "Large strings whose reported
// size exceeds the returned value length").
func (p PropertyXML) NeedsPropertyValueFetch() bool {
	return p.Size > len(p.Value)
}

type contextGetXML struct {
	XMLName  xml.Name      `xml:"response"`
	Property []PropertyXML `xml:"property"`
}

// DecodeContextGetReply parses the reply to context_get.
func DecodeContextGetReply(body []byte) ([]PropertyXML, error) {
	var x contextGetXML
	if err := xml.Unmarshal(body, &x); err != nil {
		return nil, ParseErr(err)
	}
	return x.Property, nil
}

type propertyGetXML struct {
	XMLName  xml.Name    `xml:"response"`
	Property PropertyXML `xml:"property"`
}

// DecodePropertyGetReply parses the reply to property_get.
func DecodePropertyGetReply(body []byte) (PropertyXML, error) {
	var x propertyGetXML
	if err := xml.Unmarshal(body, &x); err != nil {
		return PropertyXML{}, ParseErr(err)
	}
	return x.Property, nil
}

type propertyValueXML struct {
	XMLName  xml.Name `xml:"response"`
	Encoding string   `xml:"encoding,attr"`
	Value    string   `xml:",chardata"`
}

// DecodePropertyValueReply parses the reply to property_value, returning the
// (already decoded if base64) full value.
func DecodePropertyValueReply(body []byte) (string, error) {
	var x propertyValueXML
	if err := xml.Unmarshal(body, &x); err != nil {
		return "", ParseErr(err)
	}
	if x.Encoding != "base64" {
		return strings.TrimSpace(x.Value), nil
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(x.Value))
	if err != nil {
		return "", ParseErr(err)
	}
	return string(raw), nil
}

// EvalReply is the reply to eval: a Property-shaped result without a
// fully-qualified name, children inlined (spec §3 EvalResult).
type EvalReply struct {
	PropertyXML
}

type evalXML struct {
	XMLName  xml.Name    `xml:"response"`
	Property PropertyXML `xml:"property"`
}

// DecodeEvalReply parses the reply to eval.
func DecodeEvalReply(body []byte) (EvalReply, error) {
	var x evalXML
	if err := xml.Unmarshal(body, &x); err != nil {
		return EvalReply{}, ParseErr(err)
	}
	return EvalReply{PropertyXML: x.Property}, nil
}

type featureGetXML struct {
	XMLName   xml.Name `xml:"response"`
	Supported string   `xml:"supported,attr"`
	Value     string   `xml:",chardata"`
}

// DecodeFeatureGetReply parses the reply to feature_get.
func DecodeFeatureGetReply(body []byte) (supported bool, value string, err error) {
	var x featureGetXML
	if err = xml.Unmarshal(body, &x); err != nil {
		return false, "", ParseErr(err)
	}
	return x.Supported == "1", strings.TrimSpace(x.Value), nil
}

type featureSetXML struct {
	XMLName xml.Name `xml:"response"`
	Success string   `xml:"success,attr"`
}

// DecodeFeatureSetReply parses the reply to feature_set.
func DecodeFeatureSetReply(body []byte) (bool, error) {
	var x featureSetXML
	if err := xml.Unmarshal(body, &x); err != nil {
		return false, ParseErr(err)
	}
	return x.Success == "1", nil
}

type sourceXML struct {
	XMLName xml.Name `xml:"response"`
	Value   string   `xml:",chardata"`
}

// DecodeSourceReply parses the reply to source, base64-decoding the body.
func DecodeSourceReply(body []byte) (string, error) {
	var x sourceXML
	if err := xml.Unmarshal(body, &x); err != nil {
		return "", ParseErr(err)
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(x.Value))
	if err != nil {
		return "", ParseErr(err)
	}
	return string(raw), nil
}

type breakpointListEntryXML struct {
	ID   string `xml:"id,attr"`
	Type string `xml:"type,attr"`
}

type breakpointListXML struct {
	XMLName    xml.Name                 `xml:"response"`
	Breakpoint []breakpointListEntryXML `xml:"breakpoint"`
}

// BreakpointListEntry is one engine-known breakpoint as reported by
// breakpoint_list (SPEC_FULL.md C3 supplement).
type BreakpointListEntry struct {
	EngineID string
	Type     string
}

// DecodeBreakpointListReply parses the reply to breakpoint_list.
func DecodeBreakpointListReply(body []byte) ([]BreakpointListEntry, error) {
	var x breakpointListXML
	if err := xml.Unmarshal(body, &x); err != nil {
		return nil, ParseErr(err)
	}
	out := make([]BreakpointListEntry, len(x.Breakpoint))
	for i, e := range x.Breakpoint {
		out[i] = BreakpointListEntry{EngineID: e.ID, Type: e.Type}
	}
	return out, nil
}

type breakpointResolvedNotifyXML struct {
	XMLName    xml.Name `xml:"notify"`
	Breakpoint struct {
		ID       string `xml:"id,attr"`
		Resolved string `xml:"resolved,attr"`
		Line     int    `xml:"lineno,attr"`
	} `xml:"breakpoint"`
}

// DecodeBreakpointResolvedNotify parses the payload of an unsolicited
// notify_breakpoint_resolved frame (spec §6 "notify with attribute name ∈
// {breakpoint_resolved, user}").
func DecodeBreakpointResolvedNotify(body []byte) (engineID string, line int, err error) {
	var x breakpointResolvedNotifyXML
	if err := xml.Unmarshal(body, &x); err != nil {
		return "", 0, ParseErr(err)
	}
	return x.Breakpoint.ID, x.Breakpoint.Line, nil
}
