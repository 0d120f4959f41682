package session_test

import (
	"encoding/base64"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/dbgpdap/adapter/internal/dbgp"
)

// cannedFunc computes one response body for a command the fake engine
// received, given its transaction id, flags, and (if any) base64-decoded
// inline data.
type cannedFunc func(txID int, flags map[string]string, data []byte) string

// fakeEngine plays the engine side of a DBGp connection over an in-memory
// net.Pipe, the way a real Xdebug/PHP process would: one init frame up
// front, then one response per received command. Tests queue specific
// responses for the commands they care about (run/step_*, mostly) and
// fall back to generic defaults for the rest of the bootstrap traffic.
type fakeEngine struct {
	conn net.Conn

	mu       sync.Mutex
	queues   map[string][]cannedFunc
	defaults map[string]cannedFunc
	unknown  []string
}

func newFakeEngine(conn net.Conn) *fakeEngine {
	fe := &fakeEngine{conn: conn, queues: make(map[string][]cannedFunc)}
	fe.defaults = map[string]cannedFunc{
		"feature_get": func(txID int, _ map[string]string, _ []byte) string {
			return fmt.Sprintf(`<response xmlns="urn:debugger_protocol_v1" command="feature_get" transaction_id="%d" supported="0"></response>`, txID)
		},
		"feature_set": func(txID int, _ map[string]string, _ []byte) string {
			return fmt.Sprintf(`<response xmlns="urn:debugger_protocol_v1" command="feature_set" transaction_id="%d" success="1"></response>`, txID)
		},
		"stdout": func(txID int, _ map[string]string, _ []byte) string {
			return fmt.Sprintf(`<response xmlns="urn:debugger_protocol_v1" command="stdout" transaction_id="%d" success="1"></response>`, txID)
		},
		"stop": func(txID int, _ map[string]string, _ []byte) string {
			return fmt.Sprintf(`<response xmlns="urn:debugger_protocol_v1" command="stop" transaction_id="%d" status="stopped" reason="ok"></response>`, txID)
		},
		"breakpoint_set": func(txID int, _ map[string]string, _ []byte) string {
			return fmt.Sprintf(`<response xmlns="urn:debugger_protocol_v1" command="breakpoint_set" transaction_id="%d" id="bp1" state="enabled" resolved="resolved"></response>`, txID)
		},
		"breakpoint_get": func(txID int, _ map[string]string, _ []byte) string {
			return fmt.Sprintf(`<response xmlns="urn:debugger_protocol_v1" command="breakpoint_get" transaction_id="%d"><breakpoint lineno="10" resolved="resolved"/></response>`, txID)
		},
		"breakpoint_remove": func(txID int, _ map[string]string, _ []byte) string {
			return fmt.Sprintf(`<response xmlns="urn:debugger_protocol_v1" command="breakpoint_remove" transaction_id="%d"></response>`, txID)
		},
		"breakpoint_list": func(txID int, _ map[string]string, _ []byte) string {
			return fmt.Sprintf(`<response xmlns="urn:debugger_protocol_v1" command="breakpoint_list" transaction_id="%d"></response>`, txID)
		},
		"context_names": func(txID int, _ map[string]string, _ []byte) string {
			return fmt.Sprintf(`<response xmlns="urn:debugger_protocol_v1" command="context_names" transaction_id="%d"><context name="Locals" id="0"/></response>`, txID)
		},
		"context_get": func(txID int, _ map[string]string, _ []byte) string {
			return fmt.Sprintf(`<response xmlns="urn:debugger_protocol_v1" command="context_get" transaction_id="%d"><property name="x" fullname="$x" type="int">42</property></response>`, txID)
		},
		"property_get": func(txID int, flags map[string]string, _ []byte) string {
			return fmt.Sprintf(`<response xmlns="urn:debugger_protocol_v1" command="property_get" transaction_id="%d"><property name="%s" fullname="%s" type="int">42</property></response>`, txID, flags["n"], flags["n"])
		},
		"property_set": func(txID int, _ map[string]string, _ []byte) string {
			return fmt.Sprintf(`<response xmlns="urn:debugger_protocol_v1" command="property_set" transaction_id="%d" success="1"></response>`, txID)
		},
		"stack_get": func(txID int, _ map[string]string, _ []byte) string {
			return fmt.Sprintf(`<response xmlns="urn:debugger_protocol_v1" command="stack_get" transaction_id="%d"><stack level="0" type="file" filename="file:///app/index.php" lineno="10" where="{main}"/></response>`, txID)
		},
		"eval": func(txID int, _ map[string]string, _ []byte) string {
			return fmt.Sprintf(`<response xmlns="urn:debugger_protocol_v1" command="eval" transaction_id="%d"><property type="int">42</property></response>`, txID)
		},
		"source": func(txID int, _ map[string]string, _ []byte) string {
			encoded := base64.StdEncoding.EncodeToString([]byte("<?php\necho 1;\n"))
			return fmt.Sprintf(`<response xmlns="urn:debugger_protocol_v1" command="source" transaction_id="%d">%s</response>`, txID, encoded)
		},
	}
	return fe
}

// queue appends a one-shot response for the named command, consumed in
// FIFO order ahead of any default.
func (fe *fakeEngine) queue(name string, fn cannedFunc) {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	fe.queues[name] = append(fe.queues[name], fn)
}

// statusReply is a convenience cannedFunc builder for run/step_* replies.
func statusReply(command, status, reason, fileURI string, line int) cannedFunc {
	return func(txID int, _ map[string]string, _ []byte) string {
		return fmt.Sprintf(
			`<response xmlns="urn:debugger_protocol_v1" xmlns:xdebug="http://xdebug.org/dbgp/xdebug" command="%s" transaction_id="%d" status="%s" reason="%s"><xdebug:message filename="%s" lineno="%d"/></response>`,
			command, txID, status, reason, fileURI, line)
	}
}

func (fe *fakeEngine) writeInit(fileURI, version string) {
	body := fmt.Sprintf(`<init xmlns="urn:debugger_protocol_v1" appid="1" idekey="test" session="" thread="1" parent="" language="PHP" fileuri="%s"><engine version="%s">Xdebug</engine></init>`, fileURI, version)
	fe.conn.Write(dbgp.EncodeFrame([]byte(body)))
}

// serve reads commands until the pipe closes, replying to each from the
// queued or default handler table. Run it in its own goroutine.
func (fe *fakeEngine) serve() {
	dec := dbgp.NewFrameDecoder()
	buf := make([]byte, 4096)
	for {
		n, err := fe.conn.Read(buf)
		if n > 0 {
			frames, ferr := dec.Feed(buf[:n])
			if ferr != nil {
				return
			}
			for _, f := range frames {
				fe.handle(string(f))
			}
		}
		if err != nil {
			return
		}
	}
}

func (fe *fakeEngine) handle(raw string) {
	name, txID, flags, data := parseCommand(raw)

	fe.mu.Lock()
	var fn cannedFunc
	if q := fe.queues[name]; len(q) > 0 {
		fn = q[0]
		fe.queues[name] = q[1:]
	} else if d, ok := fe.defaults[name]; ok {
		fn = d
	} else {
		fe.unknown = append(fe.unknown, name)
	}
	fe.mu.Unlock()

	if fn == nil {
		return
	}
	fe.conn.Write(dbgp.EncodeFrame([]byte(fn(txID, flags, data))))
}

// parseCommand splits a DBGp command line ("name -i txid [-flag value]* [--
// b64data]") back into its parts, mirroring EncodeCommand's own format.
func parseCommand(raw string) (name string, txID int, flags map[string]string, data []byte) {
	flags = make(map[string]string)
	main := raw
	if idx := strings.Index(raw, " -- "); idx >= 0 {
		main = raw[:idx]
		data, _ = base64.StdEncoding.DecodeString(raw[idx+4:])
	}
	fields := strings.Fields(main)
	if len(fields) == 0 {
		return "", 0, flags, data
	}
	name = fields[0]
	for i := 1; i+1 < len(fields); i += 2 {
		if !strings.HasPrefix(fields[i], "-") {
			break
		}
		flag := strings.TrimPrefix(fields[i], "-")
		value := fields[i+1]
		if flag == "i" {
			txID, _ = strconv.Atoi(value)
		} else {
			flags[flag] = value
		}
	}
	return name, txID, flags, data
}
