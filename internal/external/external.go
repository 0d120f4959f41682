// Package external implements the two thin protocols spec.md §6 describes
// alongside the core DBGp wire: proxy registration (proxyinit/proxystop)
// and Xdebug Cloud relay registration (cloudinit/cloudstop), both framed
// identically to ordinary DBGp traffic (C1) and reusing nothing but that
// framing — there is no transaction pipeline here since each is a single
// synchronous round trip issued once, not a long-lived command stream.
package external

import (
	"encoding/xml"
	"hash/crc32"
	"io"
	"strconv"

	"github.com/dbgpdap/adapter/internal/dbgp"
	"github.com/dbgpdap/adapter/internal/xerr"
)

// proxyReplyXML decodes both proxyinit and proxystop's reply shape (spec
// §6: "reply is <proxy{init,stop} success=\"0|1\"><error id=\"…\"><message>…
// </message></…>").
type proxyReplyXML struct {
	Success string `xml:"success,attr"`
	IdeKey  string `xml:"idekey,attr"`
	Address string `xml:"address,attr"`
	Port    int    `xml:"port,attr"`
	Error   *struct {
		ID      string `xml:"id,attr"`
		Message string `xml:"message"`
	} `xml:"error"`
}

// readOneFrame blocks until a complete DBGp-framed response has arrived on
// r, decoding it with the same incremental frame parser the main
// connection uses (C1).
func readOneFrame(r io.Reader) ([]byte, error) {
	dec := dbgp.NewFrameDecoder()
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			frames, ferr := dec.Feed(buf[:n])
			if ferr != nil {
				return nil, ferr
			}
			if len(frames) > 0 {
				return frames[0], nil
			}
		}
		if err != nil {
			return nil, xerr.Transport(err)
		}
	}
}

func roundTrip(rw io.ReadWriter, command string) (proxyReplyXML, error) {
	if _, err := rw.Write(dbgp.EncodeFrame([]byte(command))); err != nil {
		return proxyReplyXML{}, xerr.Transport(err)
	}
	body, err := readOneFrame(rw)
	if err != nil {
		return proxyReplyXML{}, err
	}
	var reply proxyReplyXML
	if err := xml.Unmarshal(body, &reply); err != nil {
		return proxyReplyXML{}, xerr.ParseErr(err)
	}
	return reply, nil
}

// ProxyRegister issues proxyinit (spec §6: "proxyinit -k <key> -p
// <ide_port> -m <multi-bool>") and reports whether the proxy accepted
// registration.
func ProxyRegister(rw io.ReadWriter, ideKey string, idePort int, allowMultipleSessions bool) (bool, error) {
	multi := "0"
	if allowMultipleSessions {
		multi = "1"
	}
	reply, err := roundTrip(rw, "proxyinit -k "+ideKey+" -p "+strconv.Itoa(idePort)+" -m "+multi)
	if err != nil {
		return false, err
	}
	if reply.Error != nil {
		return false, xerr.Engine(xerr.EngineErrorInfo{Message: reply.Error.Message, Command: "proxyinit"})
	}
	return reply.Success == "1", nil
}

// ProxyDeregister issues proxystop (spec §6: "proxystop -k <key>").
func ProxyDeregister(rw io.ReadWriter, ideKey string) (bool, error) {
	reply, err := roundTrip(rw, "proxystop -k "+ideKey)
	if err != nil {
		return false, err
	}
	if reply.Error != nil {
		return false, xerr.Engine(xerr.EngineErrorInfo{Message: reply.Error.Message, Command: "proxystop"})
	}
	return reply.Success == "1", nil
}

// CloudInit issues cloudinit (spec §6: "cloudinit -i 1 -u <token>").
func CloudInit(rw io.ReadWriter, token string) (bool, error) {
	reply, err := roundTrip(rw, "cloudinit -i 1 -u "+token)
	if err != nil {
		return false, err
	}
	if reply.Error != nil {
		return false, xerr.Engine(xerr.EngineErrorInfo{Message: reply.Error.Message, Command: "cloudinit"})
	}
	return reply.Success == "1", nil
}

// CloudStop issues cloudstop (spec §6: "cloudstop -i 2 -u <token>").
func CloudStop(rw io.ReadWriter, token string) (bool, error) {
	reply, err := roundTrip(rw, "cloudstop -i 2 -u "+token)
	if err != nil {
		return false, err
	}
	if reply.Error != nil {
		return false, xerr.Engine(xerr.EngineErrorInfo{Message: reply.Error.Message, Command: "cloudstop"})
	}
	return reply.Success == "1", nil
}

// cloudHostLetters is the alphabet spec §6's host-selection hash indexes
// into: "the low 4 bits of the 4th byte -> letter a-p".
const cloudHostLetters = "abcdefghijklmnop"

// CloudHost implements spec §6's cloud relay host-selection hash: CRC-32
// of the token, low 4 bits of the CRC's 4th (least significant) byte index
// into a-p, concatenated with ".cloud.xdebug.com".
func CloudHost(token string) string {
	sum := crc32.ChecksumIEEE([]byte(token))
	fourthByte := byte(sum & 0xff)
	letter := cloudHostLetters[fourthByte&0x0f]
	return string(letter) + ".cloud.xdebug.com"
}
