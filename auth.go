package dbus

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

/*
authExternal performs EXTERNAL authentication,
see https://dbus.freedesktop.org/doc/dbus-specification.html#auth-protocol.
The protocol is line-based, where each line ends with \r\n.

	client: AUTH EXTERNAL 31303030
	server: OK bde8d2222a9e966420ee8c1a63e972b4
	client: BEGIN

The client is authenticating as Unix uid 1000 in this example,
where 31303030 is ASCII decimal 1000 represented in hex.
No D-Bus messages may be exchanged until BEGIN has been written.
*/
func authExternal(rw io.ReadWriter) error {
	uid := strconv.Itoa(os.Geteuid())
	req := fmt.Sprintf("AUTH EXTERNAL %s\r\n", hex.EncodeToString([]byte(uid)))
	if _, err := io.WriteString(rw, req); err != nil {
		return &AuthError{Reason: "send AUTH EXTERNAL", Err: err}
	}

	line, err := readAuthLine(rw)
	if err != nil {
		return &AuthError{Reason: "read AUTH reply", Err: err}
	}
	if !strings.HasPrefix(line, "OK") {
		return &AuthError{Reason: fmt.Sprintf("server rejected EXTERNAL auth: %q", line)}
	}

	if _, err := io.WriteString(rw, "BEGIN\r\n"); err != nil {
		return &AuthError{Reason: "send BEGIN", Err: err}
	}
	return nil
}

// readAuthLine reads one CR-LF terminated line, one byte at a time. The
// auth exchange shares a connection with the binary message stream that
// follows BEGIN, so nothing here may use a buffering reader that could
// read ahead past the line and swallow the first message's bytes.
func readAuthLine(r io.Reader) (string, error) {
	var line []byte
	var b [1]byte
	for {
		n, err := r.Read(b[:])
		if err != nil {
			return "", err
		}
		if n == 0 {
			continue
		}
		line = append(line, b[0])
		if len(line) >= 2 && line[len(line)-2] == '\r' && line[len(line)-1] == '\n' {
			return string(line[:len(line)-2]), nil
		}
	}
}
