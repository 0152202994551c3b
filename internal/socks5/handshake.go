// Package socks5 implements just enough of the SOCKS5 protocol to
// redirect a browser's CONNECT traffic to this process: no
// authentication, CONNECT only, every destination address accepted and
// discarded, every successful handshake replied to with
// SUCCESS/0.0.0.0:0.
package socks5

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
)

const (
	socksVersion             byte = 0x05
	noAuthenticationRequired byte = 0x00
	noAcceptableMethods      byte = 0xFF
	commandNotSupported      byte = 0x07
	addressTypeNotSupported  byte = 0x08
	connectCommand           byte = 0x01
	addressTypeIPv4          byte = 0x01
	addressTypeDomainName    byte = 0x03
	addressTypeIPv6          byte = 0x04
)

var (
	noAuthenticationRequiredReply = [2]byte{socksVersion, noAuthenticationRequired}
	noAcceptableMethodsReply      = [2]byte{socksVersion, noAcceptableMethods}
	commandNotSupportedReply      = [2]byte{socksVersion, commandNotSupported}
	addressTypeNotSupportedReply  = [2]byte{socksVersion, addressTypeNotSupported}
	// +----+-----+-------+------+----------+----------+
	// |VER | REP |  RSV  | ATYP | BND.ADDR | BND.PORT |
	// +----+-----+-------+------+----------+----------+
	connectReply = [10]byte{socksVersion, 0, 0, addressTypeIPv4, 0, 0, 0, 0, 0, 0}
)

// Error reports which stage of the handshake failed. Wire-level errors
// (read/write failures) are wrapped rather than boxed in a distinct
// variant, matching the rest of this module's error conventions.
type Error struct {
	Stage string
	Err   error
}

func (e *Error) Error() string { return fmt.Sprintf("socks5 %s: %v", e.Stage, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

var (
	// ErrNoAcceptableMethods is returned when the client does not offer
	// no-authentication as one of its methods.
	ErrNoAcceptableMethods = errors.New("no acceptable socks auth methods, only no authentication is supported")
)

// Handshake runs the SOCKS5 negotiation to completion over conn. On
// success conn is returned unchanged and ready for the caller to layer
// TLS on top of; on failure the appropriate wire-level error reply has
// already been written, if any is defined for that failure.
func Handshake(conn net.Conn) (net.Conn, error) {
	// max possible socks message: 4 header + 1 domain length + 255
	// domain name + 2 port
	var buffer [262]byte

	len0, err := readAtLeastOne(conn, buffer[:])
	if err != nil {
		return nil, &Error{"greeting", err}
	}
	n := len0

	version := buffer[0]
	if version != socksVersion {
		return nil, &Error{"greeting", fmt.Errorf("invalid socks version, expected 5 but got %d", version)}
	}

	if n < 2 {
		more, err := readAtLeastOne(conn, buffer[n:])
		if err != nil {
			return nil, &Error{"greeting", err}
		}
		n += more
	}

	methodsLen := int(buffer[1])
	end := methodsLen + 2
	for n < end {
		more, err := readAtLeastOne(conn, buffer[n:])
		if err != nil {
			return nil, &Error{"greeting", err}
		}
		n += more
	}

	methods := buffer[2:end]
	noAuthRequired := false
	for _, m := range methods {
		if m == noAuthenticationRequired {
			noAuthRequired = true
			break
		}
	}

	if noAuthRequired {
		if _, err := conn.Write(noAuthenticationRequiredReply[:]); err != nil {
			return nil, &Error{"greeting", err}
		}
	} else {
		conn.Write(noAcceptableMethodsReply[:])
		return nil, &Error{"greeting", ErrNoAcceptableMethods}
	}

	// +----+-----+-------+------+----------+----------+
	// |VER | CMD |  RSV  | ATYP | DST.ADDR | DST.PORT |
	// +----+-----+-------+------+----------+----------+
	// bytes read past the greeting already belong to the request
	n = copy(buffer[:], buffer[end:n])
	if n == 0 {
		n, err = readAtLeastOne(conn, buffer[:])
		if err != nil {
			return nil, &Error{"request", err}
		}
	}

	version = buffer[0]
	if version != socksVersion {
		return nil, &Error{"request", fmt.Errorf("invalid socks version, expected 5 but got %d", version)}
	}

	if n < 2 {
		more, err := readAtLeastOne(conn, buffer[n:])
		if err != nil {
			return nil, &Error{"request", err}
		}
		n += more
	}

	command := buffer[1]
	if command != connectCommand {
		conn.Write(commandNotSupportedReply[:])
		return nil, &Error{"request", fmt.Errorf("unsupported socks command %d", command)}
	}

	for n < 4 {
		more, err := readAtLeastOne(conn, buffer[n:])
		if err != nil {
			return nil, &Error{"request", err}
		}
		n += more
	}

	addressType := buffer[3]

	switch addressType {
	case addressTypeIPv4:
		end = 4 + 4 + 2
	case addressTypeDomainName:
		if n < 5 {
			more, err := readAtLeastOne(conn, buffer[n:])
			if err != nil {
				return nil, &Error{"request", err}
			}
			n += more
		}
		domainLen := int(buffer[4])
		end = 4 + 1 + domainLen + 2
	case addressTypeIPv6:
		end = 4 + 16 + 2
	default:
		conn.Write(addressTypeNotSupportedReply[:])
		return nil, &Error{"request", fmt.Errorf("unsupported address type %d", addressType)}
	}

	for n < end {
		more, err := readAtLeastOne(conn, buffer[n:])
		if err != nil {
			return nil, &Error{"request", err}
		}
		n += more
	}

	_ = destinationDescription(addressType, buffer[:], end) // rendered but not used

	// we are capturing all traffic so we don't care what the client
	// asked to connect to, only that we've read the whole request.
	if _, err := conn.Write(connectReply[:]); err != nil {
		return nil, &Error{"request", err}
	}

	return conn, nil
}

// destinationDescription renders the DST.ADDR/DST.PORT the client
// requested as text; nothing logs it, and the destination itself is
// never dialed.
func destinationDescription(addressType byte, buffer []byte, end int) string {
	switch addressType {
	case addressTypeIPv4:
		ip := net.IPv4(buffer[4], buffer[5], buffer[6], buffer[7])
		port := binary.BigEndian.Uint16(buffer[8:10])
		return fmt.Sprintf("%s:%d", ip, port)
	case addressTypeDomainName:
		domain := string(buffer[5 : end-2])
		port := binary.BigEndian.Uint16(buffer[end-2 : end])
		return fmt.Sprintf("%s:%d", domain, port)
	case addressTypeIPv6:
		ip := net.IP(buffer[4:20])
		port := binary.BigEndian.Uint16(buffer[20:22])
		return fmt.Sprintf("[%s]:%d", ip, port)
	default:
		return ""
	}
}

func readAtLeastOne(r io.Reader, buf []byte) (int, error) {
	n, err := r.Read(buf)
	if err != nil {
		return n, err
	}
	if n == 0 {
		return 0, io.ErrUnexpectedEOF
	}
	return n, nil
}
