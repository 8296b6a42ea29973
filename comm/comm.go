/*Package comm provides connection management for devices reached over TCP or
RS232, such as external trigger sources.

Most usages of this package will boil down to:
	1.  make a CreationFunc with Maker, which dials with backoff
	2.  wrap it in a Pool so connections are reused and reclaimed when idle
	3.  Get a connection, SendRecv on it, and Put it back (or Destroy it if
		it went bad)

A minimal example for a device that responds to "RD?" with a reading:

	pool := comm.NewPool(1, 10*time.Second, comm.Maker("192.168.100.3:2001", false, 0))
	conn, err := pool.Get()
	if err != nil {
		return err
	}
	resp, err := comm.SendRecv(conn, []byte("RD?"), comm.CR)
	if err != nil {
		pool.Destroy(conn)
		return err
	}
	pool.Put(conn)
*/
package comm

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/tarm/serial"
)

// CR is the carriage return, the default terminator for most lab hardware
const CR = byte('\r')

var (
	// ErrNotConnected is generated when SendRecv is called with a nil conn
	ErrNotConnected = errors.New("conn is nil, not connected to remote")

	// ErrTerminatorNotFound is generated when the termination byte is not found in a response
	ErrTerminatorNotFound = errors.New("termination byte not found")
)

// Maker returns a CreationFunc that dials addr, over serial if isSerial is
// true, retrying with exponential backoff for up to three seconds.  baud is
// ignored for TCP.
func Maker(addr string, isSerial bool, baud int) CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		return open(addr, isSerial, baud)
	}
}

func open(addr string, isSerial bool, baud int) (io.ReadWriteCloser, error) {
	// trigger boxes do not like being connection thrashed
	var conn io.ReadWriteCloser
	wasTimeout := false
	op := func() error {
		c, err := dial(addr, isSerial, baud)
		if err != nil {
			errS := strings.ToLower(err.Error())
			if strings.Contains(errS, "refused") {
				return backoff.Permanent(err)
			}
			wasTimeout = true
			return err
		}
		wasTimeout = false
		conn = c
		return nil
	}

	err := backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      3 * time.Second,
		Clock:               backoff.SystemClock})
	if err == nil {
		return conn, nil
	}
	if wasTimeout {
		return nil, fmt.Errorf("connection timeout to %s: %w", addr, err)
	}
	return nil, err
}

func dial(addr string, isSerial bool, baud int) (io.ReadWriteCloser, error) {
	if isSerial {
		return serial.OpenPort(SerialConf(addr, baud))
	}
	return TCPSetup(addr, 3*time.Second)
}

// SerialConf is the 8N1 configuration used for RS232 devices
func SerialConf(addr string, baud int) *serial.Config {
	if baud == 0 {
		baud = 9600
	}
	return &serial.Config{
		Name:        addr,
		Baud:        baud,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: 1 * time.Second}
}

// TCPSetup opens a new TCP connection and sets a timeout on connect, read, and write
func TCPSetup(addr string, timeout time.Duration) (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	deadline := time.Now().Add(timeout)
	conn.SetReadDeadline(deadline)
	conn.SetWriteDeadline(deadline)
	return conn, nil
}

// SendRecv writes msg followed by term, then reads a reply up to term and
// returns it with the terminator stripped
func SendRecv(rw io.ReadWriter, msg []byte, term byte) ([]byte, error) {
	if rw == nil {
		return nil, ErrNotConnected
	}
	if conn, ok := rw.(net.Conn); ok {
		// pooled conns outlive the deadline set by TCPSetup
		deadline := time.Now().Add(3 * time.Second)
		conn.SetDeadline(deadline)
	}
	b := make([]byte, 0, len(msg)+1)
	b = append(b, msg...)
	b = append(b, term)
	if _, err := rw.Write(b); err != nil {
		return nil, err
	}
	buf, err := bufio.NewReader(rw).ReadBytes(term)
	if err != nil {
		if len(buf) > 0 && err == io.EOF {
			return buf, ErrTerminatorNotFound
		}
		return nil, err
	}
	return bytes.TrimSuffix(buf, []byte{term}), nil
}
