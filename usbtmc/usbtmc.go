/*Package usbtmc implements datagram encoding and decoding for USB Test and
Measurement Class devices, enough to drive a USB function generator or pulse
box as a camera trigger source.

It does not include features to support multi-packet messaging, and thus
assumes your data fits in the remote's buffer.

To send a message:
1.  Allocate a send buffer
2.  Write the header to it
3.  Write your data to it
4.  Ensure that the total transmission size is a multiple of 4 bytes before flushing

To receive a message:
1.  Allocate a receipt buffer
2.  Create a read header and send it on the Out endpoint
3.  Read from the In endpoint

These are implemented as Write() and Read() on the Device type.
*/
package usbtmc

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/google/gousb"

	"github.jpl.nasa.gov/bdube/camacq/trigger"
)

const (
	reserved = 0x00

	msgDevDepOut   = 0x01
	msgRequestIn   = 0x02
	headerLen      = 12
	alignment      = 4
	readBufferSize = 1500
)

// bTagGen is a concurrent-safe bTag generator.  Tags run 1..255 and skip 0.
type bTagGen struct {
	sync.Mutex

	value byte
}

func (b *bTagGen) next() byte {
	b.Lock()
	defer b.Unlock()
	b.value++
	if b.value == 0 {
		b.value = 1
	}
	return b.value
}

// invbTag computes the bitwise inversion of a btag, USBTMC table 1 offset 2
func invbTag(b byte) byte {
	return b ^ 0xff
}

// encBulkOutHeader creates the DEV_DEP_MSG_OUT header, USBTMC table 3
func encBulkOutHeader(tag byte, datalen int) [headerLen]byte {
	out := [headerLen]byte{}
	out[0] = msgDevDepOut
	out[1] = tag
	out[2] = invbTag(tag)
	out[3] = reserved
	binary.LittleEndian.PutUint32(out[4:8], uint32(datalen))
	out[8] = 0x01 // EOM
	return out
}

// encBulkInHeader creates the REQUEST_DEV_DEP_MSG_IN header, USBTMC table 4.
// if terminator is nil, the device is told to ignore the term char
func encBulkInHeader(tag byte, bufsize int, terminator *byte) [headerLen]byte {
	out := [headerLen]byte{}
	out[0] = msgRequestIn
	out[1] = tag
	out[2] = invbTag(tag)
	out[3] = reserved
	binary.LittleEndian.PutUint32(out[4:8], uint32(bufsize))
	if terminator != nil {
		out[8] = 0x02
		out[9] = *terminator
	}
	return out
}

// pad extends b with zeros to a multiple of the USBTMC alignment
func pad(b []byte) []byte {
	if residual := len(b) % alignment; residual > 0 {
		b = append(b, make([]byte, alignment-residual)...)
	}
	return b
}

// Device is a USBTMC instrument on the bulk endpoints
type Device struct {
	tagger bTagGen
	ctx    *gousb.Context
	in     *gousb.InEndpoint
	out    *gousb.OutEndpoint
	device *gousb.Device
	closer func()

	mu sync.Mutex
}

// Open opens the first device matching vendor and product ID
func Open(vid, pid uint16) (*Device, error) {
	d := &Device{ctx: gousb.NewContext()}
	var err error
	d.device, err = d.ctx.OpenDeviceWithVIDPID(gousb.ID(vid), gousb.ID(pid))
	if err != nil {
		d.ctx.Close()
		return nil, err
	}
	if d.device == nil {
		d.ctx.Close()
		return nil, fmt.Errorf("no USB device %04x:%04x", vid, pid)
	}
	if err = d.device.SetAutoDetach(true); err != nil {
		d.release()
		return nil, err
	}
	var iface *gousb.Interface
	iface, d.closer, err = d.device.DefaultInterface()
	if err != nil {
		d.release()
		return nil, err
	}
	if d.in, err = iface.InEndpoint(2); err != nil {
		d.release()
		return nil, err
	}
	if d.out, err = iface.OutEndpoint(2); err != nil {
		d.release()
		return nil, err
	}
	return d, nil
}

func (d *Device) release() {
	if d.closer != nil {
		d.closer()
	}
	if d.device != nil {
		d.device.Close()
	}
	d.ctx.Close()
}

// Write sends one message
func (d *Device) Write(b []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.write(b)
}

func (d *Device) write(b []byte) error {
	hdr := encBulkOutHeader(d.tagger.next(), len(b))
	msg := pad(append(hdr[:], b...))
	_, err := d.out.Write(msg)
	return err
}

// Read requests and returns one message, with the header stripped
func (d *Device) Read() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.read()
}

func (d *Device) read() ([]byte, error) {
	term := byte('\n')
	hdr := encBulkInHeader(d.tagger.next(), readBufferSize, &term)
	n, err := d.out.Write(hdr[:])
	if err != nil {
		return nil, err
	}
	if n < headerLen {
		m, err := d.out.Write(hdr[n:])
		if err != nil {
			return nil, err
		}
		if n+m != headerLen {
			return nil, fmt.Errorf("wrote %d bytes, not full %d required to transmit read request", n+m, headerLen)
		}
	}
	buf := make([]byte, readBufferSize)
	n, err = d.in.Read(buf)
	if err != nil {
		return nil, err
	}
	if n < headerLen {
		return nil, fmt.Errorf("only received %d bytes, need at least %d to form header", n, headerLen)
	}
	return buf[headerLen:n], nil
}

// SetProperty implements trigger.Device.  A trigger pulse is sent as the
// IEEE 488.2 *TRG command; any other property is sent as "name value".
func (d *Device) SetProperty(name, value string) error {
	if name == trigger.PropTrigger && value == trigger.Pulse {
		return d.Write([]byte("*TRG\n"))
	}
	return d.Write([]byte(name + " " + value + "\n"))
}

// Close closes the device
func (d *Device) Close() error {
	d.release()
	return nil
}
