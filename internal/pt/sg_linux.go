//go:build linux

package pt

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	sgIO            = 0x2285
	sgDxferNone     = -1
	sgDxferToDev    = -2
	sgDxferFromDev  = -3
	samStatGood     = 0x00
	samStatCheckCon = 0x02
	driverSense     = 0x08
)

// sgIOHdr mirrors struct sg_io_hdr from <scsi/sg.h>.
type sgIOHdr struct {
	interfaceID    int32
	dxferDirection int32
	cmdLen         uint8
	mxSBLen        uint8
	iovecCount     uint16
	dxferLen       uint32
	dxferp         unsafe.Pointer
	cmdp           unsafe.Pointer
	sbp            unsafe.Pointer
	timeout        uint32
	flags          uint32
	packID         int32
	usrPtr         unsafe.Pointer
	status         uint8
	maskedStatus   uint8
	msgStatus      uint8
	sbLenWr        uint8
	hostStatus     uint16
	driverStatus   uint16
	resid          int32
	duration       uint32
	info           uint32
}

// sgDevice drives a Linux sg or bsg character device through the SG_IO
// ioctl.
type sgDevice struct {
	fd      int
	path    string
	verbose int
}

// Open opens an sg/bsg node for pass-through access.
func Open(path string, o OpenOpts) (Device, error) {
	flags := unix.O_RDWR | unix.O_NONBLOCK
	if o.ReadOnly {
		flags = unix.O_RDONLY | unix.O_NONBLOCK
	}
	if o.Excl {
		flags |= unix.O_EXCL
	}
	if o.Direct {
		flags |= unix.O_DIRECT
	}
	fd, err := unix.Open(path, flags, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %v: %w", path, err, ErrFileError)
	}
	return &sgDevice{fd: fd, path: path, verbose: o.Verbose}, nil
}

func (d *sgDevice) Close() error {
	return unix.Close(d.fd)
}

// Fd exposes the raw descriptor so block-device cross-checks can
// reuse the same handle.
func (d *sgDevice) Fd() uintptr { return uintptr(d.fd) }

// submit runs one SG_IO round trip and classifies the outcome. Returns
// the residual byte count reported by the device.
func (d *sgDevice) submit(cdb, data, sense []byte, dir int32) (int, error) {
	hdr := sgIOHdr{
		interfaceID:    'S',
		dxferDirection: dir,
		cmdLen:         uint8(len(cdb)),
		mxSBLen:        uint8(len(sense)),
		timeout:        defaultTimeoutSecs * 1000,
		cmdp:           unsafe.Pointer(&cdb[0]),
		sbp:            unsafe.Pointer(&sense[0]),
	}
	if len(data) > 0 {
		hdr.dxferLen = uint32(len(data))
		hdr.dxferp = unsafe.Pointer(&data[0])
	}
	for {
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(d.fd), sgIO,
			uintptr(unsafe.Pointer(&hdr)))
		if errno == unix.EINTR {
			continue
		}
		if errno != 0 {
			return 0, fmt.Errorf("SG_IO on %s: %v: %w", d.path, errno, ErrMediumHard)
		}
		break
	}
	if d.verbose > 3 {
		slog.Debug("SG_IO complete", "path", d.path, "opcode", fmt.Sprintf("0x%x", cdb[0]),
			"status", hdr.status, "host", hdr.hostStatus, "driver", hdr.driverStatus,
			"resid", hdr.resid)
	}
	if hdr.status == samStatGood && hdr.hostStatus == 0 &&
		hdr.driverStatus&^driverSense == 0 {
		return int(hdr.resid), nil
	}
	if hdr.status == samStatCheckCon || hdr.driverStatus&driverSense != 0 {
		if err := categorize(sense[:hdr.sbLenWr]); err != nil {
			return int(hdr.resid), err
		}
		return int(hdr.resid), nil // recovered
	}
	return int(hdr.resid), fmt.Errorf("transport error on %s (host=0x%x driver=0x%x): %w",
		d.path, hdr.hostStatus, hdr.driverStatus, ErrMediumHard)
}

func (d *sgDevice) ReadCapacity() (Capacity, error) {
	sense := make([]byte, senseBufLen)
	resp := make([]byte, rcap10RespLen)
	if _, err := d.submit(buildReadCapacity10Cdb(), resp, sense, sgDxferFromDev); err != nil {
		return Capacity{}, err
	}
	lastLBA := binary.BigEndian.Uint32(resp[0:4])
	cap10 := Capacity{
		Blocks:    int64(lastLBA) + 1,
		BlockSize: int(binary.BigEndian.Uint32(resp[4:8])),
	}
	// Promote to the 16-byte form for big devices and to pick up the
	// protection fields. A failed promotion on a small device keeps
	// the 10-byte answer.
	resp16 := make([]byte, rcap16RespLen)
	if _, err := d.submit(buildReadCapacity16Cdb(rcap16RespLen), resp16, sense,
		sgDxferFromDev); err != nil {
		if lastLBA == maxShortLBA {
			return Capacity{}, err
		}
		return cap10, nil
	}
	c := Capacity{
		Blocks:    int64(binary.BigEndian.Uint64(resp16[0:8])) + 1,
		BlockSize: int(binary.BigEndian.Uint32(resp16[8:12])),
	}
	if resp16[12]&0x1 != 0 { // PROT_EN
		c.ProtType = int(resp16[12]>>1&0x7) + 1
		c.PIExp = int(resp16[13] >> 4 & 0xf)
	}
	return c, nil
}

func (d *sgDevice) Read(buf []byte, lba, blocks int64, opts CmdOpts) (int64, error) {
	cdb, err := buildRWCdb(false, lba, blocks, opts)
	if err != nil {
		return 0, err
	}
	sense := make([]byte, senseBufLen)
	blkSize := len(buf) / int(blocks)
	resid, err := d.submit(cdb, buf, sense, sgDxferFromDev)
	got := blocks - int64((resid+blkSize-1)/blkSize)
	if got < 0 {
		got = 0
	}
	return got, err
}

func (d *sgDevice) Write(buf []byte, lba, blocks int64, opts CmdOpts) error {
	cdb, err := buildRWCdb(true, lba, blocks, opts)
	if err != nil {
		return err
	}
	sense := make([]byte, senseBufLen)
	_, err = d.submit(cdb, buf, sense, sgDxferToDev)
	return err
}

func (d *sgDevice) WriteSame16(block []byte, blockSize int, lba, blocks int64) error {
	cdb := buildWriteSame16Cdb(lba, blocks, true)
	sense := make([]byte, senseBufLen)
	_, err := d.submit(cdb, block[:blockSize], sense, sgDxferToDev)
	return err
}

func (d *sgDevice) SyncCache() error {
	sense := make([]byte, senseBufLen)
	_, err := d.submit(buildSyncCache10Cdb(), nil, sense, sgDxferNone)
	return err
}
