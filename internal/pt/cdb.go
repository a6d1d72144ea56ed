package pt

import (
	"encoding/binary"
	"fmt"
)

// SCSI opcodes used by the copy engine. Codes are in the SBC-3 and
// SPC-4 specs; sense codes at www.t10.org/lists/asc-num.txt.
const (
	opRead6            = 0x08
	opWrite6           = 0x0a
	opRead10           = 0x28
	opWrite10          = 0x2a
	opSyncCache10      = 0x35
	opRead12           = 0xa8
	opWrite12          = 0xaa
	opRead16           = 0x88
	opWrite16          = 0x8a
	opWriteSame16      = 0x93
	opVariableLen      = 0x7f
	opReadCapacity10   = 0x25
	opServiceActionIn  = 0x9e
	saReadCapacity16   = 0x10
	srvActRead32       = 0x0009
	srvActWrite32      = 0x000b
	wsUnmapBit         = 0x8
	maxShortLBA        = 0xffffffff
	maxShortBlocks     = 0xffff
	rcap16RespLen      = 32
	rcap10RespLen      = 8
	senseBufLen        = 64
	defaultTimeoutSecs = 60
)

// buildRWCdb builds a READ or WRITE CDB of the requested size.
// dpo/fua/fua_nv/rarc and the protect field are folded in where the
// command format has room for them; the 6-byte format has none.
func buildRWCdb(write bool, lba, blocks int64, o CmdOpts) ([]byte, error) {
	if blocks <= 0 {
		return nil, fmt.Errorf("non-positive block count %d: %w", blocks, ErrSyntax)
	}
	var flags byte
	if o.DPO {
		flags |= 0x10
	}
	if o.FUA {
		flags |= 0x8
	}
	if o.FUANV {
		flags |= 0x2
	}
	if o.RARC && !write {
		flags |= 0x4
	}
	flags |= byte(o.Protect&0x7) << 5

	switch o.CdbSize {
	case 6:
		if lba > 0x1fffff || blocks > 256 {
			return nil, fmt.Errorf("lba/count too large for 6-byte cdb: %w", ErrSyntax)
		}
		cdb := make([]byte, 6)
		if write {
			cdb[0] = opWrite6
		} else {
			cdb[0] = opRead6
		}
		cdb[1] = byte(lba >> 16 & 0x1f)
		cdb[2] = byte(lba >> 8)
		cdb[3] = byte(lba)
		cdb[4] = byte(blocks & 0xff) // 0 means 256
		return cdb, nil
	case 10:
		if lba > maxShortLBA || blocks > maxShortBlocks {
			return nil, fmt.Errorf("lba/count too large for 10-byte cdb: %w", ErrSyntax)
		}
		cdb := make([]byte, 10)
		if write {
			cdb[0] = opWrite10
		} else {
			cdb[0] = opRead10
		}
		cdb[1] = flags
		binary.BigEndian.PutUint32(cdb[2:6], uint32(lba))
		binary.BigEndian.PutUint16(cdb[7:9], uint16(blocks))
		return cdb, nil
	case 12:
		if lba > maxShortLBA {
			return nil, fmt.Errorf("lba too large for 12-byte cdb: %w", ErrSyntax)
		}
		cdb := make([]byte, 12)
		if write {
			cdb[0] = opWrite12
		} else {
			cdb[0] = opRead12
		}
		cdb[1] = flags
		binary.BigEndian.PutUint32(cdb[2:6], uint32(lba))
		binary.BigEndian.PutUint32(cdb[6:10], uint32(blocks))
		return cdb, nil
	case 16:
		cdb := make([]byte, 16)
		if write {
			cdb[0] = opWrite16
		} else {
			cdb[0] = opRead16
		}
		cdb[1] = flags
		binary.BigEndian.PutUint64(cdb[2:10], uint64(lba))
		binary.BigEndian.PutUint32(cdb[10:14], uint32(blocks))
		return cdb, nil
	case 32:
		cdb := make([]byte, 32)
		cdb[0] = opVariableLen
		cdb[7] = 0x18 // additional cdb length
		var sa uint16 = srvActRead32
		if write {
			sa = srvActWrite32
		}
		binary.BigEndian.PutUint16(cdb[8:10], sa)
		cdb[10] = flags
		binary.BigEndian.PutUint64(cdb[12:20], uint64(lba))
		binary.BigEndian.PutUint32(cdb[28:32], uint32(blocks))
		return cdb, nil
	default:
		return nil, fmt.Errorf("bad cdb size %d: %w", o.CdbSize, ErrSyntax)
	}
}

func buildWriteSame16Cdb(lba, blocks int64, unmap bool) []byte {
	cdb := make([]byte, 16)
	cdb[0] = opWriteSame16
	if unmap {
		cdb[1] = wsUnmapBit
	}
	binary.BigEndian.PutUint64(cdb[2:10], uint64(lba))
	binary.BigEndian.PutUint32(cdb[10:14], uint32(blocks))
	return cdb
}

func buildReadCapacity10Cdb() []byte {
	cdb := make([]byte, 10)
	cdb[0] = opReadCapacity10
	return cdb
}

func buildReadCapacity16Cdb(respLen int) []byte {
	cdb := make([]byte, 16)
	cdb[0] = opServiceActionIn
	cdb[1] = saReadCapacity16
	binary.BigEndian.PutUint32(cdb[10:14], uint32(respLen))
	return cdb
}

func buildSyncCache10Cdb() []byte {
	cdb := make([]byte, 10)
	cdb[0] = opSyncCache10
	return cdb
}
