package pt

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildRWCdbSizes(t *testing.T) {
	tests := []struct {
		name    string
		write   bool
		size    int
		lba     int64
		blocks  int64
		wantOp  byte
		wantLen int
	}{
		{"read6", false, 6, 0x1234, 16, opRead6, 6},
		{"write6", true, 6, 0x1234, 16, opWrite6, 6},
		{"read10", false, 10, 0x12345678, 128, opRead10, 10},
		{"write10", true, 10, 0x12345678, 128, opWrite10, 10},
		{"read12", false, 12, 0x12345678, 0x10000, opRead12, 12},
		{"read16", false, 16, 1 << 40, 128, opRead16, 16},
		{"write16", true, 16, 1 << 40, 128, opWrite16, 16},
		{"read32", false, 32, 1 << 40, 128, opVariableLen, 32},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cdb, err := buildRWCdb(tt.write, tt.lba, tt.blocks, CmdOpts{CdbSize: tt.size})
			require.NoError(t, err)
			assert.Equal(t, tt.wantOp, cdb[0])
			assert.Len(t, cdb, tt.wantLen)
		})
	}
}

func TestBuildRWCdb16Fields(t *testing.T) {
	cdb, err := buildRWCdb(false, 0x123456789a, 0x2000, CmdOpts{
		CdbSize: 16, DPO: true, FUA: true, Protect: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(0x123456789a), binary.BigEndian.Uint64(cdb[2:10]))
	assert.Equal(t, uint32(0x2000), binary.BigEndian.Uint32(cdb[10:14]))
	// protect=3 in the top three bits, dpo and fua below.
	assert.Equal(t, byte(3<<5|0x10|0x8), cdb[1])
}

func TestBuildRWCdbRangeChecks(t *testing.T) {
	_, err := buildRWCdb(false, 1<<22, 1, CmdOpts{CdbSize: 6})
	assert.ErrorIs(t, err, ErrSyntax)

	_, err = buildRWCdb(false, 1<<33, 1, CmdOpts{CdbSize: 10})
	assert.ErrorIs(t, err, ErrSyntax)

	_, err = buildRWCdb(false, 0, 1<<17, CmdOpts{CdbSize: 10})
	assert.ErrorIs(t, err, ErrSyntax)

	_, err = buildRWCdb(false, 0, 0, CmdOpts{CdbSize: 10})
	assert.ErrorIs(t, err, ErrSyntax)

	_, err = buildRWCdb(false, 0, 1, CmdOpts{CdbSize: 8})
	assert.ErrorIs(t, err, ErrSyntax)
}

func TestBuildWriteSame16Cdb(t *testing.T) {
	cdb := buildWriteSame16Cdb(0x1000, 256, true)
	assert.Equal(t, byte(opWriteSame16), cdb[0])
	assert.Equal(t, byte(wsUnmapBit), cdb[1])
	assert.Equal(t, uint64(0x1000), binary.BigEndian.Uint64(cdb[2:10]))
	assert.Equal(t, uint32(256), binary.BigEndian.Uint32(cdb[10:14]))
}

func TestCategorize(t *testing.T) {
	fixed := func(key byte) []byte {
		b := make([]byte, 18)
		b[0] = 0x70
		b[2] = key
		return b
	}
	tests := []struct {
		key  byte
		want error
	}{
		{senseNoSense, nil},
		{senseRecovered, nil},
		{senseNotReady, ErrNotReady},
		{senseMediumError, ErrMediumHard},
		{senseHardwareError, ErrMediumHard},
		{senseIllegalRequest, ErrIllegalReq},
		{senseUnitAttention, ErrUnitAttention},
		{senseDataProtect, ErrProtection},
		{senseAbortedCommand, ErrAborted},
	}
	for _, tt := range tests {
		err := categorize(fixed(tt.key))
		if tt.want == nil {
			assert.NoError(t, err)
		} else {
			assert.ErrorIs(t, err, tt.want)
		}
	}

	// descriptor format puts the key in byte 1
	desc := make([]byte, 18)
	desc[0] = 0x72
	desc[1] = senseUnitAttention
	assert.ErrorIs(t, categorize(desc), ErrUnitAttention)
}

func TestCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, CodeOK},
		{ErrSyntax, CodeSyntax},
		{ErrNotReady, CodeNotReady},
		{ErrMediumHard, CodeMediumHard},
		{ErrIllegalReq, CodeIllegalReq},
		{ErrUnitAttention, CodeUnitAttention},
		{ErrProtection, CodeProtection},
		{ErrProtectionInfo, CodeProtectionInfo},
		{ErrInvalidOp, CodeInvalidOp},
		{ErrAborted, CodeAborted},
		{ErrFileError, CodeFileError},
		{ErrFlock, CodeFlock},
		{assert.AnError, CodeOther},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Code(tt.err))
	}
}
