package canmon

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseSLCANStandardFrame(t *testing.T) {
	frame, err := parseSLCANLine("t1A12DEAD")
	assert.Nil(t, err)
	assert.NotNil(t, frame)
	assert.Equal(t, uint32(0x1A1), frame.ID)
	assert.Equal(t, uint8(2), frame.DLC)
	assert.False(t, frame.Extended)
	assert.Equal(t, uint8(0xDE), frame.Data[0])
	assert.Equal(t, uint8(0xAD), frame.Data[1])
}

func TestParseSLCANExtendedFrame(t *testing.T) {
	frame, err := parseSLCANLine("T00000721110")
	assert.Nil(t, err)
	assert.NotNil(t, frame)
	assert.Equal(t, uint32(0x721), frame.ID)
	assert.Equal(t, uint8(1), frame.DLC)
	assert.True(t, frame.Extended)
	assert.Equal(t, uint8(0x10), frame.Data[0])
}

func TestParseSLCANNonDataRecords(t *testing.T) {
	for _, line := range []string{"", "r1A10", "z", "Z", "\a"} {
		frame, err := parseSLCANLine(line)
		assert.Nil(t, err, "line %q", line)
		assert.Nil(t, frame, "line %q", line)
	}
}

func TestParseSLCANBadRecords(t *testing.T) {
	for _, line := range []string{
		"x123",      // unknown record type
		"t1A",       // truncated
		"t1A19DEAD", // dlc out of range
		"t1A12DE",   // payload shorter than dlc
		"tZZZ0",     // identifier not hex
	} {
		_, err := parseSLCANLine(line)
		assert.NotNil(t, err, "line %q", line)
	}
}

func TestSLCANPendingBufferSplitsLines(t *testing.T) {
	driver := NewSLCANDriver("/dev/null", 0)
	driver.pending = []byte("t0800\rt721105\rt1A1")

	frame := driver.nextPending()
	assert.NotNil(t, frame)
	assert.Equal(t, uint32(0x080), frame.ID)
	assert.Equal(t, uint8(0), frame.DLC)

	frame = driver.nextPending()
	assert.NotNil(t, frame)
	assert.Equal(t, uint32(0x721), frame.ID)
	assert.Equal(t, uint8(1), frame.DLC)
	assert.Equal(t, uint8(0x05), frame.Data[0])

	// The partial trailing record stays buffered until its terminator.
	assert.Nil(t, driver.nextPending())
	assert.Equal(t, []byte("t1A1"), driver.pending)
}
