package canmon

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Error register bits, object 0x1001.
const (
	EMCY_REG_GENERIC       uint8 = 0x01
	EMCY_REG_CURRENT       uint8 = 0x02
	EMCY_REG_VOLTAGE       uint8 = 0x04
	EMCY_REG_TEMPERATURE   uint8 = 0x08
	EMCY_REG_COMMUNICATION uint8 = 0x10
	EMCY_REG_DEV_PROFILE   uint8 = 0x20
	EMCY_REG_MANUFACTURER  uint8 = 0x80
)

var emcyRegisterBits = []struct {
	bit  uint8
	name string
}{
	{EMCY_REG_GENERIC, "generic"},
	{EMCY_REG_CURRENT, "current"},
	{EMCY_REG_VOLTAGE, "voltage"},
	{EMCY_REG_TEMPERATURE, "temperature"},
	{EMCY_REG_COMMUNICATION, "communication"},
	{EMCY_REG_DEV_PROFILE, "device profile"},
	{EMCY_REG_MANUFACTURER, "manufacturer"},
}

// Emergency error code classes, matched on the upper byte. Specific codes
// take precedence over their class.
var emcyCodeDescription = map[uint16]string{
	0x0000: "error reset or no error",
	0x1000: "generic error",
	0x2000: "current",
	0x2100: "current, device input side",
	0x2200: "current inside the device",
	0x2300: "current, device output side",
	0x3000: "voltage",
	0x3100: "mains voltage",
	0x3200: "voltage inside the device",
	0x3300: "output voltage",
	0x4000: "temperature",
	0x4100: "ambient temperature",
	0x4200: "device temperature",
	0x5000: "device hardware",
	0x6000: "device software",
	0x6100: "internal software",
	0x6200: "user software",
	0x6300: "data set",
	0x7000: "additional modules",
	0x8000: "monitoring",
	0x8100: "communication",
	0x8110: "CAN overrun, objects lost",
	0x8120: "CAN in error passive mode",
	0x8130: "life guard or heartbeat error",
	0x8140: "recovered from bus off",
	0x8150: "CAN-ID collision",
	0x8200: "protocol error",
	0x8210: "PDO not processed due to length error",
	0x8220: "PDO length exceeded",
	0x8240: "unexpected SYNC data length",
	0x8250: "RPDO timeout",
	0x9000: "external error",
	0xF000: "additional functions",
	0xFF00: "device specific",
}

func emcyDescribeCode(code uint16) string {
	if desc, ok := emcyCodeDescription[code]; ok {
		return desc
	}
	if desc, ok := emcyCodeDescription[code&0xFF00]; ok {
		return desc
	}
	if desc, ok := emcyCodeDescription[code&0xF000]; ok {
		return desc
	}
	return "unknown error class"
}

func emcyDescribeRegister(register uint8) string {
	if register == 0 {
		return "none"
	}
	var names []string
	for _, entry := range emcyRegisterBits {
		if register&entry.bit != 0 {
			names = append(names, entry.name)
		}
	}
	if len(names) == 0 {
		return fmt.Sprintf("x%02X", register)
	}
	return strings.Join(names, ",")
}

// decodeEMCY renders an emergency frame: error code (uint16 LE), error
// register byte, then five manufacturer specific bytes.
func decodeEMCY(frame *Frame) (string, bool) {
	payload := frame.Payload()
	if len(payload) < 3 {
		return "EMCY " + frame.HexData(), true
	}
	code := binary.LittleEndian.Uint16(payload[0:2])
	register := payload[2]
	desc := fmt.Sprintf("EMCY x%04X (%s), register: %s",
		code, emcyDescribeCode(code), emcyDescribeRegister(register))
	if len(payload) > 3 {
		vendor := payload[3:]
		parts := make([]string, len(vendor))
		for i, b := range vendor {
			parts[i] = fmt.Sprintf("%02X", b)
		}
		desc += ", vendor: " + strings.Join(parts, " ")
	}
	return desc, false
}
