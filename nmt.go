package canmon

import "fmt"

// NMT states as broadcast in heartbeat frames.
const (
	NMT_INITIALIZING    uint8 = 0x00
	NMT_STOPPED         uint8 = 0x04
	NMT_OPERATIONAL     uint8 = 0x05
	NMT_PRE_OPERATIONAL uint8 = 0x7F
)

var nmtStateDescription = map[uint8]string{
	NMT_INITIALIZING:    "Boot-up",
	NMT_STOPPED:         "Stopped",
	NMT_OPERATIONAL:     "Operational",
	NMT_PRE_OPERATIONAL: "Pre-operational",
}

// NMT commands carried in frames with COB-ID 0.
const (
	NMT_ENTER_OPERATIONAL     uint8 = 1
	NMT_ENTER_STOPPED         uint8 = 2
	NMT_ENTER_PRE_OPERATIONAL uint8 = 128
	NMT_RESET_NODE            uint8 = 129
	NMT_RESET_COMMUNICATION   uint8 = 130
)

var nmtCommandDescription = map[uint8]string{
	NMT_ENTER_OPERATIONAL:     "start remote node",
	NMT_ENTER_STOPPED:         "stop remote node",
	NMT_ENTER_PRE_OPERATIONAL: "enter pre-operational",
	NMT_RESET_NODE:            "reset node",
	NMT_RESET_COMMUNICATION:   "reset communication",
}

// decodeNMT renders an NMT command frame: command byte followed by the
// target node, node 0 meaning all nodes.
func decodeNMT(frame *Frame) (string, bool) {
	if frame.DLC < 2 {
		return "NMT " + frame.HexData(), true
	}
	command := frame.Data[0]
	target := frame.Data[1]
	desc, ok := nmtCommandDescription[command]
	if !ok {
		return fmt.Sprintf("NMT unknown command x%02X : %s", command, frame.HexData()), true
	}
	if target == 0 {
		return fmt.Sprintf("NMT %s : all nodes", desc), false
	}
	return fmt.Sprintf("NMT %s : node x%X", desc, target), false
}

// decodeHeartbeat renders the single NMT state byte of a heartbeat frame
// into its symbolic name.
func decodeHeartbeat(frame *Frame) (string, bool) {
	if frame.DLC < 1 {
		return "Heartbeat " + frame.HexData(), true
	}
	state := frame.Data[0]
	desc, ok := nmtStateDescription[state]
	if !ok {
		return fmt.Sprintf("Heartbeat unknown state x%02X", state), true
	}
	return "Heartbeat : " + desc, false
}
