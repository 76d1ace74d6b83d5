package canmon

// FunctionCode identifies the CANopen service a COB-ID belongs to.
// The set is fixed by CiA 301 and not open for extension.
type FunctionCode uint8

const (
	FC_NMT FunctionCode = iota
	FC_SYNC
	FC_TIME
	FC_EMCY
	FC_PDO1_TX
	FC_PDO1_RX
	FC_PDO2_TX
	FC_PDO2_RX
	FC_PDO3_TX
	FC_PDO3_RX
	FC_PDO4_TX
	FC_PDO4_RX
	FC_SDO_TX
	FC_SDO_RX
	FC_HEARTBEAT
	FC_UNKNOWN
)

var functionCodeNames = map[FunctionCode]string{
	FC_NMT:       "NMT",
	FC_SYNC:      "SYNC",
	FC_TIME:      "TIME",
	FC_EMCY:      "EMCY",
	FC_PDO1_TX:   "PDO1_TX",
	FC_PDO1_RX:   "PDO1_RX",
	FC_PDO2_TX:   "PDO2_TX",
	FC_PDO2_RX:   "PDO2_RX",
	FC_PDO3_TX:   "PDO3_TX",
	FC_PDO3_RX:   "PDO3_RX",
	FC_PDO4_TX:   "PDO4_TX",
	FC_PDO4_RX:   "PDO4_RX",
	FC_SDO_TX:    "SDO_TX",
	FC_SDO_RX:    "SDO_RX",
	FC_HEARTBEAT: "HEARTBEAT",
	FC_UNKNOWN:   "UNKNOWN",
}

func (fc FunctionCode) String() string {
	name, ok := functionCodeNames[fc]
	if !ok {
		return "UNKNOWN"
	}
	return name
}

// IsPDO reports whether the function code is any of the eight PDO slots.
func (fc FunctionCode) IsPDO() bool {
	return fc >= FC_PDO1_TX && fc <= FC_PDO4_RX
}

// IsSDO reports whether the function code is either SDO direction.
func (fc FunctionCode) IsSDO() bool {
	return fc == FC_SDO_TX || fc == FC_SDO_RX
}

// NoNode is returned by NodeOf for broadcast services (NMT, SYNC, TIME)
// and for unknown identifiers.
const NoNode int16 = -1

type cobRange struct {
	start   uint16
	end     uint16 // inclusive
	fc      FunctionCode
	hasNode bool
}

// COB-ID ranges per CiA 301. Checked in declared order, first match wins.
// Ranges are non overlapping by construction, the order is kept ascending
// so it can be audited against the CiA 301 table.
var cobRanges = []cobRange{
	{0x000, 0x000, FC_NMT, false},
	{0x001, 0x07F, FC_SYNC, false},
	{0x080, 0x0FF, FC_EMCY, true},
	{0x100, 0x100, FC_TIME, false},
	{0x180, 0x1FF, FC_PDO1_TX, true},
	{0x200, 0x27F, FC_PDO1_RX, true},
	{0x280, 0x2FF, FC_PDO2_TX, true},
	{0x300, 0x37F, FC_PDO2_RX, true},
	{0x380, 0x3FF, FC_PDO3_TX, true},
	{0x400, 0x47F, FC_PDO3_RX, true},
	{0x480, 0x4FF, FC_PDO4_TX, true},
	{0x500, 0x57F, FC_PDO4_RX, true},
	{0x580, 0x5FF, FC_SDO_TX, true},
	{0x600, 0x67F, FC_SDO_RX, true},
	{0x700, 0x7FF, FC_HEARTBEAT, true},
}

// Classify maps an 11 bit COB-ID to its CANopen function code.
// Identifiers outside every range map to FC_UNKNOWN. Pure function,
// classification depends on the identifier alone.
func Classify(cobId uint32) FunctionCode {
	if cobId > 0x7FF {
		return FC_UNKNOWN
	}
	id := uint16(cobId)
	for _, r := range cobRanges {
		if id >= r.start && id <= r.end {
			return r.fc
		}
	}
	return FC_UNKNOWN
}

// NodeOf extracts the node id encoded in a COB-ID, the identifier minus
// the base of its range. Returns NoNode for broadcast services and for
// identifiers outside every range.
func NodeOf(cobId uint32) int16 {
	if cobId > 0x7FF {
		return NoNode
	}
	id := uint16(cobId)
	for _, r := range cobRanges {
		if id >= r.start && id <= r.end {
			if !r.hasNode {
				return NoNode
			}
			return int16(id - r.start)
		}
	}
	return NoNode
}
