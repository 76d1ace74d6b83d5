package canmon

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
	"gopkg.in/ini.v1"
)

// The monitor only needs names and PDO mappings out of an EDS, not a live
// object store: decoded PDO fields and SDO transfers are annotated with the
// parameter names configured for the sending node.

// PDOMapping is one mapped sub field of a PDO payload.
type PDOMapping struct {
	Name      string
	Index     uint16
	Subindex  uint8
	BitOffset uint8
	BitLength uint8
	Scale     float64
}

// ObjectDictionary is the decoded subset of one node's EDS.
type ObjectDictionary struct {
	NodeId   uint8
	names    map[uint32]string       // index<<8 | subindex
	mappings map[uint16][]PDOMapping // keyed by mapping parameter index
}

func NewObjectDictionary(nodeId uint8) *ObjectDictionary {
	return &ObjectDictionary{
		NodeId:   nodeId,
		names:    make(map[uint32]string),
		mappings: make(map[uint16][]PDOMapping),
	}
}

func nameKey(index uint16, subindex uint8) uint32 {
	return uint32(index)<<8 | uint32(subindex)
}

// AddObjectName registers the parameter name of an object. Subindex 0 also
// names the whole entry.
func (od *ObjectDictionary) AddObjectName(index uint16, subindex uint8, name string) {
	od.names[nameKey(index, subindex)] = name
}

// LookupObject returns the configured name of an object dictionary entry,
// or "unknown" on a miss. Never errors.
func (od *ObjectDictionary) LookupObject(index uint16, subindex uint8) string {
	if name, ok := od.names[nameKey(index, subindex)]; ok && name != "" {
		return name
	}
	if name, ok := od.names[nameKey(index, 0)]; ok && name != "" && subindex != 0 {
		return name
	}
	return "unknown"
}

// AddPDOMapping appends one mapped field to a mapping parameter entry.
// The bit offset is the running total of previously mapped fields.
func (od *ObjectDictionary) AddPDOMapping(paramIndex uint16, mapping PDOMapping) {
	existing := od.mappings[paramIndex]
	var offset uint8
	for _, m := range existing {
		offset += m.BitLength
	}
	mapping.BitOffset = offset
	if mapping.Scale == 0 {
		mapping.Scale = 1
	}
	od.mappings[paramIndex] = append(existing, mapping)
}

// Mapping parameter entries per CiA 301: RPDO mapping at 0x1600 + slot,
// TPDO mapping at 0x1A00 + slot.
var pdoMappingParam = map[FunctionCode]uint16{
	FC_PDO1_TX: 0x1A00,
	FC_PDO2_TX: 0x1A01,
	FC_PDO3_TX: 0x1A02,
	FC_PDO4_TX: 0x1A03,
	FC_PDO1_RX: 0x1600,
	FC_PDO2_RX: 0x1601,
	FC_PDO3_RX: 0x1602,
	FC_PDO4_RX: 0x1603,
}

// LookupPDOMapping returns the mapped fields for a PDO slot, empty on a
// miss. Never errors.
func (od *ObjectDictionary) LookupPDOMapping(fc FunctionCode) []PDOMapping {
	param, ok := pdoMappingParam[fc]
	if !ok {
		return nil
	}
	return od.mappings[param]
}

var (
	matchIdxRegExp    = regexp.MustCompile(`^[0-9A-Fa-f]{4}$`)
	matchSubidxRegExp = regexp.MustCompile(`^([0-9A-Fa-f]{4})[Ss]ub([0-9A-Fa-f]+)$`)
)

// ParseEDS reads an EDS or DCF file into an ObjectDictionary for the given
// node id.
func ParseEDS(filePath string, nodeId uint8) (*ObjectDictionary, error) {
	edsFile, err := ini.Load(filePath)
	if err != nil {
		return nil, err
	}
	od := NewObjectDictionary(nodeId)

	for _, section := range edsFile.Sections() {
		sectionName := section.Name()

		// Index sections add new named entries.
		if matchIdxRegExp.MatchString(sectionName) {
			idx, err := strconv.ParseUint(sectionName, 16, 16)
			if err != nil {
				return nil, err
			}
			od.AddObjectName(uint16(idx), 0, section.Key("ParameterName").String())
			continue
		}

		// Subindex sections (e.g. 1A00sub1) name sub entries and, for
		// mapping parameters, carry the packed mapping values.
		if match := matchSubidxRegExp.FindStringSubmatch(sectionName); match != nil {
			idx, err := strconv.ParseUint(match[1], 16, 16)
			if err != nil {
				return nil, err
			}
			sidx, err := strconv.ParseUint(match[2], 16, 8)
			if err != nil {
				return nil, err
			}
			index := uint16(idx)
			subindex := uint8(sidx)
			od.AddObjectName(index, subindex, section.Key("ParameterName").String())

			if isPDOMappingParam(index) && subindex > 0 {
				raw := section.Key("ParameterValue").String()
				if raw == "" {
					raw = section.Key("DefaultValue").String()
				}
				value, err := parseEDSNumber(raw)
				if err != nil {
					log.Warnf("[EDS][%x|%x] skipping unreadable mapping value %q : %v", index, subindex, raw, err)
					continue
				}
				od.AddPDOMapping(index, PDOMapping{
					Index:     uint16(value >> 16),
					Subindex:  uint8(value >> 8),
					BitLength: uint8(value),
				})
			}
		}
	}

	// Resolve mapped field names now that every entry has been seen.
	for param, mappings := range od.mappings {
		for i := range mappings {
			mappings[i].Name = od.LookupObject(mappings[i].Index, mappings[i].Subindex)
		}
		od.mappings[param] = mappings
	}
	log.Debugf("[EDS] parsed %v : %v named objects for node x%X", filepath.Base(filePath), len(od.names), nodeId)
	return od, nil
}

func isPDOMappingParam(index uint16) bool {
	return (index >= 0x1600 && index <= 0x17FF) || (index >= 0x1A00 && index <= 0x1BFF)
}

func parseEDSNumber(raw string) (uint64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("empty value")
	}
	return strconv.ParseUint(raw, 0, 32)
}

// DictionaryStore maps node ids to their object dictionaries. Decoders
// always consult the dictionary of the sending node.
type DictionaryStore struct {
	dicts map[uint8]*ObjectDictionary
}

func NewDictionaryStore() *DictionaryStore {
	return &DictionaryStore{dicts: make(map[uint8]*ObjectDictionary)}
}

func (store *DictionaryStore) Add(od *ObjectDictionary) {
	store.dicts[od.NodeId] = od
}

// Lookup returns the dictionary for a node, nil when none is configured.
func (store *DictionaryStore) Lookup(node int16) *ObjectDictionary {
	if node < 0 || node > 0xFF {
		return nil
	}
	return store.dicts[uint8(node)]
}

func (store *DictionaryStore) Len() int {
	return len(store.dicts)
}

// LoadEDSDir loads every *.eds / *.dcf file in a directory. The node id is
// taken from the [DeviceComissioning] NodeID key (CiA 306 spelling), files
// without one are skipped with a warning.
func LoadEDSDir(dir string) (*DictionaryStore, error) {
	store := NewDictionaryStore()
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".eds" && ext != ".dcf" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		nodeId, err := edsNodeId(path)
		if err != nil {
			log.Warnf("[EDS] skipping %v : %v", entry.Name(), err)
			continue
		}
		od, err := ParseEDS(path, nodeId)
		if err != nil {
			log.Warnf("[EDS] skipping %v : %v", entry.Name(), err)
			continue
		}
		store.Add(od)
		log.Infof("[EDS] loaded %v for node x%X", entry.Name(), nodeId)
	}
	return store, nil
}

func edsNodeId(path string) (uint8, error) {
	file, err := ini.Load(path)
	if err != nil {
		return 0, err
	}
	section, err := file.GetSection("DeviceComissioning")
	if err != nil {
		return 0, fmt.Errorf("no DeviceComissioning section")
	}
	raw := section.Key("NodeID").String()
	value, err := parseEDSNumber(raw)
	if err != nil || value == 0 || value > 127 {
		return 0, fmt.Errorf("bad NodeID %q", raw)
	}
	return uint8(value), nil
}
