package pgobbprof

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultReadobjBinary = "llvm-readobj"
	AddrMapKey           = "PGOBBAddrMap"
)

type AddrMap struct {
	Function *Function `json:"Function"`
}

type Function struct {
	Name       *string `json:"Name"`
	EntryCount *Number `json:"EntryCount"`

	// BBEntries is empty both for an empty list and for null. HasBBEntries
	// records whether the key was present at all.
	BBEntries    []BlockEntry `json:"BB entries"`
	HasBBEntries bool         `json:"-"`
}

func (f *Function) UnmarshalJSON(data []byte) error {
	type plain Function
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}

	var keys map[string]json.RawMessage
	if err := json.Unmarshal(data, &keys); err != nil {
		return err
	}
	_, p.HasBBEntries = keys["BB entries"]

	*f = Function(p)
	return nil
}

type BlockEntry struct {
	ID        *BlockID `json:"ID"`
	Frequency *Number  `json:"Frequency"`
}

// Number is a JSON number that may also be written as a quoted decimal string.
type Number float64

func (n *Number) UnmarshalJSON(data []byte) error {
	s := string(bytes.TrimSpace(data))
	if s == "null" {
		return errors.New("number is null")
	}

	if strings.HasPrefix(s, `"`) {
		var unquoted string
		if err := json.Unmarshal(data, &unquoted); err != nil {
			return err
		}
		s = strings.TrimSpace(unquoted)
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return errors.Wrapf(err, "invalid number %s", string(data))
	}
	*n = Number(v)
	return nil
}

// BlockID keeps the textual form of a block identifier, which readobj emits
// as an integer but hand-written files sometimes quote.
type BlockID string

func (id *BlockID) UnmarshalJSON(data []byte) error {
	s := string(bytes.TrimSpace(data))
	switch {
	case s == "null":
		return errors.New("block ID is null")
	case strings.HasPrefix(s, `"`):
		var unquoted string
		if err := json.Unmarshal(data, &unquoted); err != nil {
			return err
		}
		*id = BlockID(unquoted)
	case strings.HasPrefix(s, "{"), strings.HasPrefix(s, "["):
		return errors.Errorf("block ID must be a string or integer, got %s", s)
	default:
		*id = BlockID(s)
	}
	return nil
}

// ParseAddrMaps decodes a readobj JSON document and returns the address map
// list held by its first element.
func ParseAddrMaps(r io.Reader) ([]AddrMap, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	// The input must hold exactly one JSON value.
	var doc []map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "decoding address map json")
	}

	if len(doc) == 0 {
		return nil, errors.New("address map json is an empty list")
	}

	raw, ok := doc[0][AddrMapKey]
	if !ok {
		return nil, errors.Errorf("missing %s key in first element", AddrMapKey)
	}

	var addrMaps []AddrMap
	if err := json.Unmarshal(raw, &addrMaps); err != nil {
		return nil, errors.Wrapf(err, "decoding %s", AddrMapKey)
	}

	return addrMaps, nil
}

func ReadAddrMapFile(fName string) ([]AddrMap, error) {
	f, err := os.Open(fName)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	addrMaps, err := ParseAddrMaps(f)
	if err != nil {
		return nil, errors.Wrap(err, fName)
	}

	return addrMaps, nil
}

// DumpAddrMapsWithReadobj runs readobj against an ELF object built with
// -mllvm --pgo-bb-addr-map and parses the JSON it prints.
func DumpAddrMapsWithReadobj(object string, readobjBinary string) ([]AddrMap, error) {
	if readobjBinary == "" {
		readobjBinary = DefaultReadobjBinary
	}

	cmd := exec.Command(readobjBinary, "--pgo-bb-addr-map", object, "--elf-output-style=JSON")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log.Debugf("Running %s", strings.Join(cmd.Args, " "))
	err := cmd.Run()
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return nil, errors.Wrapf(err, "%s failed: %s", readobjBinary, msg)
		}
		return nil, errors.Wrapf(err, "%s failed", readobjBinary)
	}

	addrMaps, err := ParseAddrMaps(&stdout)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing %s output", readobjBinary)
	}

	return addrMaps, nil
}

// LoadAddrMaps reads a pre-generated .json dump directly and hands anything
// else to readobj.
func LoadAddrMaps(object string, readobjBinary string) ([]AddrMap, error) {
	if strings.HasSuffix(object, ".json") {
		return ReadAddrMapFile(object)
	}
	return DumpAddrMapsWithReadobj(object, readobjBinary)
}
