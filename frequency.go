package pgobbprof

import (
	"bufio"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

var ErrZeroEntryFrequency = errors.New("entry block frequency is zero")

// BlockFrequency is one mbb-profile-dump row.
type BlockFrequency struct {
	Function  string
	BlockID   BlockID
	Frequency float64
}

// ComputeBlockFrequencies scales every block's frequency by its function's
// entry count, relative to the function's first block. Functions without
// blocks produce no rows. Any malformed function aborts the whole
// conversion so callers never see a partial table.
func ComputeBlockFrequencies(addrMaps []AddrMap) ([]BlockFrequency, error) {

	rows := make([]BlockFrequency, 0)

	for i, addrMap := range addrMaps {
		fn := addrMap.Function
		if fn == nil {
			return nil, errors.Errorf("address map %d: missing Function", i)
		}
		if !fn.HasBBEntries {
			return nil, errors.Errorf("address map %d: missing BB entries", i)
		}
		if len(fn.BBEntries) == 0 {
			continue
		}

		if fn.Name == nil {
			return nil, errors.Errorf("address map %d: missing Name", i)
		}
		name := *fn.Name

		if fn.EntryCount == nil {
			return nil, errors.Errorf("function %s: missing EntryCount", name)
		}
		entryCount := float64(*fn.EntryCount)

		if fn.BBEntries[0].Frequency == nil {
			return nil, errors.Errorf("function %s: block 0 missing Frequency", name)
		}
		entryFreq := float64(*fn.BBEntries[0].Frequency)
		if entryFreq == 0 {
			return nil, errors.Wrapf(ErrZeroEntryFrequency, "function %s", name)
		}

		for j, block := range fn.BBEntries {
			if block.ID == nil {
				return nil, errors.Errorf("function %s: block %d missing ID", name, j)
			}
			if block.Frequency == nil {
				return nil, errors.Errorf("function %s: block %d missing Frequency", name, j)
			}

			relBlockFreq := float64(*block.Frequency) / entryFreq
			rows = append(rows, BlockFrequency{
				Function:  name,
				BlockID:   *block.ID,
				Frequency: relBlockFreq * entryCount,
			})
		}
	}

	log.Debugf("Computed %d block frequencies for %d functions", len(rows), len(addrMaps))
	return rows, nil
}

// WriteBlockFrequencies writes one function,block,frequency line per row.
// Fields are joined verbatim, without CSV quoting, as mbb-profile-dump does.
func WriteBlockFrequencies(w io.Writer, rows []BlockFrequency) error {
	writer := bufio.NewWriter(w)

	for _, row := range rows {
		_, err := writer.WriteString(row.Function + "," + string(row.BlockID) + "," +
			FormatFrequency(row.Frequency) + "\n")
		if err != nil {
			return err
		}
	}

	return writer.Flush()
}

// FormatFrequency renders f the way mbb-profile-dump consumers expect:
// shortest round-trip digits, always with a fractional part, switching to
// exponent form below 1e-4 and at or above 1e16.
func FormatFrequency(f float64) string {
	switch {
	case math.IsNaN(f):
		return "nan"
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	}

	abs := math.Abs(f)
	if abs != 0 && (abs < 1e-4 || abs >= 1e16) {
		return strconv.FormatFloat(f, 'e', -1, 64)
	}

	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
