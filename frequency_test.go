package pgobbprof

import (
	"bytes"
	"math"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func num(f float64) *Number {
	n := Number(f)
	return &n
}

func bid(s string) *BlockID {
	id := BlockID(s)
	return &id
}

func str(s string) *string {
	return &s
}

func block(id string, freq float64) BlockEntry {
	return BlockEntry{ID: bid(id), Frequency: num(freq)}
}

func fn(name string, entryCount float64, blocks ...BlockEntry) AddrMap {
	if blocks == nil {
		blocks = []BlockEntry{}
	}
	return AddrMap{Function: &Function{Name: str(name), EntryCount: num(entryCount), BBEntries: blocks, HasBBEntries: true}}
}

func TestComputeBlockFrequencies(t *testing.T) {
	addrMaps := []AddrMap{
		fn("foo", 100, block("0", 2), block("1", 1)),
		fn("nothing", 5),
		fn("bar", 3, block("0", 8), block("2", 12), block("1", 4)),
	}

	rows, err := ComputeBlockFrequencies(addrMaps)
	require.NoError(t, err)

	want := []BlockFrequency{
		{"foo", "0", 100},
		{"foo", "1", 50},
		{"bar", "0", 3},
		{"bar", "2", 4.5},
		{"bar", "1", 1.5},
	}
	require.Len(t, rows, len(want))
	for i := range want {
		assert.Equal(t, want[i].Function, rows[i].Function)
		assert.Equal(t, want[i].BlockID, rows[i].BlockID)
		assert.InDelta(t, want[i].Frequency, rows[i].Frequency, 1e-9)
	}
}

func TestComputeBlockFrequenciesRowCount(t *testing.T) {
	var addrMaps []AddrMap
	total := 0
	for i := 0; i < 20; i++ {
		var blocks []BlockEntry
		for j := 0; j < i%4; j++ {
			blocks = append(blocks, block(string(rune('a'+j)), float64(j+1)))
		}
		total += len(blocks)
		addrMaps = append(addrMaps, fn("f", 10, blocks...))
	}

	rows, err := ComputeBlockFrequencies(addrMaps)
	require.NoError(t, err)
	assert.Len(t, rows, total)
}

func TestComputeBlockFrequenciesZeroEntryFrequency(t *testing.T) {
	addrMaps := []AddrMap{
		fn("ok", 10, block("0", 1)),
		fn("zero", 10, block("0", 0), block("1", 3)),
	}

	rows, err := ComputeBlockFrequencies(addrMaps)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrZeroEntryFrequency))
	assert.Contains(t, err.Error(), "zero")
	assert.Nil(t, rows)
}

func TestComputeBlockFrequenciesMissingFields(t *testing.T) {
	noName := fn("x", 1, block("0", 1))
	noName.Function.Name = nil

	noCount := fn("x", 1, block("0", 1))
	noCount.Function.EntryCount = nil

	noEntries := fn("x", 1)
	noEntries.Function.HasBBEntries = false

	noFreq := fn("x", 1, block("0", 1), BlockEntry{ID: bid("1")})
	noID := fn("x", 1, block("0", 1), BlockEntry{Frequency: num(1)})

	tests := map[string]AddrMap{
		"function":    {},
		"name":        noName,
		"entry count": noCount,
		"bb entries":  noEntries,
		"frequency":   noFreq,
		"id":          noID,
	}

	for name, addrMap := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ComputeBlockFrequencies([]AddrMap{addrMap})
			assert.Error(t, err)
		})
	}
}

func TestEmptyFunctionSkipsNameAndCount(t *testing.T) {
	addrMap := AddrMap{Function: &Function{BBEntries: []BlockEntry{}, HasBBEntries: true}}

	rows, err := ComputeBlockFrequencies([]AddrMap{addrMap})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestWriteBlockFrequencies(t *testing.T) {
	addrMaps, err := ParseAddrMaps(strings.NewReader(
		`[{"PGOBBAddrMap": [{"Function": {"Name": "foo", "EntryCount": 100,
		  "BB entries": [{"ID": 0, "Frequency": "2"}, {"ID": 1, "Frequency": "1"}]}}]}]`))
	require.NoError(t, err)

	rows, err := ComputeBlockFrequencies(addrMaps)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteBlockFrequencies(&buf, rows))
	assert.Equal(t, "foo,0,100.0\nfoo,1,50.0\n", buf.String())
}

func TestWriteBlockFrequenciesDoesNotQuote(t *testing.T) {
	rows := []BlockFrequency{
		{Function: "f(int, int)", BlockID: "3", Frequency: 1},
		{Function: `say"hi"`, BlockID: " 4", Frequency: 2},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteBlockFrequencies(&buf, rows))
	assert.Equal(t, "f(int, int),3,1.0\nsay\"hi\", 4,2.0\n", buf.String())
}

func TestNullBBEntriesSkipped(t *testing.T) {
	addrMaps, err := ParseAddrMaps(strings.NewReader(
		`[{"PGOBBAddrMap": [{"Function": {"Name": "gone", "BB entries": null}},
		  {"Function": {"Name": "foo", "EntryCount": 4, "BB entries": [{"ID": 0, "Frequency": 1}]}}]}]`))
	require.NoError(t, err)

	rows, err := ComputeBlockFrequencies(addrMaps)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "foo", rows[0].Function)
}

func TestAbsentBBEntriesRejected(t *testing.T) {
	addrMaps, err := ParseAddrMaps(strings.NewReader(
		`[{"PGOBBAddrMap": [{"Function": {"Name": "foo", "EntryCount": 4}}]}]`))
	require.NoError(t, err)

	_, err = ComputeBlockFrequencies(addrMaps)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing BB entries")
}

func TestFormatFrequency(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{100, "100.0"},
		{50, "50.0"},
		{0, "0.0"},
		{math.Copysign(0, -1), "-0.0"},
		{1.5, "1.5"},
		{1.0 / 3, "0.3333333333333333"},
		{0.0001, "0.0001"},
		{0.00001, "1e-05"},
		{0.000015, "1.5e-05"},
		{123456789012345.0, "123456789012345.0"},
		{1e16, "1e+16"},
		{2.5e20, "2.5e+20"},
		{math.Inf(1), "inf"},
		{math.Inf(-1), "-inf"},
		{math.NaN(), "nan"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatFrequency(tt.in))
	}
}
