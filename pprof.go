package pgobbprof

import (
	"io"
	"math"

	"github.com/google/pprof/profile"
	"github.com/pkg/errors"
)

// BuildProfile turns block frequencies into a pprof profile with one sample
// per basic block, labelled with the block ID.
func BuildProfile(rows []BlockFrequency) *profile.Profile {
	p := &profile.Profile{}
	m := &profile.Mapping{ID: 1, HasFunctions: true}
	p.Mapping = []*profile.Mapping{m}
	p.SampleType = []*profile.ValueType{
		{
			Type: "frequency",
			Unit: "count",
		},
	}

	locations := make(map[string]*profile.Location)

	for _, row := range rows {
		location, ok := locations[row.Function]
		if !ok {
			function := &profile.Function{
				ID:         uint64(len(p.Function) + 1),
				Name:       row.Function,
				SystemName: row.Function,
			}
			p.Function = append(p.Function, function)

			location = &profile.Location{
				ID:      uint64(len(p.Location) + 1),
				Mapping: m,
				Line:    []profile.Line{{Function: function}},
			}
			p.Location = append(p.Location, location)
			locations[row.Function] = location
		}

		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{location},
			Value:    []int64{int64(math.Round(row.Frequency))},
			Label:    map[string][]string{"block": {string(row.BlockID)}},
		})
	}

	return p
}

// WritePprof writes rows as a gzipped pprof profile.
func WritePprof(w io.Writer, rows []BlockFrequency) error {
	p := BuildProfile(rows)
	if err := p.CheckValid(); err != nil {
		return errors.Wrap(err, "invalid block frequency profile")
	}
	return p.Write(w)
}
