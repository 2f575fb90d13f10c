package heapprof

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// samplingConfigDoc mirrors the small YAML document operators use to
// supply a sampling table:
//
//	ranges:
//	  - max_bytes: 1024
//	    probability: 1.0
//	  - max_bytes: 65536
//	    probability: 0.1
type samplingConfigDoc struct {
	Ranges []samplingConfigRange `yaml:"ranges"`
}

type samplingConfigRange struct {
	MaxBytes    uint64  `yaml:"max_bytes"`
	Probability float64 `yaml:"probability"`
}

// LoadSamplingTable reads and unmarshals a YAML sampling-table document
// from r. It does not validate the table (construction of a Sampler via
// NewSampler does that); this just gets operator configuration off disk
// and into a SamplingTable.
func LoadSamplingTable(r io.Reader) (SamplingTable, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: reading sampling config: %v", ErrIO, err)
	}

	var doc samplingConfigDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: parsing sampling config: %v", ErrBadConfig, err)
	}

	table := make(SamplingTable, len(doc.Ranges))
	for i, r := range doc.Ranges {
		table[i] = SamplingRange{MaxBytes: r.MaxBytes, Probability: r.Probability}
	}
	return table, nil
}
