package cli

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/expflow/pkg/types"
)

// trialsFile is the YAML accepted by "experiment create --trials-file":
//
//	trials:
//	  - condition: congruent
//	    block: 1
//	    practice: true
//	    stimulus: {word: RED, ink: red}
//	  - condition: incongruent
//	    block: 1
//	    repeat: 20
//	    stimulus: {word: RED, ink: blue}
type trialsFile struct {
	Trials []trialSpec `yaml:"trials"`
}

type trialSpec struct {
	Number    *int   `yaml:"number"`
	Block     *int   `yaml:"block"`
	Condition string `yaml:"condition"`
	Practice  bool   `yaml:"practice"`
	Stimulus  any    `yaml:"stimulus"`
	// Repeat expands the entry into that many consecutive trials.
	Repeat int `yaml:"repeat"`
}

// readTrialsFile builds pending trials from a trials file. Trials without an
// explicit number are numbered by position.
func readTrialsFile(path string) ([]types.TrialItem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: trials file: %v", types.ErrValidation, err)
	}
	var f trialsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: trials file %s: %v", types.ErrValidation, path, err)
	}
	var out []types.TrialItem
	for i, spec := range f.Trials {
		if spec.Repeat < 0 {
			return nil, fmt.Errorf("%w: trials file entry %d: repeat must not be negative", types.ErrValidation, i)
		}
		n := spec.Repeat
		if n == 0 {
			n = 1
		}
		for j := 0; j < n; j++ {
			t := types.NewTrial()
			number := len(out)
			if spec.Number != nil {
				number = *spec.Number + j
			}
			t.TrialNumber = &number
			if spec.Block != nil {
				block := *spec.Block
				t.BlockNumber = &block
			}
			t.Condition = spec.Condition
			t.Practice = spec.Practice
			t.Stimulus = spec.Stimulus
			out = append(out, t)
		}
	}
	return out, nil
}
