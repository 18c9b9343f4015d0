package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"servo-dispatcher/internal/servo"
)

// Initialisation is the document listing the register values written to every
// servo after discovery. JSON documents are accepted since they parse as YAML.
//
//	registers:
//	  - register: return_delay_time
//	    value: 0
//	  - register: torque_enable
//	    value: 1
type Initialisation struct {
	Registers []servo.RegisterValue `yaml:"registers"`
}

// LoadInitialisation reads the initialisation document at path.
func LoadInitialisation(path string) ([]servo.RegisterValue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading initialisation file: %w", err)
	}
	var doc Initialisation
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing initialisation file %s: %w", path, err)
	}
	for i, rv := range doc.Registers {
		if rv.Register == "" {
			return nil, fmt.Errorf("initialisation file %s: entry %d has no register", path, i)
		}
	}
	return doc.Registers, nil
}

// InitialisationFile re-reads the document on every call, so edits apply on
// the next refresh without a restart.
type InitialisationFile string

func (f InitialisationFile) Registers() ([]servo.RegisterValue, error) {
	return LoadInitialisation(string(f))
}
