package model

import (
	"fmt"
	"io"
	"os"
	"time"

	yaml "gopkg.in/yaml.v3"

	"vrpbench/internal/cost"
)

// instanceFile is the on-disk YAML shape of an instance.
type instanceFile struct {
	Name                string     `yaml:"name"`
	Vehicles            int        `yaml:"vehicles"`
	Depot               int        `yaml:"depot"`
	Matrix              [][]int64  `yaml:"matrix"`
	Demands             []int64    `yaml:"demands"`
	Capacities          []int64    `yaml:"capacities"`
	PickupsDeliveries   [][2]int   `yaml:"pickupsDeliveries"`
	TimeWindows         [][2]int64 `yaml:"timeWindows"`
	Horizon             int64      `yaml:"horizon"`
	MaxRouteDistance    int64      `yaml:"maxRouteDistance"`
	SpanCostCoefficient int64      `yaml:"spanCostCoefficient"`
	TimeLimit           string     `yaml:"timeLimit"`
}

// LoadInstanceFile reads one YAML instance from path.
func LoadInstanceFile(path string) (*Instance, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	in, err := DecodeInstance(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return in, nil
}

// DecodeInstance parses and validates a YAML instance.
func DecodeInstance(r io.Reader) (*Instance, error) {
	var raw instanceFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode instance: %w", err)
	}
	m, err := cost.NewMatrix(raw.Matrix)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidInstance, raw.Name, err)
	}
	in := &Instance{
		Name:                raw.Name,
		Costs:               m,
		NumVehicles:         raw.Vehicles,
		Depot:               raw.Depot,
		Demands:             raw.Demands,
		Capacities:          raw.Capacities,
		Horizon:             raw.Horizon,
		MaxRouteDistance:    raw.MaxRouteDistance,
		SpanCostCoefficient: raw.SpanCostCoefficient,
	}
	for _, p := range raw.PickupsDeliveries {
		in.Pairs = append(in.Pairs, PickupDelivery{Pickup: p[0], Delivery: p[1]})
	}
	for _, w := range raw.TimeWindows {
		in.TimeWindows = append(in.TimeWindows, TimeWindow{Earliest: w[0], Latest: w[1]})
	}
	if raw.TimeLimit != "" {
		d, err := time.ParseDuration(raw.TimeLimit)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: time limit: %v", ErrInvalidInstance, raw.Name, err)
		}
		in.TimeLimit = d
	}
	if in.Name == "" {
		return nil, fmt.Errorf("%w: missing name", ErrInvalidInstance)
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}
	return in, nil
}
