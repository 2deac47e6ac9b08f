package api

import (
	"fmt"

	"vrpbench/internal/model"
	"vrpbench/internal/routing"
)

// maxRequestWorkers caps the fan-out one request may ask for.
const maxRequestWorkers = 16

func validateExperimentRequest(req *model.ExperimentRequest) error {
	if req.TimeLimitMs < 0 {
		return fmt.Errorf("timeLimitMs must be >= 0")
	}
	if req.Workers < 0 || req.Workers > maxRequestWorkers {
		return fmt.Errorf("workers must be in [0,%d]", maxRequestWorkers)
	}
	for _, n := range req.FirstSolutionStrategies {
		if _, err := routing.ParseFirstSolutionStrategy(n); err != nil {
			return err
		}
	}
	for _, n := range req.LocalSearchStrategies {
		if _, err := routing.ParseMetaheuristic(n); err != nil {
			return err
		}
	}
	return nil
}
