package model

import (
	"time"

	"vrpbench/internal/cost"
)

// cityDistances is the 17-location demo distance table shared by the distance based instances.
var cityDistances = cost.Matrix{
	{0, 548, 776, 696, 582, 274, 502, 194, 308, 194, 536, 502, 388, 354, 468, 776, 662},
	{548, 0, 684, 308, 194, 502, 730, 354, 696, 742, 1084, 594, 480, 674, 1016, 868, 1210},
	{776, 684, 0, 992, 878, 502, 274, 810, 468, 742, 400, 1278, 1164, 1130, 788, 1552, 754},
	{696, 308, 992, 0, 114, 650, 878, 502, 844, 890, 1232, 514, 628, 822, 1164, 560, 1358},
	{582, 194, 878, 114, 0, 536, 764, 388, 730, 776, 1118, 400, 514, 708, 1050, 674, 1244},
	{274, 502, 502, 650, 536, 0, 228, 308, 194, 240, 582, 776, 662, 628, 514, 1050, 708},
	{502, 730, 274, 878, 764, 228, 0, 536, 194, 468, 354, 1004, 890, 856, 514, 1278, 480},
	{194, 354, 810, 502, 388, 308, 536, 0, 342, 388, 730, 468, 354, 320, 662, 742, 856},
	{308, 696, 468, 844, 730, 194, 194, 342, 0, 274, 388, 810, 696, 662, 320, 1084, 514},
	{194, 742, 742, 890, 776, 240, 468, 388, 274, 0, 342, 536, 422, 388, 274, 810, 468},
	{536, 1084, 400, 1232, 1118, 582, 354, 730, 388, 342, 0, 878, 764, 730, 388, 1152, 354},
	{502, 594, 1278, 514, 400, 776, 1004, 468, 810, 536, 878, 0, 114, 308, 650, 274, 844},
	{388, 480, 1164, 628, 514, 662, 890, 354, 696, 422, 764, 114, 0, 194, 536, 388, 730},
	{354, 674, 1130, 822, 708, 628, 856, 320, 662, 388, 730, 308, 194, 0, 342, 422, 536},
	{468, 1016, 788, 1164, 1050, 514, 514, 662, 320, 274, 388, 650, 536, 342, 0, 764, 194},
	{776, 868, 1552, 560, 674, 1050, 1278, 742, 1084, 810, 1152, 274, 388, 422, 764, 0, 798},
	{662, 1210, 754, 1358, 1244, 708, 480, 856, 514, 468, 354, 844, 730, 536, 194, 798, 0},
}

// cityTimes is the travel time counterpart of cityDistances, in minutes.
var cityTimes = cost.Matrix{
	{0, 6, 9, 8, 7, 3, 6, 2, 3, 2, 6, 6, 4, 4, 5, 9, 7},
	{6, 0, 8, 3, 2, 6, 8, 4, 8, 8, 13, 7, 5, 8, 12, 10, 14},
	{9, 8, 0, 11, 10, 6, 3, 9, 5, 8, 4, 15, 14, 13, 9, 18, 9},
	{8, 3, 11, 0, 1, 7, 10, 6, 10, 10, 14, 6, 7, 9, 14, 6, 16},
	{7, 2, 10, 1, 0, 6, 9, 4, 8, 9, 13, 4, 6, 8, 12, 8, 14},
	{3, 6, 6, 7, 6, 0, 2, 3, 2, 2, 7, 9, 7, 7, 6, 12, 8},
	{6, 8, 3, 10, 9, 2, 0, 6, 2, 5, 4, 12, 10, 10, 6, 15, 5},
	{2, 4, 9, 6, 4, 3, 6, 0, 4, 4, 8, 5, 4, 3, 7, 8, 10},
	{3, 8, 5, 10, 8, 2, 2, 4, 0, 3, 4, 9, 8, 7, 3, 13, 6},
	{2, 8, 8, 10, 9, 2, 5, 4, 3, 0, 4, 6, 5, 4, 3, 9, 5},
	{6, 13, 4, 14, 13, 7, 4, 8, 4, 4, 0, 10, 9, 8, 4, 13, 4},
	{6, 7, 15, 6, 4, 9, 12, 5, 9, 6, 10, 0, 1, 3, 7, 3, 10},
	{4, 5, 14, 7, 6, 7, 10, 4, 8, 5, 9, 1, 0, 2, 6, 4, 8},
	{4, 8, 13, 9, 8, 7, 10, 3, 7, 4, 8, 3, 2, 0, 4, 5, 6},
	{5, 12, 9, 14, 12, 6, 6, 7, 3, 3, 4, 7, 6, 4, 0, 9, 2},
	{9, 10, 18, 6, 8, 12, 15, 8, 13, 9, 13, 3, 4, 5, 9, 0, 9},
	{7, 14, 9, 16, 14, 8, 5, 10, 6, 5, 4, 10, 8, 6, 2, 9, 0},
}

// CityDistances returns the shared demo distance table.
func CityDistances() cost.Matrix { return cityDistances }

// CityTimes returns the shared demo travel time table.
func CityTimes() cost.Matrix { return cityTimes }

func TSPCities() *Instance {
	return &Instance{
		Name:        "TSP Cities",
		Costs:       cityDistances,
		NumVehicles: 1,
		Depot:       0,
		TimeLimit:   15 * time.Second,
	}
}

func VRPGlobalSpan() *Instance {
	return &Instance{
		Name:                "VRP GlobalSpan",
		Costs:               cityDistances,
		NumVehicles:         4,
		Depot:               0,
		MaxRouteDistance:    3000,
		SpanCostCoefficient: 100,
		TimeLimit:           10 * time.Second,
	}
}

func VRPCapacity() *Instance {
	return &Instance{
		Name:        "VRP CapacityConstraints",
		Costs:       cityDistances,
		NumVehicles: 4,
		Depot:       0,
		Demands:     []int64{0, 1, 1, 2, 4, 2, 4, 8, 8, 1, 2, 1, 2, 4, 4, 8, 8},
		Capacities:  []int64{15, 15, 15, 15},
		TimeLimit:   20 * time.Second,
	}
}

func VRPPickupDelivery() *Instance {
	return &Instance{
		Name:        "VrpPickupDelivery",
		Costs:       cityDistances,
		NumVehicles: 4,
		Depot:       0,
		Pairs: []PickupDelivery{
			{1, 6}, {2, 10}, {4, 3}, {5, 9}, {7, 8}, {15, 11}, {13, 12}, {16, 14},
		},
		MaxRouteDistance:    3000,
		SpanCostCoefficient: 100,
		TimeLimit:           10 * time.Second,
	}
}

func VRPTimeWindows() *Instance {
	return &Instance{
		Name:        "VrpTimeWindows",
		Costs:       cityTimes,
		NumVehicles: 4,
		Depot:       0,
		TimeWindows: []TimeWindow{
			{0, 5}, {7, 12}, {10, 15}, {16, 18}, {10, 13}, {0, 5},
			{5, 10}, {0, 4}, {5, 10}, {0, 3}, {10, 16}, {10, 15},
			{0, 5}, {5, 10}, {7, 8}, {10, 15}, {11, 15},
		},
		Horizon:   30,
		TimeLimit: 10 * time.Second,
	}
}

// Demo returns the reference problems in sweep order.
func Demo() []*Instance {
	return []*Instance{TSPCities(), VRPGlobalSpan(), VRPCapacity(), VRPPickupDelivery(), VRPTimeWindows()}
}
