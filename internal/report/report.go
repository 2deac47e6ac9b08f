// Package report renders solved routing models as the plain text summaries
// written to the experiment results file.
package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"vrpbench/internal/model"
	"vrpbench/internal/routing"
	"vrpbench/internal/vrp"
)

const (
	Separator  = "------------------------------------------------"
	NoSolution = "No solution found."
)

// Stop is one position on a route. Load is the cumulative demand served
// up to and including the stop.
type Stop struct {
	Node int            `json:"node"`
	Load int64          `json:"load,omitempty"`
	Time routing.Bounds `json:"time"`
}

type Route struct {
	Vehicle  int    `json:"vehicle"`
	Stops    []Stop `json:"stops"`
	Distance int64  `json:"distance"`
	Load     int64  `json:"load"`
	Time     int64  `json:"time"`
}

// Summary is the solver-independent view of one assignment.
type Summary struct {
	Problem       string        `json:"problem"`
	Variant       model.Variant `json:"variant"`
	Objective     int64         `json:"objective"`
	Routes        []Route       `json:"routes"`
	TotalDistance int64         `json:"totalDistance"`
	TotalLoad     int64         `json:"totalLoad"`
	MaxDistance   int64         `json:"maxDistance"`
	TotalTime     int64         `json:"totalTime"`
}

// Summarize walks every used vehicle of a from start to end.
func Summarize(m *vrp.Model, a *routing.Assignment) Summary {
	in := m.Instance
	s := Summary{Problem: in.Name, Variant: in.Variant(), Objective: a.ObjectiveValue()}
	withTime := m.HasDimension(vrp.DimTime) && a.HasDimension(vrp.DimTime)
	// loads come from the Capacity cumuls; an assignment without them is
	// summed from the demands
	loadCumul := in.HasCapacity() && a.HasDimension(vrp.DimCapacity)
	for v := 0; v < m.Manager.NumVehicles(); v++ {
		// a single vehicle tour is always reported
		if !a.IsVehicleUsed(v) && m.Manager.NumVehicles() > 1 {
			continue
		}
		path := a.Route(v)
		r := Route{Vehicle: v}
		for k, idx := range path {
			node := m.Manager.IndexToNode(idx)
			if k > 0 {
				r.Distance += m.ArcCost(path[k-1], idx)
			}
			switch {
			case !in.HasCapacity() || m.Manager.IsEnd(idx):
			case loadCumul:
				r.Load = a.Min(vrp.DimCapacity, idx) + in.Demands[node]
			default:
				r.Load += in.Demands[node]
			}
			st := Stop{Node: node, Load: r.Load}
			if withTime {
				st.Time, _ = a.Cumul(vrp.DimTime, idx)
			}
			r.Stops = append(r.Stops, st)
		}
		if withTime {
			r.Time = a.Min(vrp.DimTime, path[len(path)-1])
		}
		if loadCumul {
			r.Load = a.Min(vrp.DimCapacity, path[len(path)-1])
		}
		s.Routes = append(s.Routes, r)
		s.TotalDistance += r.Distance
		s.TotalLoad += r.Load
		s.TotalTime += r.Time
		s.MaxDistance = max(s.MaxDistance, r.Distance)
	}
	return s
}

// Format renders the summary body the way its variant is reported.
func Format(kind model.Variant, s Summary) string {
	var b strings.Builder
	switch kind {
	case model.VariantTSP:
		fmt.Fprintf(&b, "Objective: %d miles\n", s.Objective)
		b.WriteString("Route:\n")
		var dist int64
		if len(s.Routes) > 0 {
			b.WriteString(nodes(s.Routes[0].Stops, nil, false))
			dist = s.Routes[0].Distance
		}
		b.WriteString("\n")
		fmt.Fprintf(&b, "Route distance: %d miles\n", dist)
	case model.VariantCapacity:
		fmt.Fprintf(&b, "Objective: %d\n", s.Objective)
		for _, r := range s.Routes {
			fmt.Fprintf(&b, "Route for Vehicle %d:\n", r.Vehicle)
			b.WriteString(nodes(r.Stops, func(st Stop) string { return fmt.Sprintf(" Load(%d)", st.Load) }, false))
			b.WriteString("\n")
			fmt.Fprintf(&b, "Distance of the route: %dm\n", r.Distance)
		}
		fmt.Fprintf(&b, "Total distance of all routes: %dm\n", s.TotalDistance)
		fmt.Fprintf(&b, "Total load of all routes: %d\n", s.TotalLoad)
	case model.VariantPickupDelivery:
		fmt.Fprintf(&b, "Objective: %d\n", s.Objective)
		for _, r := range s.Routes {
			fmt.Fprintf(&b, "Route for Vehicle %d:\n", r.Vehicle)
			b.WriteString(nodes(r.Stops, nil, false))
			b.WriteString("\n")
			fmt.Fprintf(&b, "Distance of the route: %dm\n\n", r.Distance)
		}
		fmt.Fprintf(&b, "Total Distance of all routes: %dm\n", s.TotalDistance)
	case model.VariantTimeWindows:
		for _, r := range s.Routes {
			fmt.Fprintf(&b, "Route for Vehicle %d:\n", r.Vehicle)
			b.WriteString(nodes(r.Stops, func(st Stop) string {
				return fmt.Sprintf(" Time(%d,%d)", st.Time.Min, st.Time.Max)
			}, true))
			b.WriteString("\n")
			fmt.Fprintf(&b, "Time of the route: %dmin\n", r.Time)
		}
		fmt.Fprintf(&b, "Total time of all routes: %dmin\n", s.TotalTime)
	default:
		// global span and plain multi-vehicle problems
		fmt.Fprintf(&b, "Objective: %d\n", s.Objective)
		for _, r := range s.Routes {
			fmt.Fprintf(&b, "Route for Vehicle %d:\n", r.Vehicle)
			b.WriteString(nodes(r.Stops, nil, false))
			b.WriteString("\n")
			fmt.Fprintf(&b, "Distance of the route: %dm\n", r.Distance)
		}
		fmt.Fprintf(&b, "Maximum of the route distances: %dm\n", s.MaxDistance)
	}
	return b.String()
}

// Solution summarizes and formats a in one step.
func Solution(m *vrp.Model, a *routing.Assignment) string {
	return Format(m.Instance.Variant(), Summarize(m, a))
}

// nodes joins the stop nodes with arrows. suffix decorates every stop but
// the last unless last is set.
func nodes(stops []Stop, suffix func(Stop) string, last bool) string {
	parts := make([]string, len(stops))
	for i, st := range stops {
		parts[i] = fmt.Sprint(st.Node)
		if suffix != nil && (last || i < len(stops)-1) {
			parts[i] += suffix(st)
		}
	}
	return strings.Join(parts, " -> ")
}

// Failure is the summary text of a run that raised an error.
func Failure(err error) string {
	return "Error during execution: " + err.Error()
}

// Entry is one combination of the results file.
type Entry struct {
	Problem       string
	FirstSolution string
	LocalSearch   string
	Elapsed       time.Duration
	Body          string
}

// WriteEntry appends e in the results file layout.
func WriteEntry(w io.Writer, e Entry) error {
	local := e.LocalSearch
	if local == "" {
		local = routing.MetaheuristicNone.String()
	}
	_, err := fmt.Fprintf(w, "%s\nProblem: %s\nFirst Solution Strategy: %s\nLocal Search Strategy: %s\nExecution Time: %d ms\nResult Summary:\n%s\n",
		Separator, e.Problem, e.FirstSolution, local, e.Elapsed.Milliseconds(), e.Body)
	return err
}
