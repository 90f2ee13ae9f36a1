package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Snapshot summarizes the booking counters for the admin panel.
type Snapshot struct {
	Bookings       map[string]float64 `json:"bookings"`
	Availability   map[string]float64 `json:"availability"`
	MirrorFailures float64            `json:"mirrorFailures"`
	MirrorRetries  map[string]float64 `json:"mirrorRetries"`
	SkippedBusy    map[string]float64 `json:"skippedBusy"`
}

// TakeSnapshot reads the current counter values from gatherer.
func TakeSnapshot(gatherer prometheus.Gatherer) (Snapshot, error) {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	snap := Snapshot{
		Bookings:      map[string]float64{},
		Availability:  map[string]float64{},
		MirrorRetries: map[string]float64{},
		SkippedBusy:   map[string]float64{},
	}
	families, err := gatherer.Gather()
	if err != nil {
		return snap, fmt.Errorf("metrics: gather: %w", err)
	}
	prefix := namespace + "_" + subsystem + "_"
	for _, family := range families {
		switch family.GetName() {
		case prefix + "bookings_total":
			sumByLabel(family, "result", snap.Bookings)
		case prefix + "availability_total":
			sumByLabel(family, "result", snap.Availability)
		case prefix + "mirror_retries_total":
			sumByLabel(family, "result", snap.MirrorRetries)
		case prefix + "busy_entries_skipped_total":
			sumByLabel(family, "source", snap.SkippedBusy)
		case prefix + "mirror_failures_total":
			for _, metric := range family.GetMetric() {
				snap.MirrorFailures += metric.GetCounter().GetValue()
			}
		}
	}
	return snap, nil
}

func sumByLabel(family *dto.MetricFamily, label string, into map[string]float64) {
	for _, metric := range family.GetMetric() {
		into[labelValue(metric, label)] += metric.GetCounter().GetValue()
	}
}

func labelValue(metric *dto.Metric, name string) string {
	for _, pair := range metric.GetLabel() {
		if pair.GetName() == name {
			return pair.GetValue()
		}
	}
	return ""
}
