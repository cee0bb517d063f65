package vulnerability

// StatisticDelta accumulates per-severity vulnerability count changes for
// one ingestion slice. Applied as relative increments so concurrent slices
// for different scans never clobber each other.
type StatisticDelta struct {
	Total    int
	Critical int
	High     int
	Medium   int
	Low      int
	Info     int
	Unknown  int
}

// Add records one new vulnerability of the given severity.
func (d *StatisticDelta) Add(severity string) {
	d.Total++
	switch severity {
	case "critical":
		d.Critical++
	case "high":
		d.High++
	case "medium":
		d.Medium++
	case "low":
		d.Low++
	case "info":
		d.Info++
	default:
		d.Unknown++
	}
}

// Empty reports whether the delta carries no changes.
func (d *StatisticDelta) Empty() bool {
	return d.Total == 0
}
