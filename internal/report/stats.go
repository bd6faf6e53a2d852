package report

// StatsTemplate is the built-in plain-text report served to operators. The
// field names line up with the statistics snapshot published by the decision
// cache.
const StatsTemplate = `tacticache decision report
{{ repeat 26 "=" }}
observed at    {{ dateInZone "2006-01-02 15:04:05 MST" .ObservedAt "UTC" }}

requests       {{ .Requests }}
cache hits     {{ .Hits }}
cache misses   {{ .Misses }}
hit rate       {{ printf "%.1f" .HitRatePercent }}%
avg produce    {{ .AvgProduceLatency }}

entries        {{ .Entries }}
est. footprint {{ .FootprintBytes }} bytes
oldest entry   {{ .OldestEntryAge }}
invalidations  {{ .Invalidations }}
`

// NewStatsTemplate compiles the built-in report against the given renderer.
func NewStatsTemplate(r *Renderer) (*Template, error) {
	return r.CompileInline("stats-report", StatsTemplate)
}
