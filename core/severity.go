package core

// Severities shared by anomalies and alerts.
const (
	SeverityLow      = "LOW"
	SeverityMedium   = "MEDIUM"
	SeverityHigh     = "HIGH"
	SeverityCritical = "CRITICAL"
)

var Severities = []string{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}

var severityRanks = map[string]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// SeverityRank orders severities; unknown values rank 0.
func SeverityRank(s string) int {
	return severityRanks[s]
}
