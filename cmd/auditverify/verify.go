package main

import (
	"sort"
	"strings"
	"time"

	"actiongate/internal/audit"
	"actiongate/internal/integrity"
)

// Report is the worst status across chains plus one certificate per chain.
type Report struct {
	Status integrity.Status                 `json:"status"`
	Detail string                           `json:"detail,omitempty"`
	Chains map[string]integrity.Certificate `json:"chains,omitempty"`
}

// ExitCode is 0 for HEALTHY, 1 for DEGRADED and 2 for CRITICAL.
func (r Report) ExitCode() int {
	switch r.Status {
	case integrity.StatusHealthy:
		return 0
	case integrity.StatusCritical:
		return 2
	default:
		return 1
	}
}

// Verify certifies every chain, or only the named one when only is set.
// An empty store, a missing chain or a chain with dropped records is
// DEGRADED; a record that fails its hash or link is CRITICAL.
func Verify(chains map[string][]audit.Record, only string, now time.Time) Report {
	ids := make([]string, 0, len(chains))
	for chainID := range chains {
		if only == "" || chainID == only {
			ids = append(ids, chainID)
		}
	}
	sort.Strings(ids)
	if len(ids) == 0 {
		return Report{Status: integrity.StatusDegraded, Detail: "no audit chains found"}
	}

	report := Report{Status: integrity.StatusHealthy, Chains: make(map[string]integrity.Certificate, len(ids))}
	for _, chainID := range ids {
		records := chains[chainID]
		cert := integrity.Certificate{Status: integrity.StatusHealthy, CheckedAt: now.UTC()}
		if n := len(records); n > 0 {
			cert.Sequence = records[n-1].Sequence
			cert.HeadHash = records[n-1].Hash
		}
		gaps, err := audit.VerifySegments(records)
		switch {
		case err != nil:
			cert.Status = integrity.Classify(err)
			cert.Detail = err.Error()
		case len(gaps) > 0:
			// The flusher sheds its oldest backlog when a sink falls behind;
			// the records that remain still verify, so this is data loss in
			// the sink rather than tampering.
			cert.Status = integrity.StatusDegraded
			cert.Detail = describeGaps(gaps)
		}
		if cert.Status.Level() > report.Status.Level() {
			report.Status = cert.Status
		}
		report.Chains[chainID] = cert
	}
	return report
}

func describeGaps(gaps []audit.Gap) string {
	parts := make([]string, len(gaps))
	for i, g := range gaps {
		parts[i] = g.String()
	}
	return strings.Join(parts, "; ")
}
