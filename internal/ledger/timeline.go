package ledger

import "sort"

// TimelineEntry is one kind-tagged event in an incident's causal
// reconstruction.
type TimelineEntry struct {
	Kind     string `json:"kind"` // trace_link | assertion | assertion_update | evidence | verdict
	AtMs     int64  `json:"atMs"`
	RefID    string `json:"refId"`
	Actor    string `json:"actor,omitempty"`
	Detail   string `json:"detail,omitempty"`
	Version  int    `json:"version,omitempty"`
	Stale    bool   `json:"stale,omitempty"`
	Relation string `json:"relation,omitempty"`
}

// GetIncidentTimeline merges trace links, assertion activity, evidence
// bindings, and verdicts into one ascending-by-timestamp list: what did we
// learn, and when.
func (inv *Investigator) GetIncidentTimeline(incidentID string) TimelineResult {
	if r, up := inv.guard(); !up {
		return TimelineResult{Result: r}
	}
	if !inv.incidentExists(incidentID) {
		return TimelineResult{Result: fail(ReasonIncidentNotFound)}
	}

	var entries []TimelineEntry

	links, err := inv.traceLinksFor(incidentID)
	if err != nil {
		return TimelineResult{Result: failErr(ReasonDBError, err)}
	}
	for _, l := range links {
		entries = append(entries, TimelineEntry{
			Kind:   "trace_link",
			AtMs:   l.LinkedAtMs,
			RefID:  l.TraceID,
			Actor:  l.LinkedBy,
			Detail: l.Note,
		})
	}

	assertions := inv.ListAssertions(incidentID, ListAssertionsInput{Limit: 1000})
	if !assertions.OK {
		return TimelineResult{Result: assertions.Result}
	}
	for _, a := range assertions.Assertions {
		entries = append(entries, TimelineEntry{
			Kind:    "assertion",
			AtMs:    a.CreatedAtMs,
			RefID:   a.ID,
			Actor:   a.Author,
			Detail:  a.Claim,
			Version: a.Version,
		})
		if a.UpdatedAtMs > a.CreatedAtMs {
			detail := "status: " + a.Status
			if a.SupersededBy != nil {
				detail = "superseded by " + *a.SupersededBy
			}
			entries = append(entries, TimelineEntry{
				Kind:    "assertion_update",
				AtMs:    a.UpdatedAtMs,
				RefID:   a.ID,
				Actor:   a.Author,
				Detail:  detail,
				Version: a.Version,
			})
		}
	}

	bindings := inv.ListBindingsForIncident(incidentID)
	if !bindings.OK {
		return TimelineResult{Result: bindings.Result}
	}
	for _, b := range bindings.Bindings {
		entries = append(entries, TimelineEntry{
			Kind:     "evidence",
			AtMs:     b.CreatedAtMs,
			RefID:    b.ID,
			Actor:    b.CreatedBy,
			Detail:   b.Kind,
			Stale:    b.Stale,
			Relation: b.Relation,
		})
	}

	verdicts := inv.GetVerdictHistory(incidentID)
	if !verdicts.OK {
		return TimelineResult{Result: verdicts.Result}
	}
	for _, v := range verdicts.Verdicts {
		entries = append(entries, TimelineEntry{
			Kind:    "verdict",
			AtMs:    v.CreatedAtMs,
			RefID:   v.ID,
			Actor:   v.Author,
			Detail:  v.Value,
			Version: v.Version,
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].AtMs != entries[j].AtMs {
			return entries[i].AtMs < entries[j].AtMs
		}
		return entries[i].RefID < entries[j].RefID
	})

	if entries == nil {
		entries = []TimelineEntry{}
	}
	return TimelineResult{Result: ok(), Entries: entries}
}
