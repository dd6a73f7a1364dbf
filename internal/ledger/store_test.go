package ledger

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T, opts Options) *Store {
	t.Helper()
	if opts.Path == "" {
		opts.Path = filepath.Join(t.TempDir(), "ledger.db")
	}
	store := NewStore(opts)
	if r := store.Init(); !r.OK {
		t.Fatalf("Init failed: reason=%s error=%s", r.Reason, r.Error)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestInvestigator(t *testing.T) *Investigator {
	t.Helper()
	return NewInvestigator(newTestStore(t, Options{}))
}

func mustCreateIncident(t *testing.T, inv *Investigator, input CreateIncidentInput) string {
	t.Helper()
	if input.Title == "" {
		input.Title = "test incident"
	}
	res := inv.CreateIncident(input)
	if !res.OK {
		t.Fatalf("CreateIncident failed: reason=%s error=%s", res.Reason, res.Error)
	}
	return res.IncidentID
}

func mustAddAssertion(t *testing.T, inv *Investigator, input AddAssertionInput) string {
	t.Helper()
	if len(input.EvidenceBindings) == 0 {
		input.AllowWithoutEvidence = true
	}
	res := inv.AddAssertion(input)
	if !res.OK {
		t.Fatalf("AddAssertion failed: reason=%s error=%s", res.Reason, res.Error)
	}
	return res.AssertionID
}

func TestInitIdempotent(t *testing.T) {
	store := newTestStore(t, Options{})
	if r := store.Init(); !r.OK {
		t.Fatalf("second Init failed: %v", r.Reason)
	}
	if !store.IsAvailable() {
		t.Fatal("store should be available")
	}
}

func TestDisabledStoreIsStickyUnavailable(t *testing.T) {
	store := NewStore(Options{Disabled: true, Path: filepath.Join(t.TempDir(), "ledger.db")})
	r := store.Init()
	if r.OK || r.Reason != ReasonUnavailable {
		t.Fatalf("Init = %+v, want unavailable", r)
	}
	// Repeated Init reports the same failure without retrying.
	r = store.Init()
	if r.OK || r.Reason != ReasonUnavailable {
		t.Fatalf("second Init = %+v, want unavailable", r)
	}
	if store.IsAvailable() {
		t.Fatal("disabled store must never become available")
	}
}

func TestUnwritablePathIsUnavailable(t *testing.T) {
	store := NewStore(Options{Path: "/proc/nonexistent/ledger.db"})
	if r := store.Init(); r.OK {
		t.Fatal("Init on unwritable path should fail")
	}
	if store.IsAvailable() {
		t.Fatal("store should be unavailable")
	}
}

func TestCloseIdempotent(t *testing.T) {
	store := newTestStore(t, Options{})
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if store.IsAvailable() {
		t.Fatal("closed store should be unavailable")
	}
}

func TestStatusRowCounts(t *testing.T) {
	store := newTestStore(t, Options{SessionID: "sess-1"})
	inv := NewInvestigator(store)

	incidentID := mustCreateIncident(t, inv, CreateIncidentInput{Title: "count me"})
	mustAddAssertion(t, inv, AddAssertionInput{IncidentID: incidentID, Claim: "because"})

	st := store.Status()
	if !st.Available {
		t.Fatal("status should report available")
	}
	if st.SessionID != "sess-1" {
		t.Errorf("SessionID = %q, want sess-1", st.SessionID)
	}
	if st.RowCounts["incidents"] != 1 {
		t.Errorf("incidents count = %d, want 1", st.RowCounts["incidents"])
	}
	if st.RowCounts["assertions"] != 1 {
		t.Errorf("assertions count = %d, want 1", st.RowCounts["assertions"])
	}
}

func TestPruneRowCap(t *testing.T) {
	store := newTestStore(t, Options{MaxIncidents: 3})
	inv := NewInvestigator(store)

	base := time.Now().UnixMilli() - 10_000
	for i := 0; i < 8; i++ {
		mustCreateIncident(t, inv, CreateIncidentInput{
			Title: "incident",
			NowMs: base + int64(i),
		})
	}

	pruned, err := store.Prune()
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if pruned != 5 {
		t.Errorf("pruned = %d, want 5", pruned)
	}

	list := inv.ListIncidents(ListIncidentsInput{})
	if len(list.Incidents) != 3 {
		t.Fatalf("remaining incidents = %d, want 3", len(list.Incidents))
	}
	// The newest survive.
	for _, in := range list.Incidents {
		if in.CreatedAtMs < base+5 {
			t.Errorf("old incident %s survived pruning", in.ID)
		}
	}
}

func TestPruneAgeCap(t *testing.T) {
	store := newTestStore(t, Options{MaxAgeDays: 7})
	inv := NewInvestigator(store)

	old := time.Now().AddDate(0, 0, -30).UnixMilli()
	oldID := mustCreateIncident(t, inv, CreateIncidentInput{Title: "ancient", NowMs: old})
	mustAddAssertion(t, inv, AddAssertionInput{IncidentID: oldID, Claim: "stale claim", NowMs: old})
	freshID := mustCreateIncident(t, inv, CreateIncidentInput{Title: "fresh"})

	pruned, err := store.Prune()
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if pruned != 1 {
		t.Errorf("pruned = %d, want 1", pruned)
	}
	if got := inv.GetIncident(oldID); got.Incident != nil {
		t.Error("ancient incident should be gone")
	}
	if got := inv.GetIncident(freshID); got.Incident == nil {
		t.Error("fresh incident should survive")
	}
	// Children go with the incident.
	if got := inv.ListBindingsForIncident(oldID); len(got.Bindings) != 0 {
		t.Errorf("bindings for pruned incident = %d, want 0", len(got.Bindings))
	}
	if assertions := inv.ListAssertions(oldID, ListAssertionsInput{}); len(assertions.Assertions) != 0 {
		t.Errorf("assertions for pruned incident = %d, want 0", len(assertions.Assertions))
	}
}

func TestDegradedModeEveryMethodUnavailable(t *testing.T) {
	store := NewStore(Options{Disabled: true})
	store.Init()
	inv := NewInvestigator(store)

	results := []Result{
		inv.CreateIncident(CreateIncidentInput{Title: "x"}).Result,
		inv.GetIncident("inc_x").Result,
		inv.UpdateIncident("inc_x", UpdateIncidentInput{}),
		inv.ListIncidents(ListIncidentsInput{}).Result,
		inv.CloseIncident("inc_x", 0),
		inv.LinkTrace("inc_x", "tr_1", LinkTraceInput{}).Result,
		inv.AddAssertion(AddAssertionInput{IncidentID: "inc_x", Claim: "y"}).Result,
		inv.UpdateAssertion("ast_x", UpdateAssertionInput{}),
		inv.SupersedeAssertion("ast_x", SupersedeInput{NewClaim: "z"}).Result,
		inv.GetAssertion("ast_x").Result,
		inv.ListAssertions("inc_x", ListAssertionsInput{}).Result,
		inv.BindEvidence("ast_x", EvidenceInput{Kind: "event_ref", EventID: "e1"}).Result,
		inv.ListBindings("ast_x").Result,
		inv.ListBindingsForIncident("inc_x").Result,
		inv.MarkBindingStale("evb_x"),
		inv.ComputeFileSnapshotHash("some/file.go", 0, "").Result,
		inv.RefreshFileLineBindingStaleness(RefreshInput{}).Result,
		inv.RecordVerdict(RecordVerdictInput{IncidentID: "inc_x", Value: "v"}).Result,
		inv.GetCurrentVerdict("inc_x").Result,
		inv.GetVerdictHistory("inc_x").Result,
		inv.GetIncidentSummary("inc_x").Result,
		inv.GetIncidentTimeline("inc_x").Result,
	}
	for i, r := range results {
		if r.OK || r.Reason != ReasonUnavailable {
			t.Errorf("method %d: got %+v, want unavailable", i, r)
		}
	}
}
