package audit

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"sort"
	"strings"
	"testing"
	"time"
)

// sliceLog serves queries from a fixed entry set, newest first.
type sliceLog struct {
	entries []Entry
}

func (l *sliceLog) matching(f Filter) []Entry {
	var out []Entry
	for _, e := range l.entries {
		if f.Matches(e) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].Seq > out[j].Seq
	})
	return out
}

func (l *sliceLog) Query(ctx context.Context, f Filter, page, pageSize int) (Page, error) {
	page, pageSize = NormalizePage(page, pageSize)
	matched := l.matching(f)
	start := (page - 1) * pageSize
	if start > len(matched) {
		start = len(matched)
	}
	end := start + pageSize
	if end > len(matched) {
		end = len(matched)
	}
	return Page{
		Entries:    matched[start:end],
		Total:      len(matched),
		Page:       page,
		PageSize:   pageSize,
		TotalPages: (len(matched) + pageSize - 1) / pageSize,
	}, nil
}

func (l *sliceLog) List(ctx context.Context, f Filter, limit int) ([]Entry, error) {
	matched := l.matching(f)
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func testEntry(seq uint64, action string, ts time.Time) Entry {
	return Entry{
		ID:             fmt.Sprintf("e%d", seq),
		Seq:            seq,
		Timestamp:      ts,
		Action:         action,
		ResourceType:   "organization",
		ResourceID:     "org1",
		OrganizationID: "org1",
		ActorEmail:     "admin@example.com",
		IPAddress:      "10.0.0.1",
	}
}

func TestEntryValidate(t *testing.T) {
	valid := testEntry(1, "organization.created", time.Now())
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid entry: %v", err)
	}
	for _, mutate := range []func(*Entry){
		func(e *Entry) { e.Action = "" },
		func(e *Entry) { e.ResourceType = " " },
		func(e *Entry) { e.ResourceID = "" },
		func(e *Entry) { e.ActorEmail = "" },
	} {
		e := valid
		mutate(&e)
		if err := e.Validate(); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("Validate() = %v, want ErrInvalidInput", err)
		}
	}
}

func TestFilterMatches(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e := testEntry(1, "group.created", base)
	e.ActorID = "u1"

	if !(Filter{}).Matches(e) {
		t.Error("empty filter must match")
	}
	if !(Filter{OrganizationID: "org1", Action: "group.created", ActorID: "u1"}).Matches(e) {
		t.Error("full match expected")
	}
	if (Filter{Action: "group.deleted"}).Matches(e) {
		t.Error("action mismatch must not match")
	}
	if (Filter{From: base.Add(time.Minute)}).Matches(e) {
		t.Error("entry before window must not match")
	}
	if (Filter{To: base.Add(-time.Minute)}).Matches(e) {
		t.Error("entry after window must not match")
	}
}

func TestExportColumnOrder(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e := testEntry(1, "organization.updated", base)
	e.Changes = map[string]Change{"name": {From: "Old", To: "New"}}
	log := &sliceLog{entries: []Entry{e, testEntry(2, "group.created", base.Add(time.Minute))}}

	var buf strings.Builder
	if err := Export(context.Background(), log, &buf, Filter{}); err != nil {
		t.Fatalf("Export: %v", err)
	}

	records, err := csv.NewReader(strings.NewReader(buf.String())).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("records = %d, want header + 2 rows", len(records))
	}
	wantHeader := "timestamp,action,resource_type,resource_id,actor_email,ip_address,changes"
	if got := strings.Join(records[0], ","); got != wantHeader {
		t.Fatalf("header = %q, want %q", got, wantHeader)
	}
	// Newest first.
	if records[1][1] != "group.created" || records[2][1] != "organization.updated" {
		t.Fatalf("rows out of order: %v", records)
	}
	if records[2][0] != base.Format(time.RFC3339Nano) {
		t.Errorf("timestamp = %q", records[2][0])
	}
	if !strings.Contains(records[2][6], `"from":"Old"`) {
		t.Errorf("changes column = %q", records[2][6])
	}
}

func TestExportRowLimit(t *testing.T) {
	base := time.Now().UTC()
	log := &sliceLog{}
	for i := 0; i <= ExportMaxRows; i++ {
		log.entries = append(log.entries, testEntry(uint64(i+1), "a", base.Add(time.Duration(i))))
	}

	err := Export(context.Background(), log, &strings.Builder{}, Filter{})
	if !errors.Is(err, ErrTooManyRows) {
		t.Fatalf("err = %v, want ErrTooManyRows", err)
	}
}

func TestStatistics(t *testing.T) {
	base := time.Now().UTC()
	log := &sliceLog{entries: []Entry{
		testEntry(1, "organization.created", base),
		testEntry(2, "group.created", base.Add(time.Second)),
		testEntry(3, "group.created", base.Add(2*time.Second)),
	}}

	stats, err := Statistics(context.Background(), log, Filter{})
	if err != nil {
		t.Fatalf("Statistics: %v", err)
	}
	if stats.Total != 3 {
		t.Errorf("total = %d", stats.Total)
	}
	if stats.ByAction["group.created"] != 2 {
		t.Errorf("by_action = %v", stats.ByAction)
	}
	if stats.ByResourceType["organization"] != 3 {
		t.Errorf("by_resource_type = %v", stats.ByResourceType)
	}
}

func TestNormalizePage(t *testing.T) {
	cases := []struct{ page, size, wantPage, wantSize int }{
		{0, 0, 1, 50},
		{-3, 1000, 1, 50},
		{2, 25, 2, 25},
		{1, 500, 1, 500},
	}
	for _, tc := range cases {
		page, size := NormalizePage(tc.page, tc.size)
		if page != tc.wantPage || size != tc.wantSize {
			t.Errorf("NormalizePage(%d, %d) = (%d, %d), want (%d, %d)",
				tc.page, tc.size, page, size, tc.wantPage, tc.wantSize)
		}
	}
}
