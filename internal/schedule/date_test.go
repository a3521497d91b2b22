package schedule

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParseDateVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		raw  string
		want Date
	}{
		{name: "day", raw: "2024-01-01", want: Date{2024, time.January, 1}},
		{name: "utc millis", raw: "2024-01-02T00:00:00.000Z", want: Date{2024, time.January, 2}},
		{name: "utc seconds", raw: "2024-03-15T10:30:00Z", want: Date{2024, time.March, 15}},
		{name: "offset keeps local day", raw: "2024-03-15T23:30:00-05:00", want: Date{2024, time.March, 15}},
		{name: "padded", raw: "  2024-12-31 ", want: Date{2024, time.December, 31}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDate(tt.raw)
			if err != nil {
				t.Fatalf("ParseDate(%q) error: %v", tt.raw, err)
			}
			if got != tt.want {
				t.Fatalf("ParseDate(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestParseDateRejectsGarbage(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "tomorrow", "2024-13-01", "01/02/2024"} {
		if _, err := ParseDate(raw); err == nil {
			t.Fatalf("ParseDate(%q) expected error", raw)
		}
	}
}

func TestDateWireFormat(t *testing.T) {
	b, err := json.Marshal(NewDate(2024, time.February, 29))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(b) != `"2024-02-29T00:00:00.000Z"` {
		t.Fatalf("Marshal = %s", b)
	}
	if s := NewDate(2024, time.February, 30).String(); s != "2024-03-01" {
		t.Fatalf("NewDate did not normalize: %s", s)
	}
}

func TestDecodeEntriesFromServer(t *testing.T) {
	raw := `[
		{"key":0,"startDate":"2024-01-01","endDate":"2024-01-02","channel":"Channel 1","location":"New York"},
		{"key":4,"startDate":null,"endDate":"","channel":"Select Channel","location":"Chicago","_id":"abc"}
	]`
	var got []Entry
	if err := json.Unmarshal([]byte(raw), &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	e := got[0]
	if e.StartDate == nil || *e.StartDate != (Date{2024, time.January, 1}) {
		t.Fatalf("startDate = %v", e.StartDate)
	}
	if e.EndDate == nil || *e.EndDate != (Date{2024, time.January, 2}) {
		t.Fatalf("endDate = %v", e.EndDate)
	}
	if e.Channel != "Channel 1" || e.Location != "New York" {
		t.Fatalf("unexpected entry %+v", e)
	}
	if got[1].StartDate != nil || got[1].EndDate != nil {
		t.Fatalf("expected null/empty dates to decode as absent: %+v", got[1])
	}
}

func TestDecodeEntryRejectsBadDate(t *testing.T) {
	var e Entry
	if err := json.Unmarshal([]byte(`{"key":1,"startDate":"soon"}`), &e); err == nil {
		t.Fatalf("expected error for bad date")
	}
}

func TestEncodeEntryOmitsAbsentDates(t *testing.T) {
	b, err := json.Marshal(NewEntry(7))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	want := `{"key":7,"channel":"Select Channel","location":"Select Location"}`
	if string(b) != want {
		t.Fatalf("Marshal = %s, want %s", b, want)
	}
}
