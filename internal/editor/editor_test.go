package editor

import (
	"errors"
	"reflect"
	"testing"

	"schedform/internal/controller"
	"schedform/internal/schedule"
	logx "schedform/pkg/logx"
)

type call struct {
	key int
	f   schedule.Field
	v   any
}

// recordingTarget wraps a real controller and records UpdateField calls.
type recordingTarget struct {
	*controller.Controller
	calls []call
}

func (r *recordingTarget) UpdateField(key int, f schedule.Field, v any) error {
	r.calls = append(r.calls, call{key, f, v})
	return r.Controller.UpdateField(key, f, v)
}

func newTarget(t *testing.T) (*recordingTarget, int) {
	t.Helper()
	c := controller.New(nil, nil)
	key := c.AddEntry()
	return &recordingTarget{Controller: c}, key
}

func TestEditPropagatesAllFields(t *testing.T) {
	tgt, key := newTarget(t)
	ed, err := New(tgt, key, nil, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}

	if err := ed.SetChannel("2"); err != nil {
		t.Fatalf("SetChannel: %v", err)
	}
	if len(tgt.calls) != len(schedule.Fields) {
		t.Fatalf("calls = %d, want %d", len(tgt.calls), len(schedule.Fields))
	}
	for i, f := range schedule.Fields {
		if tgt.calls[i].f != f || tgt.calls[i].key != key {
			t.Fatalf("call %d = %+v", i, tgt.calls[i])
		}
	}
	got, _ := tgt.Get(key)
	if got.Channel != "Channel 2" || got.Location != schedule.LocationPlaceholder {
		t.Fatalf("entry = %+v", got)
	}
}

func TestFullRowBecomesValid(t *testing.T) {
	tgt, key := newTarget(t)
	ed, _ := New(tgt, key, nil, logx.Nop())

	start := schedule.NewDate(2024, 3, 1)
	end := schedule.NewDate(2024, 3, 5)
	for _, step := range []func() error{
		func() error { return ed.SetStartDate(&start) },
		func() error { return ed.SetEndDate(&end) },
		func() error { return ed.SetChannel("channel 4") },
		func() error { return ed.SetLocation("Chicago") },
	} {
		if err := step(); err != nil {
			t.Fatal(err)
		}
	}
	if !tgt.Validate() {
		t.Fatalf("entry not valid: %+v", ed.Local())
	}
	got, _ := tgt.Get(key)
	if *got.StartDate != start || *got.EndDate != end || got.Channel != "Channel 4" || got.Location != "Chicago" {
		t.Fatalf("entry = %+v", got)
	}
}

func TestNilDatePickIgnored(t *testing.T) {
	tgt, key := newTarget(t)
	ed, _ := New(tgt, key, nil, logx.Nop())
	d := schedule.NewDate(2024, 1, 1)
	_ = ed.SetStartDate(&d)
	n := len(tgt.calls)

	if err := ed.SetStartDate(nil); err != nil {
		t.Fatal(err)
	}
	if err := ed.SetEndDate(nil); err != nil {
		t.Fatal(err)
	}
	if len(tgt.calls) != n {
		t.Fatal("nil pick propagated")
	}
	if got := ed.Local(); got.StartDate == nil || *got.StartDate != d {
		t.Fatalf("start cleared: %+v", got)
	}
}

func TestUnknownOptionRejected(t *testing.T) {
	tgt, key := newTarget(t)
	ed, _ := New(tgt, key, nil, logx.Nop())

	for _, in := range []string{"Channel 99", "0", "7", "", schedule.ChannelPlaceholder} {
		if err := ed.SetChannel(in); !errors.Is(err, ErrUnknownOption) {
			t.Fatalf("SetChannel(%q) = %v", in, err)
		}
	}
	if err := ed.SetLocation("Atlantis"); !errors.Is(err, ErrUnknownOption) {
		t.Fatalf("SetLocation = %v", err)
	}
	if len(tgt.calls) != 0 {
		t.Fatal("rejected pick propagated")
	}
}

func TestCustomCatalog(t *testing.T) {
	tgt, key := newTarget(t)
	cat := schedule.Catalog{Channels: []string{"News"}, Locations: []string{"Berlin"}}
	ed, _ := New(tgt, key, func() schedule.Catalog { return cat }, logx.Nop())
	if err := ed.SetLocation("1"); err != nil {
		t.Fatal(err)
	}
	if got := ed.Local().Location; got != "Berlin" {
		t.Fatalf("location = %q", got)
	}
	if err := ed.SetChannel("Channel 1"); !errors.Is(err, ErrUnknownOption) {
		t.Fatalf("SetChannel = %v", err)
	}
}

func TestSeedIsOneTime(t *testing.T) {
	tgt, key := newTarget(t)
	ed, _ := New(tgt, key, nil, logx.Nop())

	// change behind the editor's back
	_ = tgt.Controller.UpdateField(key, schedule.FieldLocation, "Houston")
	if got := ed.Local().Location; got != schedule.LocationPlaceholder {
		t.Fatalf("editor picked up external change: %q", got)
	}

	// next edit pushes the stale local location back
	if err := ed.SetChannel("1"); err != nil {
		t.Fatal(err)
	}
	got, _ := tgt.Get(key)
	if got.Location != schedule.LocationPlaceholder {
		t.Fatalf("location = %q, want stale local value", got.Location)
	}

	_ = tgt.Controller.UpdateField(key, schedule.FieldLocation, "Houston")
	if err := ed.Resync(); err != nil {
		t.Fatal(err)
	}
	if got := ed.Local(); got.Location != "Houston" || got.Channel != "Channel 1" {
		t.Fatalf("after resync = %+v", got)
	}
}

func TestRemove(t *testing.T) {
	tgt, key := newTarget(t)
	ed, _ := New(tgt, key, nil, logx.Nop())
	if err := ed.Remove(); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(tgt.Pending(), []int{key}) {
		t.Fatalf("pending = %v", tgt.Pending())
	}
	if err := ed.SetChannel("1"); !errors.Is(err, controller.ErrNotFound) {
		t.Fatalf("edit after remove = %v", err)
	}
	if err := ed.Resync(); err == nil {
		t.Fatal("Resync after remove should fail")
	}
}

func TestNewUnknownKey(t *testing.T) {
	tgt, _ := newTarget(t)
	if _, err := New(tgt, 42, nil, logx.Nop()); err == nil {
		t.Fatal("New with unknown key should fail")
	}
}
