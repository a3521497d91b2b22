package controller

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/spf13/afero"

	"schedform/internal/api"
	"schedform/internal/notifier"
	"schedform/internal/schedule"
	"schedform/internal/storage"
	logx "schedform/pkg/logx"
)

type fakeRemote struct {
	mu        sync.Mutex
	fetch     []schedule.Entry
	fetchErr  error
	upsertErr error
	deleteErr error
	upserts   [][]schedule.Entry
	deletes   [][]int
}

func (f *fakeRemote) Fetch(ctx context.Context) ([]schedule.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetch, f.fetchErr
}

func (f *fakeRemote) UpsertAll(ctx context.Context, entries []schedule.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts = append(f.upserts, entries)
	return f.upsertErr
}

func (f *fakeRemote) DeleteByKeys(ctx context.Context, keys []int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, append([]int(nil), keys...))
	return f.deleteErr
}

type toastRecorder struct {
	mu     sync.Mutex
	toasts []notifier.Toast
}

func (r *toastRecorder) Notify(ctx context.Context, t notifier.Toast) error {
	r.mu.Lock()
	r.toasts = append(r.toasts, t)
	r.mu.Unlock()
	return nil
}

func (r *toastRecorder) last() notifier.Toast {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.toasts) == 0 {
		return notifier.Toast{}
	}
	return r.toasts[len(r.toasts)-1]
}

func (r *toastRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.toasts)
}

func keys(entries []schedule.Entry) []int {
	out := []int{}
	for _, e := range entries {
		out = append(out, e.Key)
	}
	return out
}

func complete(t *testing.T, c *Controller, key int) {
	t.Helper()
	steps := []struct {
		f schedule.Field
		v any
	}{
		{schedule.FieldStartDate, schedule.NewDate(2024, 1, 1)},
		{schedule.FieldEndDate, schedule.NewDate(2024, 1, 2)},
		{schedule.FieldChannel, "Channel 1"},
		{schedule.FieldLocation, "New York"},
	}
	for _, s := range steps {
		if err := c.UpdateField(key, s.f, s.v); err != nil {
			t.Fatalf("UpdateField(%d, %s): %v", key, s.f, err)
		}
	}
}

func TestAddRemoveClearScenario(t *testing.T) {
	c := New(&fakeRemote{}, nil)

	if k := c.AddEntry(); k != 0 {
		t.Fatalf("first key = %d", k)
	}
	if k := c.AddEntry(); k != 1 {
		t.Fatalf("second key = %d", k)
	}
	if got := keys(c.Snapshot()); !reflect.DeepEqual(got, []int{0, 1}) {
		t.Fatalf("keys = %v", got)
	}

	if err := c.RemoveEntry(0); err != nil {
		t.Fatalf("RemoveEntry: %v", err)
	}
	if got := keys(c.Snapshot()); !reflect.DeepEqual(got, []int{1}) {
		t.Fatalf("keys after remove = %v", got)
	}
	if got := c.Pending(); !reflect.DeepEqual(got, []int{0}) {
		t.Fatalf("pending after remove = %v", got)
	}

	c.ClearAll()
	if got := c.Snapshot(); len(got) != 0 {
		t.Fatalf("collection after clear = %v", got)
	}
	if got := c.Pending(); !reflect.DeepEqual(got, []int{0, 1}) {
		t.Fatalf("pending after clear = %v", got)
	}
}

func TestAddEntryIsBlank(t *testing.T) {
	c := New(&fakeRemote{}, nil)
	for i := 0; i < 3; i++ {
		c.AddEntry()
	}
	k := c.AddEntry()
	if k != 3 || len(c.Snapshot()) != 4 {
		t.Fatalf("key=%d len=%d", k, len(c.Snapshot()))
	}
	e, ok := c.Get(k)
	if !ok {
		t.Fatal("new entry missing")
	}
	if e.StartDate != nil || e.EndDate != nil || e.Channel != schedule.ChannelPlaceholder || e.Location != schedule.LocationPlaceholder {
		t.Fatalf("new entry = %+v", e)
	}
}

func TestKeysAreNeverReused(t *testing.T) {
	c := New(&fakeRemote{}, nil)
	c.AddEntry()
	c.AddEntry()
	_ = c.RemoveEntry(0)
	if k := c.AddEntry(); k != 2 {
		t.Fatalf("key after removal = %d, want 2", k)
	}
	c.ClearAll()
	if k := c.AddEntry(); k != 3 {
		t.Fatalf("key after clear = %d, want 3", k)
	}
}

func TestRemoveUnknownKey(t *testing.T) {
	c := New(&fakeRemote{}, nil)
	c.AddEntry()
	if err := c.RemoveEntry(7); !errors.Is(err, ErrNotFound) {
		t.Fatalf("RemoveEntry(7) = %v", err)
	}
	if len(c.Pending()) != 0 || len(c.Snapshot()) != 1 {
		t.Fatal("unknown key changed state")
	}
	if err := c.RemoveEntry(0); err != nil {
		t.Fatal(err)
	}
	if err := c.RemoveEntry(0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second RemoveEntry(0) = %v", err)
	}
	if got := c.Pending(); !reflect.DeepEqual(got, []int{0}) {
		t.Fatalf("pending = %v", got)
	}
}

func TestUpdateFieldCopyOnWrite(t *testing.T) {
	c := New(&fakeRemote{}, nil)
	c.AddEntry()
	c.AddEntry()
	before := c.Snapshot()

	if err := c.UpdateField(1, schedule.FieldChannel, "Channel 2"); err != nil {
		t.Fatal(err)
	}
	after := c.Snapshot()

	if before[1].Channel != schedule.ChannelPlaceholder {
		t.Fatalf("old snapshot mutated: %+v", before[1])
	}
	if after[1].Channel != "Channel 2" {
		t.Fatalf("channel = %q", after[1].Channel)
	}
	if after[0] != before[0] {
		t.Fatalf("other entry changed: %+v vs %+v", after[0], before[0])
	}
	want := before[1]
	want.Channel = "Channel 2"
	if after[1] != want {
		t.Fatalf("other fields changed: %+v", after[1])
	}
}

func TestUpdateFieldErrors(t *testing.T) {
	c := New(&fakeRemote{}, nil)
	c.AddEntry()
	if err := c.UpdateField(5, schedule.FieldChannel, "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown key: %v", err)
	}
	if err := c.UpdateField(0, schedule.FieldStartDate, "2024-01-01"); !errors.Is(err, ErrFieldValue) {
		t.Fatalf("wrong type: %v", err)
	}
	if err := c.UpdateField(0, schedule.Field("color"), "red"); !errors.Is(err, ErrFieldValue) {
		t.Fatalf("unknown field: %v", err)
	}
	rev := c.Revision()
	_ = c.UpdateField(0, schedule.FieldChannel, 3)
	if c.Revision() != rev {
		t.Fatal("failed update bumped revision")
	}
}

func TestValidateGate(t *testing.T) {
	c := New(&fakeRemote{}, nil)
	if !c.Validate() {
		t.Fatal("empty collection should validate")
	}
	c.AddEntry()
	if c.Validate() {
		t.Fatal("blank entry validated")
	}
	complete(t, c, 0)
	if !c.Validate() {
		t.Fatal("complete entry rejected")
	}
	_ = c.UpdateField(0, schedule.FieldLocation, schedule.LocationPlaceholder)
	if c.Validate() {
		t.Fatal("placeholder location validated")
	}
}

func TestSaveInvalidMakesNoCalls(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()
	cl, err := api.New(api.Config{BaseURL: srv.URL}, srv.Client(), logx.Nop())
	if err != nil {
		t.Fatal(err)
	}

	n := &toastRecorder{}
	c := New(cl, n)
	c.AddEntry()
	_ = c.UpdateField(0, schedule.FieldStartDate, schedule.NewDate(2024, 1, 1))
	_ = c.UpdateField(0, schedule.FieldChannel, "Channel 1")
	_ = c.UpdateField(0, schedule.FieldLocation, "New York")

	if err := c.Save(context.Background()); !errors.Is(err, ErrInvalid) {
		t.Fatalf("Save() = %v, want ErrInvalid", err)
	}
	if hits.Load() != 0 {
		t.Fatalf("server saw %d requests", hits.Load())
	}
	got := n.last()
	if got.Title != TitleInvalid || got.Description != DescInvalid || got.Variant != notifier.VariantDestructive {
		t.Fatalf("toast = %+v", got)
	}
}

func TestLoadParsesDates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != api.PathFetch {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, `[{"key":0,"startDate":"2024-01-01","endDate":"2024-01-02","channel":"Channel 1","location":"New York"}]`)
	}))
	defer srv.Close()
	cl, err := api.New(api.Config{BaseURL: srv.URL}, srv.Client(), logx.Nop())
	if err != nil {
		t.Fatal(err)
	}

	c := New(cl, nil)
	if err := c.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	got := c.Snapshot()
	if len(got) != 1 {
		t.Fatalf("entries = %+v", got)
	}
	e := got[0]
	if e.StartDate == nil || *e.StartDate != schedule.NewDate(2024, 1, 1) {
		t.Fatalf("start = %v", e.StartDate)
	}
	if e.EndDate == nil || *e.EndDate != schedule.NewDate(2024, 1, 2) {
		t.Fatalf("end = %v", e.EndDate)
	}
	if e.Channel != "Channel 1" || e.Location != "New York" {
		t.Fatalf("entry = %+v", e)
	}
	if c.Dirty() {
		t.Fatal("freshly loaded collection is dirty")
	}
	if k := c.AddEntry(); k != 1 {
		t.Fatalf("key after load = %d, want 1", k)
	}
}

func TestLoadFailureIsSilent(t *testing.T) {
	n := &toastRecorder{}
	r := &fakeRemote{fetchErr: errors.New("connection refused")}
	c := New(r, n)
	c.AddEntry()

	if err := c.Load(context.Background()); err == nil {
		t.Fatal("Load() = nil, want error")
	}
	if n.count() != 0 {
		t.Fatalf("load failure produced toast %+v", n.last())
	}
	if got := keys(c.Snapshot()); !reflect.DeepEqual(got, []int{0}) {
		t.Fatalf("collection changed: %v", got)
	}
}

func TestLoadRejectsDuplicateKeys(t *testing.T) {
	n := &toastRecorder{}
	r := &fakeRemote{fetch: []schedule.Entry{
		{Key: 3, Channel: "Channel 1", Location: "New York"},
		{Key: 5, Channel: "Channel 2", Location: "Chicago"},
		{Key: 3, Channel: "Channel 3", Location: "Phoenix"},
	}}
	c := New(r, n)
	c.AddEntry()

	err := c.Load(context.Background())
	if !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("Load() = %v, want ErrDuplicateKey", err)
	}
	if n.count() != 0 {
		t.Fatalf("rejected load produced toast %+v", n.last())
	}
	if got := keys(c.Snapshot()); !reflect.DeepEqual(got, []int{0}) {
		t.Fatalf("collection changed: %v", got)
	}
}

func TestDuplicateKeys(t *testing.T) {
	entries := []schedule.Entry{{Key: 1}, {Key: 2}, {Key: 1}, {Key: 2}, {Key: 1}, {Key: 4}}
	if got := duplicateKeys(entries); !reflect.DeepEqual(got, []int{1, 2}) {
		t.Fatalf("duplicateKeys = %v, want [1 2]", got)
	}
	if got := duplicateKeys(entries[:2]); got != nil {
		t.Fatalf("duplicateKeys of unique keys = %v", got)
	}
}

func TestSaveUpsertsThenDeletes(t *testing.T) {
	var (
		mu      sync.Mutex
		paths   []string
		upsert  []map[string]any
		deleted []int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		paths = append(paths, r.URL.Path)
		switch r.URL.Path {
		case api.PathUpsert:
			_ = json.NewDecoder(r.Body).Decode(&upsert)
		case api.PathDelete:
			_ = json.NewDecoder(r.Body).Decode(&deleted)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	cl, err := api.New(api.Config{BaseURL: srv.URL}, srv.Client(), logx.Nop())
	if err != nil {
		t.Fatal(err)
	}

	n := &toastRecorder{}
	c := New(cl, n)
	c.AddEntry()
	c.AddEntry()
	complete(t, c, 1)
	_ = c.RemoveEntry(0)

	if err := c.Save(context.Background()); err != nil {
		t.Fatalf("Save: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if !reflect.DeepEqual(paths, []string{api.PathUpsert, api.PathDelete}) {
		t.Fatalf("paths = %v", paths)
	}
	if len(upsert) != 1 || upsert[0]["key"] != float64(1) || upsert[0]["startDate"] != "2024-01-01T00:00:00.000Z" {
		t.Fatalf("upsert body = %v", upsert)
	}
	if !reflect.DeepEqual(deleted, []int{0}) {
		t.Fatalf("delete body = %v", deleted)
	}
	if got := c.Pending(); len(got) != 0 {
		t.Fatalf("pending after save = %v", got)
	}
	if c.Dirty() {
		t.Fatal("dirty after save")
	}
	got := n.last()
	if got.Title != TitleSaved || got.Description != DescSaved || got.Variant != notifier.VariantSuccess {
		t.Fatalf("toast = %+v", got)
	}
}

func TestSaveSkipsEmptyCalls(t *testing.T) {
	r := &fakeRemote{}
	n := &toastRecorder{}
	c := New(r, n)

	if err := c.Save(context.Background()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if len(r.upserts) != 0 || len(r.deletes) != 0 {
		t.Fatalf("calls: upserts=%d deletes=%d", len(r.upserts), len(r.deletes))
	}
	if n.last().Title != TitleSaved {
		t.Fatalf("toast = %+v", n.last())
	}

	c.AddEntry()
	c.ClearAll()
	if err := c.Save(context.Background()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if len(r.upserts) != 0 || len(r.deletes) != 1 {
		t.Fatalf("calls: upserts=%d deletes=%d", len(r.upserts), len(r.deletes))
	}
}

func TestSaveUpsertFailureStopsBeforeDelete(t *testing.T) {
	r := &fakeRemote{upsertErr: &api.StatusError{Op: "upsert schedules", StatusCode: 500}}
	n := &toastRecorder{}
	c := New(r, n)
	c.AddEntry()
	c.AddEntry()
	complete(t, c, 1)
	_ = c.RemoveEntry(0)

	err := c.Save(context.Background())
	var se *api.StatusError
	if !errors.As(err, &se) || se.StatusCode != 500 {
		t.Fatalf("Save() = %v", err)
	}
	if len(r.deletes) != 0 {
		t.Fatal("delete called after failed upsert")
	}
	if got := n.last(); got.Title != TitleSaveFailed || got.Variant != notifier.VariantDestructive || got.Description == "" {
		t.Fatalf("toast = %+v", got)
	}
	if got := c.Pending(); !reflect.DeepEqual(got, []int{0}) {
		t.Fatalf("pending = %v", got)
	}
}

func TestSaveDeleteFailureKeepsPending(t *testing.T) {
	r := &fakeRemote{deleteErr: errors.New("boom")}
	n := &toastRecorder{}
	c := New(r, n)
	c.AddEntry()
	_ = c.RemoveEntry(0)

	if err := c.Save(context.Background()); err == nil {
		t.Fatal("Save() = nil")
	}
	if got := n.last(); got.Title != TitleDeleteFailed {
		t.Fatalf("toast = %+v", got)
	}
	if got := c.Pending(); !reflect.DeepEqual(got, []int{0}) {
		t.Fatalf("pending = %v", got)
	}
	if len(c.Snapshot()) != 0 {
		t.Fatal("removed entry came back")
	}

	r.deleteErr = nil
	if err := c.Save(context.Background()); err != nil {
		t.Fatalf("retry Save: %v", err)
	}
	if len(c.Pending()) != 0 {
		t.Fatal("pending not cleared after successful delete")
	}
	if len(r.deletes) != 2 {
		t.Fatalf("deletes = %v", r.deletes)
	}
}

type blockingRemote struct {
	fakeRemote
	entered chan struct{}
	release chan struct{}
}

func (b *blockingRemote) DeleteByKeys(ctx context.Context, keys []int) error {
	close(b.entered)
	<-b.release
	return b.fakeRemote.DeleteByKeys(ctx, keys)
}

func TestSaveClearsOnlySubmittedKeys(t *testing.T) {
	r := &blockingRemote{entered: make(chan struct{}), release: make(chan struct{})}
	c := New(r, nil)
	c.AddEntry()
	c.AddEntry()
	complete(t, c, 1)
	_ = c.RemoveEntry(0)

	done := make(chan error, 1)
	go func() { done <- c.Save(context.Background()) }()

	<-r.entered
	// edits made while the save is in flight survive it
	_ = c.RemoveEntry(1)
	close(r.release)

	if err := <-done; err != nil {
		t.Fatalf("Save: %v", err)
	}
	if got := c.Pending(); !reflect.DeepEqual(got, []int{1}) {
		t.Fatalf("pending = %v, want [1]", got)
	}
	if !c.Dirty() {
		t.Fatal("edit during save should leave collection dirty")
	}
}

func TestDirtyTracksMutations(t *testing.T) {
	r := &fakeRemote{}
	c := New(r, nil)
	if c.Dirty() {
		t.Fatal("new controller dirty")
	}
	c.AddEntry()
	if !c.Dirty() {
		t.Fatal("not dirty after add")
	}
	complete(t, c, 0)
	if err := c.Save(context.Background()); err != nil {
		t.Fatal(err)
	}
	if c.Dirty() {
		t.Fatal("dirty after save")
	}
	_ = c.UpdateField(0, schedule.FieldChannel, "Channel 2")
	if !c.Dirty() {
		t.Fatal("not dirty after update")
	}
}

func TestSaveWritesAudit(t *testing.T) {
	st, err := storage.Open(storage.Config{Driver: "file", Path: "/data/store", Fs: afero.NewMemMapFs()}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	r := &fakeRemote{deleteErr: errors.New("gone")}
	c := New(r, nil, WithStore(st))
	c.AddEntry()
	c.AddEntry()
	complete(t, c, 1)
	_ = c.RemoveEntry(0)
	_ = c.Save(context.Background())

	got, err := st.ListAudit(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("audit = %+v", got)
	}
	if got[0].Action != storage.ActionDelete || got[0].OK || got[0].Error != "gone" || !reflect.DeepEqual(got[0].Keys, []int{0}) {
		t.Fatalf("delete audit = %+v", got[0])
	}
	if got[1].Action != storage.ActionUpsert || !got[1].OK || got[1].Count != 1 {
		t.Fatalf("upsert audit = %+v", got[1])
	}
	if got[0].Op == "" || got[0].Op != got[1].Op {
		t.Fatalf("save records should share an op id: %q vs %q", got[0].Op, got[1].Op)
	}
}
