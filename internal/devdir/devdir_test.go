package devdir

import "testing"

func sampleTree() []Device {
	return []Device{
		{Name: "Primary ESM", DataSourceID: "1", TypeID: "14"},
		{Name: "recv-east", DataSourceID: "144000000001", TypeID: "2"},
		{Name: "recv-west", DataSourceID: "144000000002", TypeID: "2"},
		{Name: "elm-01", DataSourceID: "144000000003", TypeID: "5"},
	}
}

func TestResolve(t *testing.T) {
	d := New(sampleTree())

	name, ok := d.Resolve("144000000002")
	if !ok || name != "recv-west" {
		t.Errorf("Resolve = %q, %v; want recv-west, true", name, ok)
	}

	if _, ok := d.Resolve("999"); ok {
		t.Error("Resolve of unknown ID succeeded")
	}
}

func TestNewSkipsEmptyAndDuplicateIDs(t *testing.T) {
	d := New([]Device{
		{Name: "no-id", DataSourceID: "", TypeID: "2"},
		{Name: "first", DataSourceID: "144", TypeID: "2"},
		{Name: "duplicate", DataSourceID: "144", TypeID: "2"},
	})

	if d.Len() != 1 {
		t.Fatalf("Len = %d, want 1", d.Len())
	}
	name, _ := d.Resolve("144")
	if name != "first" {
		t.Errorf("duplicate ID replaced the first entry: got %q", name)
	}
}

func TestReceiversKeepsTreeOrder(t *testing.T) {
	recvs := New(sampleTree()).Receivers()
	if len(recvs) != 2 {
		t.Fatalf("got %d receivers, want 2", len(recvs))
	}
	if recvs[0].Name != "recv-east" || recvs[1].Name != "recv-west" {
		t.Errorf("receiver order = %q, %q", recvs[0].Name, recvs[1].Name)
	}
}

func TestAllReturnsCopy(t *testing.T) {
	d := New(sampleTree())
	all := d.All()
	if len(all) != 4 {
		t.Fatalf("All = %d devices, want 4", len(all))
	}

	all[0].Name = "mutated"
	if again := d.All(); again[0].Name == "mutated" {
		t.Error("All exposes internal slice")
	}
}
