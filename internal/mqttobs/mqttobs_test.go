package mqttobs

import "testing"

func TestHandleUpdatesCachedObservation(t *testing.T) {
	g := New(Config{Topic: "cogkernel/observation"}, nil)

	g.handle("cogkernel/observation/energy", []byte("2"))
	g.handle("cogkernel/observation/phi", []byte("1"))

	obs, err := g.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	if obs.Energy != 2 {
		t.Errorf("Energy = %d, want 2", obs.Energy)
	}
	if obs.Phi != 1 {
		t.Errorf("Phi = %d, want 1", obs.Phi)
	}
	if obs.Tool != 0 {
		t.Errorf("Tool = %d, want 0 (never received)", obs.Tool)
	}
}

func TestHandleIgnoresUnrelatedTopic(t *testing.T) {
	g := New(Config{Topic: "cogkernel/observation"}, nil)
	g.handle("some/other/topic", []byte("5"))

	if got := g.FieldsReceived(); len(got) != 0 {
		t.Errorf("FieldsReceived() = %v, want none", got)
	}
}

func TestHandleIgnoresNonIntegerPayload(t *testing.T) {
	g := New(Config{Topic: "cogkernel/observation"}, nil)
	g.handle("cogkernel/observation/task", []byte("not-a-number"))

	if got := g.FieldsReceived(); len(got) != 0 {
		t.Errorf("FieldsReceived() = %v, want none after malformed payload", got)
	}
}

func TestFieldsReceivedTracksEachFieldIndependently(t *testing.T) {
	g := New(Config{Topic: "cogkernel/observation"}, nil)
	g.handle("cogkernel/observation/tool", []byte("3"))
	g.handle("cogkernel/observation/coherence", []byte("1"))

	got := g.FieldsReceived()
	want := map[string]bool{"tool": true, "coherence": true}
	if len(got) != len(want) {
		t.Fatalf("FieldsReceived() = %v, want 2 entries", got)
	}
	for _, f := range got {
		if !want[f] {
			t.Errorf("unexpected field %q in FieldsReceived()", f)
		}
	}
}
