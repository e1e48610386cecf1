package vars

import "testing"

func TestStore_ScopedAccess(t *testing.T) {
	s := NewStore()

	s.Set(ScopeGlobal, "quest", "active", "")
	s.Set(ScopePlayer, "hp", "12", "")
	s.Set(ScopeCharacter, "mood", "wary", "Old Hermit")
	s.Set(ScopeSetting, "lit", "true", "rusty_lantern_inn")

	if v, ok := s.Get(ScopeGlobal, "quest", ""); !ok || v != "active" {
		t.Errorf("global quest = %q, %v", v, ok)
	}
	if v, ok := s.Get(ScopePlayer, "hp", ""); !ok || v != "12" {
		t.Errorf("player hp = %q, %v", v, ok)
	}
	if v, ok := s.Get(ScopeCharacter, "mood", "Old Hermit"); !ok || v != "wary" {
		t.Errorf("character mood = %q, %v", v, ok)
	}
	if _, ok := s.Get(ScopeCharacter, "mood", "Barkeep Sella"); ok {
		t.Error("character scope must be qualified per actor")
	}
	if v, ok := s.Get(ScopeSetting, "lit", "rusty_lantern_inn"); !ok || v != "true" {
		t.Errorf("setting lit = %q, %v", v, ok)
	}
}

func TestStore_KeyNormalization(t *testing.T) {
	s := NewStore()
	s.Set(ScopeGlobal, "  Trust_Level ", "7", "")

	if v, ok := s.Get(ScopeGlobal, "trust_level", ""); !ok || v != "7" {
		t.Errorf("normalized lookup = %q, %v", v, ok)
	}
}

func TestStore_Delete(t *testing.T) {
	s := NewStore()
	s.Set(ScopeGlobal, "temp", "1", "")
	s.Delete(ScopeGlobal, "temp", "")

	if _, ok := s.Get(ScopeGlobal, "temp", ""); ok {
		t.Error("deleted key still present")
	}

	// Deleting a missing key is a no-op.
	s.Delete(ScopeGlobal, "never_set", "")
}

func TestSnapshotRoundTrip(t *testing.T) {
	s := NewStore()
	s.Set(ScopeGlobal, "quest", "active", "")
	s.Set(ScopeCharacter, "mood", "wary", "hermit")

	restored := FromSnapshot(s.Snapshot())

	if v, ok := restored.Get(ScopeGlobal, "quest", ""); !ok || v != "active" {
		t.Errorf("restored global = %q, %v", v, ok)
	}
	if v, ok := restored.Get(ScopeCharacter, "mood", "hermit"); !ok || v != "wary" {
		t.Errorf("restored character = %q, %v", v, ok)
	}

	// The snapshot is a copy, later writes must not leak back.
	s.Set(ScopeGlobal, "quest", "done", "")
	if v, _ := restored.Get(ScopeGlobal, "quest", ""); v != "active" {
		t.Errorf("snapshot aliased the live store, got %q", v)
	}
}
