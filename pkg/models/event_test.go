package models

import "testing"

func TestEventKind_Valid(t *testing.T) {
	valid := []EventKind{EventStatus, EventPlanReady, EventAgentLog, EventFileVerified, EventComplete, EventError}
	for _, k := range valid {
		if !k.Valid() {
			t.Errorf("EventKind(%q).Valid() = false, want true", k)
		}
	}
	for _, k := range []EventKind{"", "heartbeat", "statuss"} {
		if k.Valid() {
			t.Errorf("EventKind(%q).Valid() = true, want false", k)
		}
	}
}

func TestFileAction_Valid(t *testing.T) {
	for _, a := range []FileAction{FileActionCreate, FileActionEdit, FileActionDelete} {
		if !a.Valid() {
			t.Errorf("FileAction(%q).Valid() = false, want true", a)
		}
	}
	for _, a := range []FileAction{"", "rename", "truncate"} {
		if a.Valid() {
			t.Errorf("FileAction(%q).Valid() = true, want false", a)
		}
	}
}
