package channel

import "testing"

func TestAllowList_Allows(t *testing.T) {
	allow := NewAllowList([]string{"u1", " "})
	if !allow.Allows("u1") {
		t.Fatal("expected u1 allowed")
	}
	if allow.Allows("u2") {
		t.Fatal("expected u2 denied")
	}
}

func TestAllowList_CompoundSenderAndUsername(t *testing.T) {
	allow := NewAllowList([]string{"123456", "@alice"})
	if !allow.Allows("123456|bob") {
		t.Fatal("expected sender allowed by id in compound sender string")
	}
	if !allow.Allows("999999|alice") {
		t.Fatal("expected sender allowed by username with @ prefix")
	}
	if allow.Allows("999999|mallory") {
		t.Fatal("expected unknown sender denied")
	}
}

func TestAllowList_EmptyAllowsEveryone(t *testing.T) {
	if !NewAllowList(nil).Allows("anyone") {
		t.Fatal("expected empty allowlist to allow")
	}
}
