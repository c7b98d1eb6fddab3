package perfclient

import "testing"

func TestParseArgsBareFlagDefaultsToOne(t *testing.T) {
	m := parseArgs([]string{"-tcp"})
	v, ok, err := m.boolv("tcp")
	if err != nil || !ok || !v {
		t.Fatalf("expected tcp=1, got v=%v ok=%v err=%v", v, ok, err)
	}
}

func TestParseArgsLaterSynonymWins(t *testing.T) {
	m := parseArgs([]string{"-upload:100", "-up:200"})
	v, ok, err := m.u64("upload", "up")
	if err != nil || !ok || v != 200 {
		t.Fatalf("expected 200 (last synonym wins), got v=%d ok=%v err=%v", v, ok, err)
	}
}

func TestParseArgsColonInValuePreserved(t *testing.T) {
	m := parseArgs([]string{"-bind:fe80::1,::1"})
	v, ok := m.str("bind")
	if !ok || v != "fe80::1,::1" {
		t.Fatalf("unexpected bind value %q ok=%v", v, ok)
	}
}

func TestParseArgsBoolRejectsNonBinary(t *testing.T) {
	m := parseArgs([]string{"-tcp:yes"})
	_, ok, err := m.boolv("tcp")
	if !ok || err == nil {
		t.Fatalf("expected an error for non-binary bool value")
	}
}

func TestParseArgsU16Overflow(t *testing.T) {
	m := parseArgs([]string{"-port:70000"})
	_, ok, err := m.u16("port")
	if !ok || err == nil {
		t.Fatalf("expected overflow error for 16-bit field")
	}
}
