package main

import "testing"

func TestParseHeaderAcceptsWellFormedLine(t *testing.T) {
	v, ok := parseHeader("slabmem-dump 0.1.0")
	if !ok {
		t.Fatalf("expected a well-formed header to parse")
	}
	if v != "0.1.0" {
		t.Fatalf("version = %q, want %q", v, "0.1.0")
	}
}

func TestParseHeaderRejectsMissingPrefix(t *testing.T) {
	if _, ok := parseHeader("heap 0: 3 blocks"); ok {
		t.Fatalf("expected a line without the slabmem-dump prefix to be rejected")
	}
}

func TestCompatibleMatchesOnMajorVersionOnly(t *testing.T) {
	if !compatible(formatVersion) {
		t.Fatalf("a dump at this tool's own version should be compatible")
	}
	if !compatible("0.9.9") {
		t.Fatalf("a differing minor/patch within the same major version should be compatible")
	}
	if compatible("9.0.0") {
		t.Fatalf("a differing major version should not be compatible")
	}
	if compatible("not-a-version") {
		t.Fatalf("a malformed version string should not be compatible")
	}
}
