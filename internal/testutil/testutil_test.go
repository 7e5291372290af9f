package testutil

import (
	"strings"
	"testing"
)

func TestDecodeJSONMap(t *testing.T) {
	out := DecodeJSONMap(t, strings.NewReader(`{"ok":true,"n":3}`))
	if out["ok"] != true {
		t.Errorf("ok = %v", out["ok"])
	}
	if out["n"] != 3.0 {
		t.Errorf("n = %v", out["n"])
	}
}

func TestAssertNoError_NilErr(t *testing.T) {
	fakeT := &testing.T{}
	AssertNoError(fakeT, nil)
	if fakeT.Failed() {
		t.Error("expected no failure for nil error")
	}
}
