package framework

import "testing"

func TestParse(t *testing.T) {
	p, err := Parse("net8.0")
	if err != nil {
		t.Fatal(err)
	}
	if p.Identifier != "net" || p.Version != "8.0" {
		t.Errorf("got %+v", p)
	}
}

func TestCompatibleWith(t *testing.T) {
	net8 := Profile{"net", "8.0"}
	netstandard20 := Profile{"netstandard", "2.0"}
	netstandard30 := Profile{"netstandard", "3.0"}

	if !CompatibleWith(netstandard20, net8) {
		t.Error("net8 consumer should accept netstandard2.0 library")
	}
	if CompatibleWith(netstandard30, netstandard20) {
		t.Error("netstandard2.0 consumer should not accept netstandard3.0 library (newer than consumer)")
	}
	if CompatibleWith(net8, netstandard20) {
		t.Error("netstandard consumer should not accept net-specific library")
	}
}
