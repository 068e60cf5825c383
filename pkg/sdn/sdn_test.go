package sdn

import "testing"

func TestTpID(t *testing.T) {
	if got := tpID("openflow:40960020:2"); got != "40960020" {
		t.Errorf("tpID(switch) = %q, want 40960020", got)
	}
	if got := tpID("host:ab:cd:ef:00:11:22"); got != "ab:cd:ef:00:11:22" {
		t.Errorf("tpID(host) = %q, want ab:cd:ef:00:11:22", got)
	}
}

func TestTpPort(t *testing.T) {
	port, ok := tpPort("openflow:40960020:2")
	if !ok || port != 2 {
		t.Errorf("tpPort(switch) = (%d, %v), want (2, true)", port, ok)
	}
	if _, ok := tpPort("openflow:40960020:LOCAL"); ok {
		t.Error("LOCAL port should not resolve to a numeric port")
	}
	if _, ok := tpPort("host:ab:cd:ef:00:11:22"); ok {
		t.Error("host termination points carry no port")
	}
}

func TestIsSwitchTP(t *testing.T) {
	if !isSwitchTP("openflow:40960020:2") {
		t.Error("expected openflow: prefix to be a switch tp")
	}
	if isSwitchTP("host:ab:cd:ef:00:11:22") {
		t.Error("host: prefix must not be a switch tp")
	}
}
