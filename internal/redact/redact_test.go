package redact

import (
	"strings"
	"testing"

	"github.com/lollipopman/conman/internal/confparse"
)

func TestDevice(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"/dev/ttyS0", "/dev/ttyS0"},
		{"ts1:7002", "ts1:7002"},
		{"ipmi:admin:hunter2@node1-bmc", "ipmi:admin:******@node1-bmc"},
		{"ipmi:node1-bmc", "ipmi:node1-bmc"},
		{"|/usr/bin/ipmiconsole -h node1 --password=hunter2", "|/usr/bin/ipmiconsole -h node1 --password=******"},
		{"|/usr/bin/ipmiconsole -h node1 --password hunter2 -u admin", "|/usr/bin/ipmiconsole -h node1 --password ****** -u admin"},
	}
	for _, tc := range cases {
		if got := Device(tc.in); got != tc.want {
			t.Fatalf("Device(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestConsole(t *testing.T) {
	def := confparse.ConsoleDef{
		Name: "node1",
		Dev:  "ipmi:admin:hunter2@node1-bmc",
		Rst:  "/sbin/bmc-reset --pass hunter2 node1",
		Bps:  9600,
	}
	got := Console(def)
	if strings.Contains(got.Dev, "hunter2") || strings.Contains(got.Rst, "hunter2") {
		t.Fatalf("secret leaked: %+v", got)
	}
	if got.Name != "node1" || got.Bps != 9600 {
		t.Fatalf("non-secret fields altered: %+v", got)
	}
	// The original definition is untouched.
	if def.Dev != "ipmi:admin:hunter2@node1-bmc" {
		t.Fatal("redaction mutated its input")
	}
}
