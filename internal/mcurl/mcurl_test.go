package mcurl

import "testing"

func TestParseSecure(t *testing.T) {
	u, err := Parse("mcs://sender.example:5000/drop")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !u.Secure || u.Host != "sender.example" || u.Port != 5000 || u.Path != "/drop" {
		t.Fatalf("unexpected parse result: %+v", u)
	}
}

func TestParseInsecureNoPort(t *testing.T) {
	u, err := Parse("mc://10.0.0.1")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if u.Secure || u.Host != "10.0.0.1" || u.Port != 0 {
		t.Fatalf("unexpected parse result: %+v", u)
	}
}

func TestParseRejectsUnknownScheme(t *testing.T) {
	if _, err := Parse("http://host"); err == nil {
		t.Fatal("expected error for non mc/mcs scheme")
	}
}
