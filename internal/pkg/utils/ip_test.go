package utils

import "testing"

func TestNormalizeIP(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"192.0.2.1", "192.0.2.1"},
		{"192.0.2.1:8080", "192.0.2.1"},
		{"::ffff:192.0.2.1", "192.0.2.1"},
		{"192.0.2.1, 10.0.0.1", "192.0.2.1"},
		{"[2001:db8::1]:443", "2001:db8::1"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := NormalizeIP(tt.input); got != tt.expected {
			t.Errorf("NormalizeIP(%q) = %q, expected %q", tt.input, got, tt.expected)
		}
	}
}

func TestIsValidPortRange(t *testing.T) {
	valid := []string{"80", "1-1024", "22,80,443", "1-1024,8080", "65535"}
	for _, s := range valid {
		if !IsValidPortRange(s) {
			t.Errorf("Expected %q to be a valid port range", s)
		}
	}

	invalid := []string{"", "0", "65536", "1024-1", "80-", "a-b", "1-2-3", "22,,80"}
	for _, s := range invalid {
		if IsValidPortRange(s) {
			t.Errorf("Expected %q to be an invalid port range", s)
		}
	}
}

func TestIsValidHostname(t *testing.T) {
	valid := []string{"example.com", "scan-target.internal", "localhost", "a.b.c.d.example."}
	for _, s := range valid {
		if !IsValidHostname(s) {
			t.Errorf("Expected %q to be a valid hostname", s)
		}
	}

	invalid := []string{"", "-bad.com", "bad-.com", "under_score.com", "192.0.2.1"}
	for _, s := range invalid {
		if IsValidHostname(s) {
			t.Errorf("Expected %q to be an invalid hostname", s)
		}
	}
}

func TestIPInCIDRs(t *testing.T) {
	cidrs := []string{"10.0.0.0/8", "192.168.0.0/16"}

	if !IPInCIDRs("10.1.2.3", cidrs) {
		t.Error("Expected 10.1.2.3 to be inside 10.0.0.0/8")
	}
	if IPInCIDRs("172.16.0.1", cidrs) {
		t.Error("Expected 172.16.0.1 to be outside the allowed ranges")
	}
	// 空列表不限制
	if !IPInCIDRs("8.8.8.8", nil) {
		t.Error("Expected empty cidr list to allow any ip")
	}
	if IPInCIDRs("not-an-ip", cidrs) {
		t.Error("Expected invalid ip to be rejected")
	}
}
