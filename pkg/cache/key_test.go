package cache

import (
	"strings"
	"testing"
)

func TestKey_String(t *testing.T) {
	tests := []struct {
		name string
		key  Key
		want string
	}{
		{
			name: "object only",
			key:  Key{Object: "contacts"},
			want: "crmexport:properties:contacts",
		},
		{
			name: "with namespace",
			key:  Key{Namespace: "abc123", Object: "deals"},
			want: "crmexport:properties:abc123:deals",
		},
		{
			name: "slashes trimmed",
			key:  Key{Object: "/line_items/"},
			want: "crmexport:properties:line_items",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.key.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNamespace(t *testing.T) {
	a := Namespace("pat-na1-aaaa")
	b := Namespace("pat-na1-bbbb")

	if a == b {
		t.Error("different tokens should give different namespaces")
	}
	if a != Namespace("pat-na1-aaaa") {
		t.Error("Namespace should be deterministic")
	}
	if len(a) != 12 {
		t.Errorf("len(Namespace) = %d, want 12", len(a))
	}
	if strings.Contains(a, "aaaa") {
		t.Error("namespace must not leak the token")
	}
	if Namespace("") != "" {
		t.Error("empty token should give empty namespace")
	}
}
