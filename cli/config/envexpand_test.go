package config

import "testing"

func TestExpandEnv(t *testing.T) {
	t.Setenv("NIMBUS_SET", "real")
	t.Setenv("NIMBUS_EMPTY", "")
	t.Setenv("NIMBUS_PORT", "5005")

	tests := []struct {
		in   string
		want string
	}{
		{"binary: ${NIMBUS_SET}", "binary: real"},
		{"binary: ${NIMBUS_UNSET_12345}", "binary: "},
		{"binary: ${NIMBUS_UNSET_12345:-bin/api}", "binary: bin/api"},
		{"binary: ${NIMBUS_SET:-fallback}", "binary: real"},
		{"binary: ${NIMBUS_EMPTY:-fallback}", "binary: fallback"},
		{"url: http://127.0.0.1:${NIMBUS_PORT}/${NIMBUS_SET}", "url: http://127.0.0.1:5005/real"},
		{"plain: $NIMBUS_SET", "plain: $NIMBUS_SET"},
		{"no vars here", "no vars here"},
	}
	for _, tt := range tests {
		if got := ExpandEnv(tt.in); got != tt.want {
			t.Errorf("ExpandEnv(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
