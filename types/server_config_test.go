package types

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestServerConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ServerConfig
		wantErr bool
	}{
		{"valid", ServerConfig{Port: 9000, Token: "abc"}, false},
		{"empty token", ServerConfig{Port: 9000}, true},
		{"zero port", ServerConfig{Port: 0, Token: "abc"}, true},
		{"port too large", ServerConfig{Port: 70000, Token: "abc"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestServerConfig_Validate_EmptyTokenSentinel(t *testing.T) {
	err := ServerConfig{Port: 1}.Validate()
	if !errors.Is(err, ErrEmptyToken) {
		t.Errorf("expected ErrEmptyToken, got %v", err)
	}
}

func TestServerConfig_BaseURL(t *testing.T) {
	cfg := ServerConfig{Port: 9000, Token: "abc"}
	if got := cfg.BaseURL(); got != "http://127.0.0.1:9000" {
		t.Errorf("BaseURL() = %q", got)
	}
}

func TestServerConfig_TokenPrefix(t *testing.T) {
	tests := []struct {
		token string
		want  string
	}{
		{"abcdefghijklmnopqrstuvwxyz012345", "abcde..."},
		{"abcdef", "abc..."},
		{"a", "..."},
		{"", "..."},
	}
	for _, tt := range tests {
		cfg := ServerConfig{Port: 1, Token: tt.token}
		if got := cfg.TokenPrefix(); got != tt.want {
			t.Errorf("TokenPrefix(%q) = %q, want %q", tt.token, got, tt.want)
		}
	}
}

func TestServerConfig_FormattingNeverLeaksToken(t *testing.T) {
	cfg := ServerConfig{Port: 5005, Token: "tok123-very-secret"}

	for _, out := range []string{
		fmt.Sprintf("%v", cfg),
		fmt.Sprintf("%+v", cfg),
		fmt.Sprintf("%s", cfg),
		fmt.Sprintf("%#v", cfg),
		fmt.Sprintf("%v", cfg.Redact()),
	} {
		if strings.Contains(out, cfg.Token) {
			t.Errorf("formatted output leaks token: %q", out)
		}
	}
}
