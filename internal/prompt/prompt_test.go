package prompt

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestStdinConfirmer(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		defaultYes bool
		want       bool
		wantErr    bool
	}{
		{"y", "y\n", false, true, false},
		{"YES", "YES\n", false, true, false},
		{"n", "n\n", true, false, false},
		{"no with spaces", "  no  \n", true, false, false},
		{"empty takes default yes", "\n", true, true, false},
		{"empty takes default no", "\n", false, false, false},
		{"eof takes default", "", true, true, false},
		{"invalid", "maybe\n", false, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			c := NewStdinConfirmer(strings.NewReader(tt.input), &out)
			got, err := c.Confirm("Overwrite?", tt.defaultYes)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Confirm() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Confirm() = %v, want %v", got, tt.want)
			}
			wantHint := "[y/N]"
			if tt.defaultYes {
				wantHint = "[Y/n]"
			}
			if !strings.Contains(out.String(), "Overwrite? "+wantHint) {
				t.Errorf("prompt output = %q", out.String())
			}
		})
	}
}

func TestTerminalCredentialReader_NonTerminal(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
		wantErr error
	}{
		{"line", "hunter2\nignored\n", "hunter2", nil},
		{"crlf", "hunter2\r\n", "hunter2", nil},
		{"no newline", "hunter2", "hunter2", nil},
		{"spaces kept", " pass word \n", " pass word ", nil},
		{"empty", "\n", "", ErrEmptyCredential},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "in")
			if err := os.WriteFile(path, []byte(tt.content), 0o600); err != nil {
				t.Fatal(err)
			}
			f, err := os.Open(path)
			if err != nil {
				t.Fatal(err)
			}
			defer f.Close()

			var out bytes.Buffer
			got, err := NewTerminalCredentialReader(f, &out).ReadCredential("Password: ")
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ReadCredential() error = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ReadCredential() = %q, want %q", got, tt.want)
			}
			if out.Len() != 0 {
				t.Errorf("non-terminal read should not print a prompt, got %q", out.String())
			}
		})
	}
}

func TestMockCredentialReader(t *testing.T) {
	m := NewMockCredentialReader("one", "two")
	for _, want := range []string{"one", "two"} {
		got, err := m.ReadCredential("p")
		if err != nil || got != want {
			t.Errorf("ReadCredential() = %q, %v; want %q", got, err, want)
		}
	}
	if _, err := m.ReadCredential("p"); !errors.Is(err, ErrEmptyCredential) {
		t.Errorf("exhausted mock error = %v, want ErrEmptyCredential", err)
	}
	if len(m.Calls) != 3 {
		t.Errorf("Calls = %v", m.Calls)
	}

	m.Err = errors.New("boom")
	if _, err := m.ReadCredential("p"); err == nil {
		t.Error("expected configured error")
	}
}

func TestMockConfirmer(t *testing.T) {
	m := &MockConfirmer{Answers: []bool{false}}
	if got, _ := m.Confirm("a", true); got {
		t.Error("first answer should be false")
	}
	if got, _ := m.Confirm("b", true); !got {
		t.Error("exhausted mock should return the default")
	}
}
