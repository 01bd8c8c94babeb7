package validate

import (
	"errors"
	"regexp"
	"strings"
	"testing"
)

func TestString(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		constraints StringConstraints
		wantErr     error
		wantOutput  string
	}{
		{
			name:  "valid string within length constraints",
			input: "Hello World",
			constraints: StringConstraints{
				MinLength: 5,
				MaxLength: 20,
				TrimSpace: true,
			},
			wantErr:    nil,
			wantOutput: "Hello World",
		},
		{
			name:  "string too short",
			input: "Hi",
			constraints: StringConstraints{
				MinLength: 5,
				MaxLength: 20,
			},
			wantErr: ErrStringTooShort,
		},
		{
			name:  "string too long",
			input: strings.Repeat("a", 101),
			constraints: StringConstraints{
				MinLength: 1,
				MaxLength: 100,
			},
			wantErr: ErrStringTooLong,
		},
		{
			name:  "length counts runes not bytes",
			input: strings.Repeat("é", 10),
			constraints: StringConstraints{
				MaxLength: 10,
			},
			wantErr:    nil,
			wantOutput: strings.Repeat("é", 10),
		},
		{
			name:  "empty string not allowed",
			input: "",
			constraints: StringConstraints{
				AllowEmpty: false,
			},
			wantErr: ErrEmpty,
		},
		{
			name:  "empty string allowed",
			input: "",
			constraints: StringConstraints{
				AllowEmpty: true,
			},
			wantErr:    nil,
			wantOutput: "",
		},
		{
			name:  "whitespace trimmed",
			input: "  Hello  ",
			constraints: StringConstraints{
				TrimSpace: true,
			},
			wantErr:    nil,
			wantOutput: "Hello",
		},
		{
			name:  "pattern validation success",
			input: "valid-name_123",
			constraints: StringConstraints{
				AllowedPattern: regexp.MustCompile(`^[a-zA-Z0-9_\-]+$`),
			},
			wantErr:    nil,
			wantOutput: "valid-name_123",
		},
		{
			name:  "pattern validation failure",
			input: "invalid name!",
			constraints: StringConstraints{
				AllowedPattern: regexp.MustCompile(`^[a-zA-Z0-9_\-]+$`),
			},
			wantErr: ErrInvalidCharacters,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := String(tt.input, tt.constraints)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("String() error = %v, wantErr %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Errorf("String() unexpected error = %v", err)
				return
			}
			if got != tt.wantOutput {
				t.Errorf("String() = %q, want %q", got, tt.wantOutput)
			}
		})
	}
}

func TestSanitizeHTML(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "plain text unchanged",
			input: "Hello World",
			want:  "Hello World",
		},
		{
			name:  "script tag escaped",
			input: "<script>alert('xss')</script>",
			want:  "&lt;script&gt;alert(&#39;xss&#39;)&lt;/script&gt;",
		},
		{
			name:  "ampersand escaped",
			input: "Tom & Jerry",
			want:  "Tom &amp; Jerry",
		},
		{
			name:  "quotes escaped",
			input: `He said "hello"`,
			want:  "He said &#34;hello&#34;",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SanitizeHTML(tt.input)
			if got != tt.want {
				t.Errorf("SanitizeHTML() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPersonName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{
			name:    "plain name",
			input:   "Ada Lovelace",
			wantErr: false,
		},
		{
			name:    "single character",
			input:   "X",
			wantErr: false,
		},
		{
			name:    "name at max length",
			input:   strings.Repeat("a", 200),
			wantErr: false,
		},
		{
			name:    "name too long",
			input:   strings.Repeat("a", 201),
			wantErr: true,
		},
		{
			name:    "empty name",
			input:   "",
			wantErr: true,
		},
		{
			name:    "whitespace only",
			input:   "   ",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := PersonName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("PersonName() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && got == "" {
				t.Error("PersonName() returned empty string for valid input")
			}
		})
	}

	// Markup in a name must come back escaped
	got, err := PersonName(`Ada <script>`)
	if err != nil {
		t.Fatalf("PersonName() error = %v", err)
	}
	if strings.Contains(got, "<") {
		t.Errorf("PersonName() did not escape HTML: %q", got)
	}
}

func TestJobTitle(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{
			name:    "plain title",
			input:   "Staff Engineer",
			want:    "Staff Engineer",
			wantErr: false,
		},
		{
			name:    "empty title allowed",
			input:   "",
			want:    "",
			wantErr: false,
		},
		{
			name:    "trimmed",
			input:   "  SRE  ",
			want:    "SRE",
			wantErr: false,
		},
		{
			name:    "title too long",
			input:   strings.Repeat("a", 257),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := JobTitle(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("JobTitle() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("JobTitle() = %q, want %q", got, tt.want)
			}
		})
	}
}
