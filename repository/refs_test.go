package repository

import "testing"

func TestIsFullCommitHash(t *testing.T) {
	tests := []struct {
		name string
		hash string
		want bool
	}{
		{"sha1", "ce7d2fb5c4e4e0b4bc1a9d7a5d3b5b1d0c0a7f3e", true},
		{"sha1-upper", "CE7D2FB5C4E4E0B4BC1A9D7A5D3B5B1D0C0A7F3E", true},
		{"sha256", "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08", true},
		{"short", "ce7d2fb", false},
		{"non-hex", "ze7d2fb5c4e4e0b4bc1a9d7a5d3b5b1d0c0a7f3e", false},
		{"41-chars", "ce7d2fb5c4e4e0b4bc1a9d7a5d3b5b1d0c0a7f3ea", false},
		{"empty", "", false},
		{"branch", "main", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsFullCommitHash(tt.hash); got != tt.want {
				t.Errorf("IsFullCommitHash() = %v, want %v", got, tt.want)
			}
		})
	}
}

func Test_parseLsRemote(t *testing.T) {
	const (
		hash1 = "1111111111111111111111111111111111111111"
		hash2 = "2222222222222222222222222222222222222222"
		hash3 = "3333333333333333333333333333333333333333"
	)

	tests := []struct {
		name    string
		out     string
		want    string
		wantErr bool
	}{
		{"branch", hash1 + "\trefs/heads/main", hash1, false},
		{"trailing-newline", hash1 + "\trefs/heads/main\n", hash1, false},
		{"multiple-matches-first-wins",
			hash1 + "\trefs/heads/release/v1\n" + hash2 + "\trefs/tags/release/v1",
			hash1, false},
		{"annotated-tag-peeled",
			hash1 + "\trefs/tags/v1.0.0\n" + hash2 + "\trefs/tags/v1.0.0^{}",
			hash2, false},
		{"peeled-listed-first",
			hash2 + "\trefs/tags/v1.0.0^{}\n" + hash1 + "\trefs/tags/v1.0.0",
			hash1, false},
		{"peeled-of-other-ref-ignored",
			hash1 + "\trefs/heads/v1\n" + hash2 + "\trefs/tags/v1\n" + hash3 + "\trefs/tags/v1^{}",
			hash1, false},
		{"garbage-lines-skipped",
			"warning: redirecting to https://example.com/r.git/\n" + hash1 + "\trefs/heads/main",
			hash1, false},
		{"empty", "", "", true},
		{"only-peeled", hash2 + "\trefs/tags/v1^{}", "", true},
		{"invalid-hash", "abc\trefs/heads/main", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseLsRemote(tt.out)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseLsRemote() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("parseLsRemote() = %v, want %v", got, tt.want)
			}
		})
	}
}
