package errs

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestSentinelMessages(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"ErrVideoUnavailable", ErrVideoUnavailable, "video unavailable"},
		{"ErrPrivate", ErrPrivate, "video is private"},
		{"ErrAgeRestricted", ErrAgeRestricted, "age restricted"},
		{"ErrLoginRequired", ErrLoginRequired, "login required"},
		{"ErrGeoBlocked", ErrGeoBlocked, "geo blocked"},
		{"ErrRateLimited", ErrRateLimited, "rate limited"},
		{"ErrRental", ErrRental, "rental video"},
		{"ErrLiveNotStarted", ErrLiveNotStarted, "live stream not started"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Error() != tt.expected {
				t.Errorf("Expected error message '%s', got '%s'", tt.expected, tt.err.Error())
			}
		})
	}
}

func TestErrorIs(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
		want   bool
	}{
		{"same code", Cipher(CodePatternNotFound, "x"), ErrPatternNotFound, true},
		{"kind only", Cipher(CodeAmbiguousMatch, "x"), ErrCipher, true},
		{"other code", Cipher(CodeEvalFailed, "x"), ErrCompileFailed, false},
		{"other kind", Manifest(CodeParseFailed, "x", nil), ErrCipher, false},
		{"wrapped", fmt.Errorf("resolve: %w", Rejected(404, "u")), ErrRejected, true},
		{"cause chain", Extraction(CodeUnplayable, "private", ErrPrivate), ErrPrivate, true},
		{"plain error", errors.New("x"), ErrTransport, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errors.Is(tt.err, tt.target); got != tt.want {
				t.Errorf("errors.Is = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStatusOf(t *testing.T) {
	status, ok := StatusOf(fmt.Errorf("wrap: %w", Rejected(403, "https://example.com")))
	if !ok || status != 403 {
		t.Fatalf("StatusOf = %d, %v; want 403, true", status, ok)
	}
	if _, ok := StatusOf(Network("u", errors.New("reset"))); ok {
		t.Error("network error must not report a status")
	}
}

func TestHelpers(t *testing.T) {
	if !IsTimeout(Timeout("u", nil)) {
		t.Error("IsTimeout should match timeout errors")
	}
	if !IsCipher(Cipher(CodeCompileFailed, "boom")) {
		t.Error("IsCipher should match cipher errors")
	}
	if !IsUnplayable(Extraction(CodeUnplayable, "gone", ErrVideoUnavailable)) {
		t.Error("IsUnplayable should match unplayable errors")
	}
	if KindOf(errors.New("plain")) != "" {
		t.Error("KindOf on plain error should be empty")
	}
	if KindOf(Crypto(CodeInvalidPadding, "bad", nil)) != KindCrypto {
		t.Error("KindOf should report crypto")
	}
}

func TestErrorString(t *testing.T) {
	err := Rejected(429, "https://example.com/x")
	s := err.Error()
	for _, want := range []string{"transport", CodeRejected, "status 429"} {
		if !strings.Contains(s, want) {
			t.Errorf("Error() = %q, missing %q", s, want)
		}
	}
}

func TestMarshalJSON(t *testing.T) {
	err := Wrap(KindCrypto, CodeKeyFetchFailed, "key fetch failed", errors.New("404"))
	data, mErr := json.Marshal(err)
	if mErr != nil {
		t.Fatalf("marshal: %v", mErr)
	}
	var decoded map[string]any
	if uErr := json.Unmarshal(data, &decoded); uErr != nil {
		t.Fatalf("unmarshal: %v", uErr)
	}
	if decoded["code"] != CodeKeyFetchFailed {
		t.Errorf("code = %v", decoded["code"])
	}
	if decoded["kind"] != string(KindCrypto) {
		t.Errorf("kind = %v", decoded["kind"])
	}
	if decoded["cause"] != "404" {
		t.Errorf("cause = %v", decoded["cause"])
	}
	if _, ok := decoded["error"]; !ok {
		t.Error("missing error field")
	}
}
