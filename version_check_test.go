package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestIsNewerVersion(t *testing.T) {
	tests := []struct {
		latest, current string
		want            bool
	}{
		{"1.2.0", "1.1.9", true},
		{"v2.0.0", "1.9.9", true},
		{"1.0.0", "1.0.0", false},
		{"1.0.0", "1.0.1", false},
		{"1.0.0", "1.0.0-rc1", true},
		{"garbage", "1.0.0", false},
	}
	for _, tt := range tests {
		if got := isNewerVersion(tt.latest, tt.current); got != tt.want {
			t.Errorf("isNewerVersion(%q, %q) = %v, want %v", tt.latest, tt.current, got, tt.want)
		}
	}
}

func TestVersionCheck(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantDone   bool
		wantLatest string
	}{
		{"release", http.StatusOK, `{"tag_name":"v1.4.0"}`, true, "1.4.0"},
		{"prerelease ignored", http.StatusOK, `{"tag_name":"v2.0.0-beta","prerelease":true}`, true, ""},
		{"no releases", http.StatusNotFound, ``, true, ""},
		{"rate limited", http.StatusForbidden, ``, false, ""},
		{"server error", http.StatusBadGateway, ``, false, ""},
		{"empty tag", http.StatusOK, `{}`, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("ETag", `"abc"`)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			vc := NewVersionChecker()
			vc.releaseURL = srv.URL

			if done := vc.check(context.Background()); done != tt.wantDone {
				t.Errorf("check() = %v, want %v", done, tt.wantDone)
			}
			if got := vc.Info().Latest; got != tt.wantLatest {
				t.Errorf("latest = %q, want %q", got, tt.wantLatest)
			}
		})
	}
}

func TestVersionCheckSendsETag(t *testing.T) {
	var gotETag string
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("ETag", `"v1"`)
			_, _ = w.Write([]byte(`{"tag_name":"1.1.0"}`))
			return
		}
		gotETag = r.Header.Get("If-None-Match")
		w.WriteHeader(http.StatusNotModified)
	}))
	defer srv.Close()

	vc := NewVersionChecker()
	vc.releaseURL = srv.URL
	vc.check(context.Background())
	if !vc.check(context.Background()) {
		t.Fatal("304 should complete the check")
	}
	if gotETag != `"v1"` {
		t.Errorf("If-None-Match = %q", gotETag)
	}
	if vc.Info().Latest != "1.1.0" {
		t.Errorf("latest = %q after 304", vc.Info().Latest)
	}
}
