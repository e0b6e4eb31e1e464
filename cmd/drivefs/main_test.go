package main

import (
	"testing"

	"github.com/drivefs-fuse/drivefs-go/internal/drive"
)

func TestSplitList(t *testing.T) {
	if got := splitList(""); got != nil {
		t.Errorf("splitList(\"\") = %v", got)
	}
	got := splitList(" .MKV, .mp4 ,,.Avi")
	want := []string{".mkv", ".mp4", ".avi"}
	if len(got) != len(want) {
		t.Fatalf("splitList = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("splitList = %v, want %v", got, want)
		}
	}
}

func TestSuffixPredicate(t *testing.T) {
	if suffixPredicate("") != nil {
		t.Error("empty list should compile to nil")
	}
	p := suffixPredicate(".mkv,.mp4")
	if !p(drive.Item{Name: "Movie.MKV"}) {
		t.Error("case-insensitive suffix should match")
	}
	if p(drive.Item{Name: "notes.txt"}) {
		t.Error("unlisted suffix matched")
	}
	if p(drive.Item{Name: "season.mkv", IsDir: true}) {
		t.Error("directories never match suffix predicates")
	}
}

func TestNameMatcher(t *testing.T) {
	if nameMatcher("") != nil {
		t.Error("empty list should compile to nil")
	}
	m := nameMatcher("mpv,vlc")
	if !m("mpv") || !m("VLC") {
		t.Error("listed names should match case-insensitively")
	}
	if m("ffmpeg") {
		t.Error("unlisted name matched")
	}
}
