package drive

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"strings"
	"testing"
)

func TestMaterializeRealEntries(t *testing.T) {
	store := newFakeStore()
	store.dirs["/"] = []Item{
		dirItem("1", "movies"),
		fileItem("2", "readme.txt", 11),
	}
	fs := New(store, testConfig())
	ctx := context.Background()

	names, err := fs.ReadDir(ctx, "/")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{".", "..", "movies", "readme.txt"}
	sort.Strings(names[2:])
	if len(names) != len(want) {
		t.Fatalf("got %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("got %v, want %v", names, want)
		}
	}

	attr, err := fs.GetAttr(ctx, "/movies")
	if err != nil {
		t.Fatal(err)
	}
	if !attr.IsDir() {
		t.Error("movies should be a directory")
	}
	if attr.Mode.Perm() != 0555 {
		t.Errorf("directory mode = %o, want 555", attr.Mode.Perm())
	}

	attr, err = fs.GetAttr(ctx, "/readme.txt")
	if err != nil {
		t.Fatal(err)
	}
	if attr.IsDir() {
		t.Error("readme.txt should be a file")
	}
	if attr.Size != 11 {
		t.Errorf("size = %d, want 11", attr.Size)
	}
	if attr.Mode.Perm() != 0444 {
		t.Errorf("file mode = %o, want 444", attr.Mode.Perm())
	}
}

func TestStrmEntryReadsURLWithoutRemoteStream(t *testing.T) {
	store := newFakeStore()
	item := fileItem("2", "movie.mkv", 1 << 30)
	store.dirs["/"] = []Item{item}
	store.urls["2"] = "http://x/2"

	cfg := testConfig()
	cfg.Strm = func(it Item) bool { return strings.HasSuffix(it.Name, ".mkv") }
	fs := New(store, cfg)
	ctx := context.Background()

	names, err := fs.ReadDir(ctx, "/")
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 3 || names[2] != "movie.mkv.strm" {
		t.Fatalf("got %v, want [. .. movie.mkv.strm]", names)
	}
	if _, err := fs.GetAttr(ctx, "/movie.mkv"); !errors.Is(err, ErrNotFound) {
		t.Errorf("original name should be gone, got %v", err)
	}

	attr, err := fs.GetAttr(ctx, "/movie.mkv.strm")
	if err != nil {
		t.Fatal(err)
	}
	if attr.Size != int64(len("http://x/2")) {
		t.Errorf("strm size = %d, want %d", attr.Size, len("http://x/2"))
	}

	fh, err := fs.Open(ctx, "/movie.mkv.strm", 1)
	if err != nil {
		t.Fatal(err)
	}
	data, err := fs.Read(ctx, "/movie.mkv.strm", 4096, 0, fh)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, []byte("http://x/2")) {
		t.Errorf("strm payload = %q", data)
	}
	fs.Release("/movie.mkv.strm", fh)

	if store.opened() != 0 {
		t.Errorf("strm read dialed %d remote streams, want 0", store.opened())
	}
}

func TestStrmWinsOverHide(t *testing.T) {
	store := newFakeStore()
	item := fileItem("2", "movie.mkv", 100)
	item.URL = "http://x/2"
	store.dirs["/"] = []Item{item, fileItem("3", "junk.tmp", 5)}

	cfg := testConfig()
	cfg.Hide = func(it Item) bool { return true }
	cfg.Strm = func(it Item) bool { return strings.HasSuffix(it.Name, ".mkv") }
	fs := New(store, cfg)

	names, err := fs.ReadDir(context.Background(), "/")
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 3 || names[2] != "movie.mkv.strm" {
		t.Fatalf("got %v, want only movie.mkv.strm", names)
	}
}

func TestHiddenEntriesAreAbsent(t *testing.T) {
	store := newFakeStore()
	store.dirs["/"] = []Item{
		fileItem("1", "keep.txt", 5),
		fileItem("2", "drop.tmp", 5),
	}
	cfg := testConfig()
	cfg.Hide = func(it Item) bool { return strings.HasSuffix(it.Name, ".tmp") }
	fs := New(store, cfg)
	ctx := context.Background()

	names, err := fs.ReadDir(ctx, "/")
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 3 || names[2] != "keep.txt" {
		t.Fatalf("got %v, want only keep.txt", names)
	}
	if _, err := fs.GetAttr(ctx, "/drop.tmp"); !errors.Is(err, ErrNotFound) {
		t.Errorf("hidden entry lookup: got %v, want not-found", err)
	}
}

func TestArchiveGetsPseudoDirectoryAlongsideItself(t *testing.T) {
	store := newFakeStore()
	store.dirs["/"] = []Item{fileItem("1", "bundle.zip", 999)}
	cfg := testConfig()
	cfg.ZipAsDir = func(name string) bool { return strings.HasSuffix(name, ".zip") }
	fs := New(store, cfg)
	ctx := context.Background()

	names, err := fs.ReadDir(ctx, "/")
	if err != nil {
		t.Fatal(err)
	}
	sort.Strings(names[2:])
	if len(names) != 4 || names[2] != "bundle.zip" || names[3] != "bundle.zip.d" {
		t.Fatalf("got %v, want both bundle.zip and bundle.zip.d", names)
	}

	attr, err := fs.GetAttr(ctx, "/bundle.zip.d")
	if err != nil {
		t.Fatal(err)
	}
	if !attr.IsDir() || attr.Origin != OriginZipDir {
		t.Errorf("pseudo-directory attr = %+v", attr)
	}
	attr, err = fs.GetAttr(ctx, "/bundle.zip")
	if err != nil {
		t.Fatal(err)
	}
	if attr.IsDir() {
		t.Error("the archive itself must stay a plain file")
	}
}

func TestListingEndToEnd(t *testing.T) {
	newStore := func() *fakeStore {
		store := newFakeStore()
		readme := fileItem("2", "readme.txt", 11)
		readme.URL = "http://x/2"
		store.dirs["/"] = []Item{dirItem("1", "movies"), readme}
		store.data["2"] = []byte("hello world")
		return store
	}

	fs := New(newStore(), testConfig())
	ctx := context.Background()
	names, err := fs.ReadDir(ctx, "/")
	if err != nil {
		t.Fatal(err)
	}
	sort.Strings(names[2:])
	want := []string{".", "..", "movies", "readme.txt"}
	for i := range want {
		if i >= len(names) || names[i] != want[i] {
			t.Fatalf("readdir = %v, want %v", names, want)
		}
	}

	// same tree with readme.txt exposed as a strm pointer
	cfg := testConfig()
	cfg.Strm = func(it Item) bool { return it.Name == "readme.txt" }
	store := newStore()
	fs = New(store, cfg)
	names, err = fs.ReadDir(ctx, "/")
	if err != nil {
		t.Fatal(err)
	}
	sort.Strings(names[2:])
	if len(names) != 4 || names[2] != "movies" || names[3] != "readme.txt.strm" {
		t.Fatalf("strm readdir = %v", names)
	}
	fh, err := fs.Open(ctx, "/readme.txt.strm", 1)
	if err != nil {
		t.Fatal(err)
	}
	data, err := fs.Read(ctx, "/readme.txt.strm", 100, 0, fh)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "http://x/2" {
		t.Errorf("strm read = %q, want the direct url", data)
	}
	fs.Release("/readme.txt.strm", fh)
	if store.opened() != 0 {
		t.Errorf("strm access dialed %d remote streams", store.opened())
	}
}

func TestStrmPayloadFailureYieldsEmptyFile(t *testing.T) {
	store := newFakeStore()
	store.dirs["/"] = []Item{fileItem("2", "movie.mkv", 100)}
	// no url scripted and none on the item: DirectURL returns ""
	cfg := testConfig()
	cfg.Strm = func(it Item) bool { return true }
	fs := New(store, cfg)

	attr, err := fs.GetAttr(context.Background(), "/movie.mkv.strm")
	if err != nil {
		t.Fatal(err)
	}
	if attr.Size != 0 {
		t.Errorf("payload-less strm size = %d, want 0", attr.Size)
	}
}
