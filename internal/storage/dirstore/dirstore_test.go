package dirstore

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
)

type sessionMeta struct {
	Title string   `json:"title"`
	Stack []string `json:"stack"`
}

type record struct {
	Seq  int    `json:"seq"`
	Text string `json:"text"`
}

func TestMetaRoundTrip(t *testing.T) {
	ds := NewDirStore(t.TempDir(), "session")
	if err := ds.EnsureDir("sess_1"); err != nil {
		t.Fatalf("EnsureDir: %v", err)
	}

	want := sessionMeta{Title: "date package?", Stack: []string{"retrieve_packages"}}
	if err := ds.WriteMeta("sess_1", want); err != nil {
		t.Fatalf("WriteMeta: %v", err)
	}
	var got sessionMeta
	if err := ds.ReadMeta("sess_1", &got); err != nil {
		t.Fatalf("ReadMeta: %v", err)
	}
	if got.Title != want.Title || !slices.Equal(got.Stack, want.Stack) {
		t.Errorf("ReadMeta = %+v", got)
	}
	if _, err := os.Stat(ds.FilePath("sess_1", "meta.json.tmp")); !os.IsNotExist(err) {
		t.Error("temp file left behind")
	}
}

func TestReadMetaMissing(t *testing.T) {
	ds := NewDirStore(t.TempDir(), "session")

	var out sessionMeta
	err := ds.ReadMeta("sess_missing", &out)
	if !IsNotFound(err) {
		t.Fatalf("err = %v, want not found", err)
	}
	if want := "session not found: sess_missing"; err.Error() != want {
		t.Errorf("error = %q, want %q", err.Error(), want)
	}
}

func TestInvalidIDs(t *testing.T) {
	base := t.TempDir()
	ds := NewDirStore(filepath.Join(base, "sessions"), "session")

	for _, id := range []string{"", ".", "..", "../escape", `a\b`, "a/b", ".hidden"} {
		if ValidID(id) {
			t.Errorf("ValidID(%q) = true", id)
		}
		if err := ds.WriteMeta(id, sessionMeta{}); !IsNotFound(err) {
			t.Errorf("WriteMeta(%q) err = %v", id, err)
		}
		if err := ds.AppendJSONL(id, "messages.jsonl", record{}); !IsNotFound(err) {
			t.Errorf("AppendJSONL(%q) err = %v", id, err)
		}
	}
	if _, err := os.Stat(filepath.Join(base, "escape")); !os.IsNotExist(err) {
		t.Error("path escaped the base directory")
	}
	if !ValidID("sess_ab12cd34") || !ValidID("_global") {
		t.Error("valid ids rejected")
	}
}

func TestListDirs(t *testing.T) {
	base := t.TempDir()
	ds := NewDirStore(base, "session")
	for _, name := range []string{"sess_b", "sess_a", ".trash"} {
		if err := os.MkdirAll(filepath.Join(base, name), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(base, "sessions.db"), nil, 0o644); err != nil {
		t.Fatal(err)
	}

	ids, err := ds.ListDirs()
	if err != nil {
		t.Fatalf("ListDirs: %v", err)
	}
	slices.Sort(ids)
	if !slices.Equal(ids, []string{"sess_a", "sess_b"}) {
		t.Errorf("ListDirs = %v", ids)
	}

	empty, err := NewDirStore(filepath.Join(base, "nope"), "session").ListDirs()
	if err != nil || empty != nil {
		t.Errorf("missing base = %v, %v", empty, err)
	}
}

func TestAppendJSONLCreatesDir(t *testing.T) {
	ds := NewDirStore(t.TempDir(), "event log")

	if err := ds.AppendJSONL("sess_1", "events.jsonl", record{Seq: 1}, record{Seq: 2}); err != nil {
		t.Fatalf("AppendJSONL: %v", err)
	}
	if err := ds.AppendJSONL("sess_1", "events.jsonl"); err != nil {
		t.Fatalf("AppendJSONL (empty): %v", err)
	}
	if err := ds.AppendJSONL("sess_1", "events.jsonl", record{Seq: 3}); err != nil {
		t.Fatalf("AppendJSONL: %v", err)
	}

	got, err := LoadJSONL[record](ds, "sess_1", "events.jsonl")
	if err != nil {
		t.Fatalf("LoadJSONL: %v", err)
	}
	if len(got) != 3 || got[0].Seq != 1 || got[2].Seq != 3 {
		t.Errorf("LoadJSONL = %+v", got)
	}
}

func TestTailJSONL(t *testing.T) {
	ds := NewDirStore(t.TempDir(), "session")
	for i := 1; i <= 5; i++ {
		if err := ds.AppendJSONL("sess_1", "messages.jsonl", record{Seq: i}); err != nil {
			t.Fatal(err)
		}
	}

	got, err := TailJSONL[record](ds, "sess_1", "messages.jsonl", 2)
	if err != nil {
		t.Fatalf("TailJSONL: %v", err)
	}
	if len(got) != 2 || got[0].Seq != 4 || got[1].Seq != 5 {
		t.Errorf("TailJSONL = %+v", got)
	}

	all, err := TailJSONL[record](ds, "sess_1", "messages.jsonl", 50)
	if err != nil || len(all) != 5 {
		t.Errorf("TailJSONL(50) = %d, %v", len(all), err)
	}

	none, err := TailJSONL[record](ds, "sess_2", "messages.jsonl", 2)
	if err != nil || none != nil {
		t.Errorf("missing file = %v, %v", none, err)
	}
}

func TestLoadJSONLLongAndCorruptLines(t *testing.T) {
	ds := NewDirStore(t.TempDir(), "session")
	if err := ds.EnsureDir("sess_1"); err != nil {
		t.Fatal(err)
	}

	long := strings.Repeat("x", 256*1024)
	data := `{"seq":1}` + "\n" + `{"seq":2,"text":"cut sho` + "\n\n" + `{"seq":3,"text":"` + long + `"}` + "\n"
	if err := os.WriteFile(ds.FilePath("sess_1", "messages.jsonl"), []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	got, err := LoadJSONL[record](ds, "sess_1", "messages.jsonl")
	if err != nil {
		t.Fatalf("LoadJSONL: %v", err)
	}
	if len(got) != 2 || got[0].Seq != 1 || len(got[1].Text) != len(long) {
		t.Errorf("got %d records", len(got))
	}
}
