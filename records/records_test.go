package records

import "testing"

func TestGuessLangFromPathKnownExtension(t *testing.T) {
	kind, lang := GuessLangFromPath("src/hello.py", nil)
	if kind != KindCode {
		t.Fatalf("kind = %q, want code", kind)
	}
	if lang != "python" {
		t.Fatalf("lang = %q, want python", lang)
	}
}

func TestGuessLangFromPathUnknownExtensionDefaultsToDoc(t *testing.T) {
	kind, _ := GuessLangFromPath("notes.xyz123", nil)
	if kind != KindDoc {
		t.Fatalf("kind = %q, want doc for unknown extension", kind)
	}
}

func TestIsCodeFile(t *testing.T) {
	if !IsCodeFile("main.go", nil) {
		t.Fatal("main.go should be a code file")
	}
	if IsCodeFile("README.md", nil) {
		t.Fatal("README.md should not be a code file")
	}
}

func TestSHA256TextDeterministic(t *testing.T) {
	a := SHA256Text("hello")
	b := SHA256Text("hello")
	if a != b {
		t.Fatalf("sha256 not deterministic: %q != %q", a, b)
	}
	if SHA256Text("hello") == SHA256Text("world") {
		t.Fatal("different inputs hashed to the same digest")
	}
}

func TestBuildRecordShape(t *testing.T) {
	rec := BuildRecord(BuildRecordInput{
		Text:         "print('hi')\n",
		RelPath:      "src/hello.py",
		RepoFullName: "owner/repo",
		RepoURL:      "https://github.com/owner/repo",
		LicenseID:    "MIT",
		ChunkID:      1,
		NChunks:      1,
	})
	if rec.Meta["lang"] != "Python" {
		t.Fatalf("lang = %v, want Python", rec.Meta["lang"])
	}
	if rec.Meta["path"] != "src/hello.py" {
		t.Fatalf("path = %v", rec.Meta["path"])
	}
	for _, key := range []string{"sha256", "tokens", "bytes", "source", "repo", "license"} {
		if _, ok := rec.Meta[key]; !ok {
			t.Fatalf("missing meta key %q", key)
		}
	}
}

func TestBuildRecordBackslashPathNormalized(t *testing.T) {
	rec := BuildRecord(BuildRecordInput{Text: "x", RelPath: `sub\dir\file.go`})
	if rec.Meta["path"] != "sub/dir/file.go" {
		t.Fatalf("path = %v, want forward slashes", rec.Meta["path"])
	}
}

func TestBuildRecordExtraMetaDoesNotOverrideExisting(t *testing.T) {
	rec := BuildRecord(BuildRecordInput{
		Text:    "x",
		RelPath: "a.py",
		ExtraMeta: map[string]any{
			"lang":   "should-not-win",
			"custom": "should-appear",
		},
	})
	if rec.Meta["lang"] == "should-not-win" {
		t.Fatal("extra_meta overrode an existing key")
	}
	if rec.Meta["custom"] != "should-appear" {
		t.Fatal("extra_meta key was not merged")
	}
}
