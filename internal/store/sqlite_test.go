package store

import (
	"path/filepath"
	"testing"

	"github.com/soracane/utaq/internal/structures"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "utaq.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestContentRoundTrip(t *testing.T) {
	s := openTestStore(t)

	playlists := []structures.PersistedPlaylist{
		{Name: "Favorites", Tracks: []structures.Track{
			{Title: "Song A", Artist: "Artist A", DurationMs: 65000, URL: "https://example.com/a"},
		}},
		{Name: "favorites", Tracks: nil}, // names are case-sensitive keys
	}
	if err := s.WriteContent(playlists); err != nil {
		t.Fatalf("WriteContent: %v", err)
	}

	got, err := s.ReadContent()
	if err != nil {
		t.Fatalf("ReadContent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 playlists, got %d", len(got))
	}
	if got[0].Name != "Favorites" || got[1].Name != "favorites" {
		t.Errorf("playlist names not preserved: %q, %q", got[0].Name, got[1].Name)
	}
	if got[0].Tracks[0].DurationMs != 65000 {
		t.Errorf("track fields not preserved: %+v", got[0].Tracks[0])
	}
}

func TestReadMissingDocuments(t *testing.T) {
	s := openTestStore(t)

	playlists, err := s.ReadContent()
	if err != nil || playlists != nil {
		t.Errorf("expected empty content, got %v, %v", playlists, err)
	}

	cfg, err := s.ReadSettings()
	if err != nil || cfg != nil {
		t.Errorf("expected nil settings, got %v, %v", cfg, err)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	s := openTestStore(t)

	in := &structures.Config{AudioQuality: "high", TargetYield: 24}
	if err := s.WriteSettings(in); err != nil {
		t.Fatalf("WriteSettings: %v", err)
	}

	out, err := s.ReadSettings()
	if err != nil {
		t.Fatalf("ReadSettings: %v", err)
	}
	if out == nil || out.AudioQuality != "high" || out.TargetYield != 24 {
		t.Errorf("settings not preserved: %+v", out)
	}
}

func TestRecommendationsOrderPreserved(t *testing.T) {
	s := openTestStore(t)

	history := []structures.Track{
		{URL: "newest"}, {URL: "middle"}, {URL: "oldest"},
	}
	if err := s.WriteRecommendations(history); err != nil {
		t.Fatalf("WriteRecommendations: %v", err)
	}

	got, err := s.ReadRecommendations()
	if err != nil {
		t.Fatalf("ReadRecommendations: %v", err)
	}
	for i, track := range history {
		if got[i].URL != track.URL {
			t.Fatalf("history order not preserved: %v", got)
		}
	}
}

func TestExportImport(t *testing.T) {
	s := openTestStore(t)

	if err := s.WriteContent([]structures.PersistedPlaylist{{Name: "Mix"}}); err != nil {
		t.Fatalf("WriteContent: %v", err)
	}

	blob, err := s.ExportJSON(KeyContent)
	if err != nil {
		t.Fatalf("ExportJSON: %v", err)
	}
	if len(blob) == 0 {
		t.Fatal("expected non-empty export")
	}

	if err := s.WriteContent(nil); err != nil {
		t.Fatalf("WriteContent: %v", err)
	}
	if err := s.ImportJSON(KeyContent, blob); err != nil {
		t.Fatalf("ImportJSON: %v", err)
	}

	got, err := s.ReadContent()
	if err != nil || len(got) != 1 || got[0].Name != "Mix" {
		t.Errorf("import did not restore content: %v, %v", got, err)
	}
}

func TestImportRejectsInvalidJSON(t *testing.T) {
	s := openTestStore(t)

	if err := s.ImportJSON(KeyContent, []byte("{not json")); err == nil {
		t.Error("expected error importing invalid JSON")
	}
}
