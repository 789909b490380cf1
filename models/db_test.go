package models

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, sqlDB, err := OpenDB("sqlite", filepath.Join(t.TempDir(), "remote.db"))
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })
	if err := EnsureTables(gdb); err != nil {
		t.Fatalf("EnsureTables: %v", err)
	}
	if err := EnsureTables(gdb); err != nil {
		t.Fatalf("EnsureTables second call: %v", err)
	}
	return gdb
}

func TestApplyPushAndPull(t *testing.T) {
	db := openTestDB(t)

	bundle := SyncBundle{
		Inspirations: []Inspiration{{ID: "i1", Content: "c"}},
		Prompts:      PromptBundle{PromptTitles: {ID: "titles", Template: "t"}},
		Tools:        []ToolRecord{{ID: "ai_titles_generator", Data: json.RawMessage(`{"n":1}`)}},
	}
	for i := 0; i < 23; i++ {
		bundle.Projects = append(bundle.Projects, Project{ID: string(rune('a' + i)), Title: "p", Status: ProjectStatusDraft, CreatedAt: 100, UpdatedAt: int64(100 + i)})
	}
	if err := ApplyPush(db, bundle); err != nil {
		t.Fatalf("ApplyPush: %v", err)
	}

	got, err := Pull(db)
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if len(got.Projects) != 23 {
		t.Fatalf("projects = %d", len(got.Projects))
	}
	if got.Inspirations[0].Category != DefaultCategory {
		t.Fatalf("category = %q", got.Inspirations[0].Category)
	}
	if got.Prompts[PromptTitles].Template != "t" {
		t.Fatalf("prompts = %+v", got.Prompts)
	}
	if string(got.Tools[0].Data) != `{"n":1}` {
		t.Fatalf("tool data = %s", got.Tools[0].Data)
	}
}

func TestProjectUpsertKeepsCreatedAt(t *testing.T) {
	db := openTestDB(t)
	p := Project{ID: "p1", Title: "old", CreatedAt: 100, UpdatedAt: 100}
	if err := ApplyPush(db, SyncBundle{Projects: []Project{p}}); err != nil {
		t.Fatal(err)
	}
	p.Title = "new"
	p.CreatedAt = 999
	p.UpdatedAt = 200
	if err := ApplyPush(db, SyncBundle{Projects: []Project{p}}); err != nil {
		t.Fatal(err)
	}
	var row ProjectRow
	if err := db.Where("id = ?", "p1").Take(&row).Error; err != nil {
		t.Fatal(err)
	}
	if row.CreatedAt != 100 || row.Title != "new" || row.UpdatedAt != 200 {
		t.Fatalf("row = %+v", row)
	}
}

func TestPointOperations(t *testing.T) {
	db := openTestDB(t)
	if _, found, err := GetProjectRow(db, "nope"); err != nil || found {
		t.Fatalf("missing project: found=%v err=%v", found, err)
	}
	if data, err := GetToolData(db, "nope"); err != nil || data != nil {
		t.Fatalf("missing tool: %s %v", data, err)
	}
	if err := ApplyPush(db, SyncBundle{Projects: []Project{{ID: "p1", Title: "x"}}, Inspirations: []Inspiration{{ID: "i1"}}}); err != nil {
		t.Fatal(err)
	}
	if p, found, err := GetProjectRow(db, "p1"); err != nil || !found || p.Title != "x" {
		t.Fatalf("GetProjectRow = %+v %v %v", p, found, err)
	}
	if err := DeleteProjectRow(db, "p1"); err != nil {
		t.Fatal(err)
	}
	if err := DeleteInspirationRow(db, "i1"); err != nil {
		t.Fatal(err)
	}
	got, err := Pull(db)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Projects) != 0 || len(got.Inspirations) != 0 || got.Prompts != nil {
		t.Fatalf("leftovers: %+v", got)
	}
}

func TestLegacyFieldsSurviveRoundTrip(t *testing.T) {
	db := openTestDB(t)
	raw := `{"id":"old","title":"t","createdAt":1,"updatedAt":1,"status":"DRAFT","inputs":{"topic":"","tone":"","language":""},
		"coverText":"大字\n两行","titles":[{"title":"a","type":"悬念"}],"coverOptions":[{"visual":"v","copy":"文案","titleTop":"","titleBottom":""}]}`
	p, err := DecodeProject([]byte(raw))
	if err != nil {
		t.Fatal(err)
	}
	if err := ApplyPush(db, SyncBundle{Projects: []Project{p}}); err != nil {
		t.Fatal(err)
	}
	got, found, err := GetProjectRow(db, "old")
	if err != nil || !found {
		t.Fatalf("GetProjectRow: %v %v", found, err)
	}
	if got.CoverText != "大字\n两行" || got.Titles[0].Type != "悬念" || got.CoverOptions[0].Copy != "文案" {
		t.Fatalf("legacy fields lost: %+v", got)
	}
}
