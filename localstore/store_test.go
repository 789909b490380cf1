package localstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"testing"

	"LongVideoAssistant/apperr"
	"LongVideoAssistant/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestEmptyCollectionsReadEmpty(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	for _, c := range collections {
		got, err := s.GetAll(ctx, c)
		if err != nil {
			t.Fatalf("GetAll(%s): %v", c, err)
		}
		if got == nil || len(got) != 0 {
			t.Fatalf("GetAll(%s) = %v", c, got)
		}
	}
	if _, found, err := s.Get(ctx, Projects, "nope"); err != nil || found {
		t.Fatalf("Get missing: found=%v err=%v", found, err)
	}
}

func TestPutGetDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	p := models.Project{ID: "p1", Title: "A", Status: models.ProjectStatusDraft}
	if err := s.PutProject(ctx, p); err != nil {
		t.Fatal(err)
	}
	p.Title = "B"
	if err := s.PutProject(ctx, p); err != nil {
		t.Fatal(err)
	}
	got, found, err := s.GetProject(ctx, "p1")
	if err != nil || !found || got.Title != "B" {
		t.Fatalf("GetProject = %+v %v %v", got, found, err)
	}
	if err := s.Delete(ctx, Projects, "p1"); err != nil {
		t.Fatal(err)
	}
	all, _ := s.AllProjects(ctx)
	if len(all) != 0 {
		t.Fatalf("after delete: %v", all)
	}
}

func TestInspirationCategoryDefaults(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if err := s.PutInspiration(ctx, models.Inspiration{ID: "i1", Content: "x"}); err != nil {
		t.Fatal(err)
	}
	all, err := s.AllInspirations(ctx)
	if err != nil || len(all) != 1 || all[0].Category != models.DefaultCategory {
		t.Fatalf("inspirations = %+v %v", all, err)
	}
}

func TestDocsAndPrompts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if ms, err := s.GetMillis(ctx, DocLastUploadTime); err != nil || ms != 0 {
		t.Fatalf("missing clock = %d %v", ms, err)
	}
	if err := s.SetMillis(ctx, DocLastUploadTime, 1234); err != nil {
		t.Fatal(err)
	}
	if ms, _ := s.GetMillis(ctx, DocLastUploadTime); ms != 1234 {
		t.Fatalf("clock = %d", ms)
	}

	prompts, err := s.Prompts(ctx)
	if err != nil || len(prompts) != len(models.PromptKeys()) {
		t.Fatalf("default prompts = %d %v", len(prompts), err)
	}
	if err := s.SavePrompts(ctx, models.PromptBundle{models.PromptSummary: {ID: "summary", Template: "mine"}}); err != nil {
		t.Fatal(err)
	}
	prompts, _ = s.Prompts(ctx)
	if prompts[models.PromptSummary].Template != "mine" || prompts[models.PromptScript].Template == "" {
		t.Fatalf("merged prompts wrong: %+v", prompts[models.PromptSummary])
	}
}

func TestToolsRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if data, err := s.GetTool(ctx, "x"); err != nil || data != nil {
		t.Fatalf("missing tool = %s %v", data, err)
	}
	if err := s.PutTool(ctx, models.ToolRecord{ID: "x", Data: json.RawMessage(`{"a":[1,2]}`)}); err != nil {
		t.Fatal(err)
	}
	data, err := s.GetTool(ctx, "x")
	if err != nil || string(data) != `{"a":[1,2]}` {
		t.Fatalf("tool = %s %v", data, err)
	}
}

func TestSecondOpenIsRejected(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if _, err := Open(dir); !apperr.Is(err, apperr.KindLocalStoreUnavailable) {
		t.Fatalf("second open err = %v", err)
	}
}

func TestUpgradeFromVersionOne(t *testing.T) {
	dir := t.TempDir()
	db, err := sql.Open("sqlite", filepath.Join(dir, "store.db"))
	if err != nil {
		t.Fatal(err)
	}
	for _, stmt := range []string{
		"CREATE TABLE projects (id TEXT PRIMARY KEY, data TEXT NOT NULL)",
		"CREATE TABLE documents (key TEXT PRIMARY KEY, value TEXT NOT NULL)",
		`INSERT INTO projects (id, data) VALUES ('p1', '{"id":"p1","title":"old"}')`,
		"PRAGMA user_version = 1",
	} {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("%s: %v", stmt, err)
		}
	}
	db.Close()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()
	ctx := context.Background()
	p, found, err := s.GetProject(ctx, "p1")
	if err != nil || !found || p.Title != "old" {
		t.Fatalf("existing project lost: %+v %v %v", p, found, err)
	}
	if _, err := s.AllInspirations(ctx); err != nil {
		t.Fatalf("inspirations not created: %v", err)
	}
	if _, err := s.AllTools(ctx); err != nil {
		t.Fatalf("tools not created: %v", err)
	}
}

func TestUpdateRollsBackOnError(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	err := s.Update(ctx, func(b *Batch) error {
		if err := b.Put(Projects, "p1", []byte(`{"id":"p1"}`)); err != nil {
			return err
		}
		if err := b.SetDoc(DocLastUploadTime, "7"); err != nil {
			return err
		}
		return b.Put(Inspirations, "", []byte(`{}`))
	})
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("err = %v", err)
	}
	if _, found, _ := s.Get(ctx, Projects, "p1"); found {
		t.Fatal("project written by failed batch")
	}
	if ms, _ := s.GetMillis(ctx, DocLastUploadTime); ms != 0 {
		t.Fatalf("clock written by failed batch: %d", ms)
	}
}
