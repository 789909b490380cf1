package mutator

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"LongVideoAssistant/apperr"
	"LongVideoAssistant/localstore"
	"LongVideoAssistant/models"
)

type fakeSyncer struct {
	mu      sync.Mutex
	changes int
	pushes  int
}

func (f *fakeSyncer) TrackChange(context.Context) error {
	f.mu.Lock()
	f.changes++
	f.mu.Unlock()
	return nil
}

func (f *fakeSyncer) SchedulePush() {
	f.mu.Lock()
	f.pushes++
	f.mu.Unlock()
}

func (f *fakeSyncer) Exclusive(fn func()) { fn() }

type fakeRemote struct {
	mu        sync.Mutex
	calls     []string
	failBlobs bool
}

func (f *fakeRemote) record(s string) {
	f.mu.Lock()
	f.calls = append(f.calls, s)
	f.mu.Unlock()
}

func (f *fakeRemote) DeleteBlob(_ context.Context, ref string) error {
	f.record("blob:" + ref)
	if f.failBlobs {
		return errors.New("blob store down")
	}
	return nil
}

func (f *fakeRemote) DeleteProject(_ context.Context, id string) error {
	f.record("project:" + id)
	return nil
}

func (f *fakeRemote) DeleteInspiration(_ context.Context, id string) error {
	f.record("inspiration:" + id)
	return nil
}

func newTestMutator(t *testing.T) (*Mutator, *localstore.Store, *fakeSyncer, *fakeRemote) {
	t.Helper()
	local, err := localstore.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	fs := &fakeSyncer{}
	fr := &fakeRemote{}
	m := New(local, fs, fr, nil)
	t.Cleanup(func() {
		m.Close()
		_ = local.Close()
	})
	return m, local, fs, fr
}

func TestCreateDefaults(t *testing.T) {
	m, _, fs, _ := newTestMutator(t)
	ctx := context.Background()

	p, err := m.Create(ctx, "A")
	if err != nil {
		t.Fatal(err)
	}
	if p.Status != models.ProjectStatusDraft || p.UpdatedAt != p.CreatedAt {
		t.Fatalf("created = %+v", p)
	}
	if p.Title != "A" || p.Inputs.Topic != "A" || p.Inputs.Tone != models.DefaultTone || p.Inputs.Language != models.DefaultLanguage {
		t.Fatalf("defaults = %+v", p)
	}
	blank, _ := m.Create(ctx, "")
	if blank.Title != models.DefaultProjectTitle {
		t.Fatalf("blank title = %q", blank.Title)
	}
	if fs.changes != 2 || fs.pushes != 2 {
		t.Fatalf("sync pairing: changes=%d pushes=%d", fs.changes, fs.pushes)
	}
}

func TestConcurrentUpdatesAreSerialised(t *testing.T) {
	m, _, _, _ := newTestMutator(t)
	ctx := context.Background()
	p, _ := m.Create(ctx, "count")

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Update(ctx, p.ID, func(p models.Project) models.Project {
				c, _ := strconv.Atoi(p.Summary)
				p.Summary = strconv.Itoa(c + 1)
				return p
			})
			if err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()
	got, _, _ := m.Project(ctx, p.ID)
	if got.Summary != strconv.Itoa(n) {
		t.Fatalf("lost updates: summary = %s", got.Summary)
	}
}

func TestUpdateDerivesStatusAndBumpsTime(t *testing.T) {
	m, _, _, _ := newTestMutator(t)
	ctx := context.Background()
	p, _ := m.Create(ctx, "A")

	got, err := m.Update(ctx, p.ID, func(p models.Project) models.Project {
		p.Script = "hello"
		p.Status = models.ProjectStatusCompleted
		p.CreatedAt = 1
		return p
	})
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.ProjectStatusInProgress {
		t.Fatalf("status = %s", got.Status)
	}
	if got.CreatedAt != p.CreatedAt || got.UpdatedAt < p.UpdatedAt {
		t.Fatalf("timestamps = %d/%d", got.CreatedAt, got.UpdatedAt)
	}
}

func TestUpdatedAtNeverGoesBack(t *testing.T) {
	local, err := localstore.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer local.Close()
	now := time.UnixMilli(10_000)
	m := New(local, nil, nil, nil, WithClock(func() time.Time { return now }))
	defer m.Close()
	ctx := context.Background()

	p, _ := m.Create(ctx, "A")
	now = time.UnixMilli(5_000)
	got, _ := m.Update(ctx, p.ID, func(p models.Project) models.Project { return p })
	if got.UpdatedAt != 10_000 {
		t.Fatalf("updatedAt = %d", got.UpdatedAt)
	}
}

func TestArchiveFreezesStatus(t *testing.T) {
	m, _, _, _ := newTestMutator(t)
	ctx := context.Background()
	p, _ := m.Create(ctx, "A")
	m.Update(ctx, p.ID, func(p models.Project) models.Project { p.Script = "s"; return p })

	if _, err := m.Archive(ctx, p.ID); err != nil {
		t.Fatal(err)
	}
	got, err := m.Update(ctx, p.ID, func(p models.Project) models.Project {
		p.Script = ""
		return p
	})
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.ProjectStatusArchived {
		t.Fatalf("status = %s", got.Status)
	}
	got, _ = m.Update(ctx, p.ID, func(p models.Project) models.Project {
		p.Script = "x"
		p.Titles = []models.TitleItem{{Title: "t"}}
		p.Summary = "s"
		p.CoverOptions = []models.CoverOption{{Visual: "v"}}
		p.AudioFile = "/api/images/a"
		p.Status = models.ProjectStatusInProgress
		return p
	})
	if got.Status != models.ProjectStatusArchived {
		t.Fatalf("complete archived project left archive: %s", got.Status)
	}

	got, err = m.Unarchive(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.ProjectStatusCompleted {
		t.Fatalf("unarchive status = %s", got.Status)
	}
}

func TestUpdateMissingProject(t *testing.T) {
	m, _, fs, _ := newTestMutator(t)
	_, err := m.Update(context.Background(), "gone", func(p models.Project) models.Project { return p })
	if !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("err = %v", err)
	}
	if fs.changes != 0 {
		t.Fatal("dropped write marked the store dirty")
	}
}

func TestDeleteCascadeOrder(t *testing.T) {
	m, local, _, fr := newTestMutator(t)
	ctx := context.Background()
	fr.failBlobs = true

	p, _ := m.Create(ctx, "A")
	m.Update(ctx, p.ID, func(p models.Project) models.Project {
		p.Storyboard = []models.StoryboardFrame{
			{ID: "f1", ImageURL: "/api/images/" + p.ID + "%2Ff1.png"},
			{ID: "f2", ImageURL: "data:image/png;base64,AAAA"},
		}
		p.CoverImage = &models.CoverImage{ImageURL: "/api/images/" + p.ID + "%2Fcover.png"}
		return p
	})

	if err := m.Delete(ctx, p.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	want := []string{
		"blob:/api/images/" + p.ID + "%2Ff1.png",
		"blob:/api/images/" + p.ID + "%2Fcover.png",
		"project:" + p.ID,
	}
	if len(fr.calls) != len(want) {
		t.Fatalf("calls = %v", fr.calls)
	}
	for i := range want {
		if fr.calls[i] != want[i] {
			t.Fatalf("calls = %v, want %v", fr.calls, want)
		}
	}
	if _, found, _ := local.GetProject(ctx, p.ID); found {
		t.Fatal("local row survived")
	}
}

func TestSavePromptsRejectsUnknownKey(t *testing.T) {
	m, _, _, _ := newTestMutator(t)
	ctx := context.Background()
	if _, err := m.SavePrompts(ctx, models.PromptBundle{"NOPE": {}}); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("err = %v", err)
	}
	saved, err := m.SavePrompts(ctx, models.PromptBundle{models.PromptScript: {ID: "script_gen", Template: "custom {{topic}}"}})
	if err != nil {
		t.Fatal(err)
	}
	if saved[models.PromptScript].Template != "custom {{topic}}" || saved[models.PromptTitles].Template == "" {
		t.Fatal("merge wrong")
	}
	reset, _ := m.ResetPrompts(ctx)
	if reset[models.PromptScript].Template == "custom {{topic}}" {
		t.Fatal("reset kept custom template")
	}
}

func TestInspirationLifecycle(t *testing.T) {
	m, _, fs, fr := newTestMutator(t)
	ctx := context.Background()
	i, err := m.SaveInspiration(ctx, models.Inspiration{Content: "idea"})
	if err != nil {
		t.Fatal(err)
	}
	if i.ID == "" || i.CreatedAt == 0 || i.Category != models.DefaultCategory {
		t.Fatalf("saved = %+v", i)
	}
	if err := m.DeleteInspiration(ctx, i.ID); err != nil {
		t.Fatal(err)
	}
	if len(m.Inspirations(ctx)) != 0 {
		t.Fatal("inspiration survived")
	}
	if fs.changes != 2 || len(fr.calls) != 1 || fr.calls[0] != "inspiration:"+i.ID {
		t.Fatalf("changes=%d calls=%v", fs.changes, fr.calls)
	}
}
