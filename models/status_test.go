package models

import "testing"

func complete(p Project) Project {
	p.Script = "s"
	p.Titles = []TitleItem{{Title: "t"}}
	p.AudioFile = "/api/images/p1%2Fa.mp3"
	p.Summary = "sum"
	p.CoverOptions = []CoverOption{{Visual: "v"}}
	return p
}

func TestDeriveStatus(t *testing.T) {
	cases := []struct {
		name string
		in   Project
		want string
	}{
		{"draft stays draft", Project{Status: ProjectStatusDraft}, ProjectStatusDraft},
		{"draft with script", Project{Status: ProjectStatusDraft, Script: "x"}, ProjectStatusInProgress},
		{"complete", complete(Project{Status: ProjectStatusInProgress}), ProjectStatusCompleted},
		{"draft jumps to complete", complete(Project{Status: ProjectStatusDraft}), ProjectStatusCompleted},
		{"completed loses audio", func() Project {
			p := complete(Project{Status: ProjectStatusCompleted})
			p.AudioFile = ""
			return p
		}(), ProjectStatusInProgress},
		{"archived frozen", complete(Project{Status: ProjectStatusArchived}), ProjectStatusArchived},
		{"archived without script", Project{Status: ProjectStatusArchived}, ProjectStatusArchived},
		{"in progress without script", Project{Status: ProjectStatusInProgress}, ProjectStatusInProgress},
		{"empty status", Project{}, ProjectStatusDraft},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := DeriveStatus(tc.in)
			if got != tc.want {
				t.Fatalf("DeriveStatus = %s, want %s", got, tc.want)
			}
			again := tc.in
			again.Status = got
			if second := DeriveStatus(again); second != got {
				t.Fatalf("not a fixpoint: %s then %s", got, second)
			}
		})
	}
}

func TestSanitizedClearsInlineImages(t *testing.T) {
	p := Project{
		Storyboard: []StoryboardFrame{
			{ID: "f1", ImageURL: "data:image/png;base64,AAAA"},
			{ID: "f2", ImageURL: "/api/images/x"},
		},
		CoverImage: &CoverImage{ImageURL: "data:image/jpeg;base64,BBBB"},
	}
	s := p.Sanitized()
	if s.Storyboard[0].ImageURL != "" || s.CoverImage.ImageURL != "" {
		t.Fatalf("inline images survived: %+v", s)
	}
	if s.Storyboard[1].ImageURL != "/api/images/x" {
		t.Fatalf("blob ref dropped: %q", s.Storyboard[1].ImageURL)
	}
	if p.Storyboard[0].ImageURL == "" || p.CoverImage.ImageURL == "" {
		t.Fatal("original mutated")
	}
}

func TestBlobRefs(t *testing.T) {
	p := Project{
		Storyboard: []StoryboardFrame{
			{ImageURL: "/api/images/p%2Ff1.png"},
			{ImageURL: "data:image/png;base64,AAAA"},
			{ImageURL: "https://cdn.example.com/x.png"},
		},
		CoverImage: &CoverImage{ImageURL: "/api/images/p%2Fcover.png"},
		AudioFile:  "/api/images/p%2Fa.mp3",
	}
	refs := p.BlobRefs()
	if len(refs) != 3 {
		t.Fatalf("refs = %v", refs)
	}
}
