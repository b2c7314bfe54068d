package digest

import (
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/courier/internal/render"
	"github.com/lalithlochan/courier/internal/store"
)

func scenarioGroupConfig() GroupConfig {
	return GroupConfig{
		TypeMapping: map[string]string{"a.*": "G1", "x.*": "G2"},
		Groups: map[string]GroupInfo{
			"G1": {DisplayName: "One", GroupOrder: 2},
			"G2": {DisplayName: "Two", GroupOrder: 1},
		},
	}
}

func testRenderers(t *testing.T) *render.Registry {
	t.Helper()
	tmpl, err := render.NewMessageTemplate("title", `<b>{{.payload.title}}</b>`)
	if err != nil {
		t.Fatalf("template: %v", err)
	}
	r := render.NewRegistry()
	r.Register("title", tmpl)
	return r
}

func userMsg(id int64, typeName, renderer, title string, created time.Time) store.UserNotification {
	return store.UserNotification{
		ID:     id * 10,
		UserID: 7,
		Msg: store.Message{
			ID:      id,
			Type:    store.NotificationType{Name: typeName, Renderer: renderer},
			Payload: map[string]any{"title": title, render.ClickLinkKey: "/courses/" + title},
			Created: created,
		},
		Created: created,
	}
}

func TestGrouper_Ordering(t *testing.T) {
	base := time.Date(2020, 1, 1, 10, 0, 0, 0, time.UTC)
	g := NewGrouper(scenarioGroupConfig(), testRenderers(t), "https://{hostname}{url_path}", "lms.example.com", zap.NewNop())

	groups := g.Group([]store.UserNotification{
		userMsg(2, "a.b.d", "title", "second", base.Add(2*time.Minute)),
		userMsg(3, "x.y", "title", "other", base),
		userMsg(1, "a.b.c", "title", "first", base.Add(time.Minute)),
		userMsg(4, "unmapped", "title", "dropped", base),
	})

	if len(groups) != 2 {
		t.Fatalf("got %d groups, want 2", len(groups))
	}
	if groups[0].Title != "Two" || groups[1].Title != "One" {
		t.Errorf("group order = %s, %s", groups[0].Title, groups[1].Title)
	}
	if len(groups[0].Messages) != 1 || groups[0].Messages[0].Msg.Type.Name != "x.y" {
		t.Errorf("group Two = %+v", groups[0].Messages)
	}
	one := groups[1].Messages
	if len(one) != 2 || one[0].Msg.Type.Name != "a.b.c" || one[1].Msg.Type.Name != "a.b.d" {
		t.Fatalf("group One order wrong: %+v", one)
	}

	if one[0].HTML != "<b>first</b>" {
		t.Errorf("html = %q", one[0].HTML)
	}
	if one[0].ClickLink != "https://lms.example.com/courses/first" {
		t.Errorf("click link = %q", one[0].ClickLink)
	}
	if one[0].GroupName != "G1" {
		t.Errorf("group name = %q", one[0].GroupName)
	}
}

func TestGrouper_MissingRenderer(t *testing.T) {
	cfg := GroupConfig{
		TypeMapping: map[string]string{"*": "all"},
		Groups:      map[string]GroupInfo{"all": {DisplayName: "All"}},
	}
	g := NewGrouper(cfg, testRenderers(t), "", "", zap.NewNop())
	now := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

	groups := g.Group([]store.UserNotification{
		userMsg(1, "no.renderer", "", "a", now),
		userMsg(2, "gone.renderer", "unregistered", "b", now),
	})
	if len(groups) != 1 || len(groups[0].Messages) != 2 {
		t.Fatalf("entries should be kept, got %+v", groups)
	}
	for _, e := range groups[0].Messages {
		if e.HTML != "" {
			t.Errorf("msg %d html = %q, want empty", e.Msg.ID, e.HTML)
		}
		if !strings.HasPrefix(e.ClickLink, "/courses/") {
			t.Errorf("without a format the click link is the raw path, got %q", e.ClickLink)
		}
	}
}

func TestGrouper_Empty(t *testing.T) {
	g := NewGrouper(scenarioGroupConfig(), render.NewRegistry(), "", "", zap.NewNop())
	if groups := g.Group(nil); len(groups) != 0 {
		t.Errorf("expected no groups, got %d", len(groups))
	}
}
