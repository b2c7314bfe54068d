package digest

import (
	"html/template"
	"sort"

	"go.uber.org/zap"

	"github.com/lalithlochan/courier/internal/metrics"
	"github.com/lalithlochan/courier/internal/render"
	"github.com/lalithlochan/courier/internal/store"
)

// Entry is one rendered notification of a digest.
type Entry struct {
	UserMsg   store.UserNotification
	Msg       store.Message
	ClickLink string
	HTML      template.HTML
	GroupName string
}

// Group is one digest section.
type Group struct {
	Name     string
	Title    string
	Order    int
	Messages []Entry
}

// Grouper buckets user notifications by the group configuration and renders
// each of them.
type Grouper struct {
	config          GroupConfig
	renderers       *render.Registry
	clickLinkFormat string
	hostname        string
	logger          *zap.Logger
}

// NewGrouper creates a grouper. clickLinkFormat and hostname expand relative
// click links.
func NewGrouper(cfg GroupConfig, renderers *render.Registry, clickLinkFormat, hostname string, logger *zap.Logger) *Grouper {
	return &Grouper{
		config:          cfg,
		renderers:       renderers,
		clickLinkFormat: clickLinkFormat,
		hostname:        hostname,
		logger:          logger,
	}
}

// Group returns the sections for notifications ordered by group order, with
// each section's messages ordered by message creation time. Notifications
// whose type maps to no group are dropped.
func (g *Grouper) Group(notifications []store.UserNotification) []Group {
	byName := make(map[string]*Group)
	for _, un := range notifications {
		name, ok := g.config.Lookup(un.Msg.Type.Name)
		if !ok {
			continue
		}
		grp, ok := byName[name]
		if !ok {
			info := g.config.Groups[name]
			grp = &Group{Name: name, Title: info.DisplayName, Order: info.GroupOrder}
			byName[name] = grp
		}
		grp.Messages = append(grp.Messages, Entry{UserMsg: un, Msg: un.Msg, GroupName: name})
	}

	groups := make([]Group, 0, len(byName))
	for _, grp := range byName {
		sort.SliceStable(grp.Messages, func(i, j int) bool {
			a, b := grp.Messages[i].Msg, grp.Messages[j].Msg
			if !a.Created.Equal(b.Created) {
				return a.Created.Before(b.Created)
			}
			return a.ID < b.ID
		})
		for i := range grp.Messages {
			g.render(&grp.Messages[i])
		}
		groups = append(groups, *grp)
	}

	sort.Slice(groups, func(i, j int) bool {
		if groups[i].Order != groups[j].Order {
			return groups[i].Order < groups[j].Order
		}
		return groups[i].Name < groups[j].Name
	})
	return groups
}

func (g *Grouper) render(e *Entry) {
	e.ClickLink = render.ClickLink(g.clickLinkFormat, e.Msg.Payload, e.UserMsg.ID, e.Msg.ID, g.hostname)

	renderer, ok := g.renderers.ForType(e.Msg.Type)
	if !ok || !renderer.CanRenderFormat(render.FormatHTML) {
		metrics.RecordRendererMissing()
		g.logger.Warn("no html renderer for notification type",
			zap.String("msg_type", e.Msg.Type.Name),
			zap.String("renderer", e.Msg.Type.Renderer),
			zap.Int64("msg_id", e.Msg.ID),
		)
		return
	}

	out, err := renderer.Render(e.Msg, render.FormatHTML, map[string]any{
		"click_link": e.ClickLink,
		"user_msg":   e.UserMsg,
	})
	if err != nil {
		metrics.RecordRendererMissing()
		g.logger.Warn("notification render failed",
			zap.Error(err),
			zap.String("msg_type", e.Msg.Type.Name),
			zap.Int64("msg_id", e.Msg.ID),
		)
		return
	}
	// Renderer output is trusted markup produced by our own templates.
	e.HTML = template.HTML(out)
}
