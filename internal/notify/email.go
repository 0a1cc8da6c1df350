package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/dustin/go-humanize"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/bakkerme/listing-notifier/internal/core"
	"github.com/bakkerme/listing-notifier/internal/outputs/email"
)

const defaultEmailTemplate = `<html><body>
<h1>{{.Query.Label}}</h1>
{{if .Note}}{{.Note}}{{end}}
<p>{{count (len .Listings)}} new {{if eq (len .Listings) 1}}listing{{else}}listings{{end}}</p>
{{range .Listings}}<p>
<a href="{{.URL}}">{{.Title}}</a>{{with price .Price}} &middot; <strong>{{.}}</strong>{{end}}<br>
{{if .Location}}{{.Location}}{{end}}{{if .HasPostedAt}} &middot; {{ago .PostedAt}}{{end}}
{{if .Description}}<br>{{.Description}}{{end}}
</p>
{{end}}<p><small>Checked {{.GeneratedAt.Format "02.01.2006 15:04"}}</small></p>
</body></html>`

// EmailNotifier renders all novel listings of a query into one HTML email.
type EmailNotifier struct {
	sender    email.Sender
	from      string
	defaultTo string
	tmpl      *template.Template
	markdown  goldmark.Markdown
	text      *converter.Converter
	now       func() time.Time
}

type emailData struct {
	Query       core.SearchQuery
	Listings    []core.Listing
	Note        template.HTML
	GeneratedAt time.Time
}

// NewEmailNotifier parses templateText, or the built-in template when empty.
// defaultTo is used for queries without a recipient.
func NewEmailNotifier(sender email.Sender, from, defaultTo, templateText string) (*EmailNotifier, error) {
	if sender == nil {
		return nil, fmt.Errorf("email sender is required")
	}
	if strings.TrimSpace(templateText) == "" {
		templateText = defaultEmailTemplate
	}
	tmpl, err := template.New("email").Funcs(templateFuncs()).Parse(templateText)
	if err != nil {
		return nil, fmt.Errorf("parse email template failed: %w", err)
	}
	return &EmailNotifier{
		sender:    sender,
		from:      from,
		defaultTo: defaultTo,
		tmpl:      tmpl,
		markdown:  goldmark.New(goldmark.WithExtensions(extension.GFM)),
		text:      newTextConverter(),
		now:       time.Now,
	}, nil
}

func (n *EmailNotifier) Notify(ctx context.Context, query core.SearchQuery, listing core.Listing) error {
	return n.NotifyBatch(ctx, query, []core.Listing{listing})
}

func (n *EmailNotifier) NotifyBatch(ctx context.Context, query core.SearchQuery, listings []core.Listing) error {
	to := query.Recipient
	if to == "" {
		to = n.defaultTo
	}
	if to == "" {
		return fmt.Errorf("no recipient configured for query %s", query.ID)
	}
	body, err := n.render(query, listings)
	if err != nil {
		return err
	}
	return n.sender.Send(ctx, email.Message{
		From:     n.from,
		To:       to,
		Subject:  subject(query),
		Body:     body,
		TextBody: n.textBody(body, query, listings),
	})
}

func newTextConverter() *converter.Converter {
	return converter.NewConverter(
		converter.WithEscapeMode("smart"),
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
		),
	)
}

// textBody derives the plain-text part from the rendered HTML so custom
// templates keep both parts in sync.
func (n *EmailNotifier) textBody(body string, query core.SearchQuery, listings []core.Listing) string {
	md, err := n.text.ConvertString(body)
	if err != nil || strings.TrimSpace(md) == "" {
		return plainText(query, listings)
	}
	return strings.TrimSpace(md)
}

// SendTest sends a short message to verify the SMTP settings.
func (n *EmailNotifier) SendTest(ctx context.Context, to string) error {
	if to == "" {
		to = n.defaultTo
	}
	if to == "" {
		return fmt.Errorf("test email recipient is required")
	}
	return n.sender.Send(ctx, email.Message{
		From:     n.from,
		To:       to,
		Subject:  "Test Email",
		Body:     "<html><body><p>This is a test email.</p></body></html>",
		TextBody: "This is a test email.",
	})
}

func (n *EmailNotifier) render(query core.SearchQuery, listings []core.Listing) (string, error) {
	data := emailData{
		Query:       query,
		Listings:    listings,
		GeneratedAt: n.now(),
	}
	if note := strings.TrimSpace(query.Note); note != "" {
		var buf bytes.Buffer
		if err := n.markdown.Convert([]byte(note), &buf); err != nil {
			return "", fmt.Errorf("render note markdown failed: %w", err)
		}
		data.Note = template.HTML(buf.String())
	}
	var builder strings.Builder
	if err := n.tmpl.Execute(&builder, data); err != nil {
		return "", fmt.Errorf("execute email template failed: %w", err)
	}
	return builder.String(), nil
}

func subject(query core.SearchQuery) string {
	if query.Label != "" {
		return query.Label
	}
	return query.ID
}

func plainText(query core.SearchQuery, listings []core.Listing) string {
	var b strings.Builder
	b.WriteString(subject(query))
	b.WriteString("\n\n")
	for _, l := range listings {
		b.WriteString("- ")
		b.WriteString(l.Title)
		if p := l.Price.String(); p != "" {
			b.WriteString(" (" + p + ")")
		}
		b.WriteString("\n  ")
		b.WriteString(l.URL)
		b.WriteString("\n")
	}
	return b.String()
}

func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"price": func(p *core.Price) string { return p.String() },
		"ago":   humanize.Time,
		"count": func(n int) string { return humanize.Comma(int64(n)) },
	}
}
