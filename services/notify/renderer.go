package notify

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"

	"eventhub/data/models"
)

// Template names a rendered email.
type Template string

const (
	TemplateVerification             Template = "verification"
	TemplatePasswordReset            Template = "password-reset"
	TemplateRegistrationConfirmation Template = "registration-confirmation"
	TemplateEventUpdate              Template = "event-update"
	TemplateReminder                 Template = "reminder"
)

//go:embed templates/*.html
var templateFS embed.FS

// Data is the value every template is executed with. Fields a template does
// not reference are ignored.
type Data struct {
	URL           string
	Event         models.Event
	UpdateType    string
	MinutesBefore int
}

type Renderer struct {
	tmpl    *template.Template
	catalog *Catalog
	locale  string
}

func NewRenderer(c *Catalog, locale string) (*Renderer, error) {
	if locale == "" {
		locale = BaseLocale
	}

	// "t" is rebound per render to the printer of the renderer's locale.
	tmpl, err := template.New("emails").
		Funcs(template.FuncMap{"t": func(key string, args ...interface{}) string { return key }}).
		ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("error parsing email templates: %w", err)
	}

	return &Renderer{tmpl: tmpl, catalog: c, locale: locale}, nil
}

// Render returns the subject and HTML body of the named template.
func (r *Renderer) Render(name Template, data Data) (string, string, error) {
	p := r.catalog.Printer(r.locale)

	tmpl, err := r.tmpl.Clone()
	if err != nil {
		return "", "", err
	}
	tmpl.Funcs(template.FuncMap{
		"t": func(key string, args ...interface{}) string { return p.Sprintf(key, args...) },
	})

	var body bytes.Buffer
	if err := tmpl.ExecuteTemplate(&body, string(name), data); err != nil {
		return "", "", fmt.Errorf("error rendering %s: %w", name, err)
	}

	var subject string
	switch name {
	case TemplateRegistrationConfirmation, TemplateEventUpdate:
		subject = p.Sprintf("subject."+string(name), data.Event.Title)
	case TemplateReminder:
		subject = p.Sprintf("subject."+string(name), data.Event.Title, data.MinutesBefore)
	default:
		subject = p.Sprintf("subject." + string(name))
	}

	return subject, body.String(), nil
}
