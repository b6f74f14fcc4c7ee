package notify

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	texttemplate "text/template"
)

// Template names.
const (
	TemplateStatusChange     = "status_change"
	TemplateIncidentResolved = "incident_resolved"
	TemplateConfirmation     = "confirmation"
)

// TemplateData is the data every template renders from. It is stored with
// the notification so a message can be re-rendered.
type TemplateData struct {
	ProviderID      string `json:"providerId,omitempty"`
	ProviderName    string `json:"providerName,omitempty"`
	PreviousStatus  string `json:"previousStatus,omitempty"`
	CurrentStatus   string `json:"currentStatus,omitempty"`
	StatusPageURL   string `json:"statusPageUrl,omitempty"`
	IncidentID      string `json:"incidentId,omitempty"`
	IncidentTitle   string `json:"incidentTitle,omitempty"`
	Severity        string `json:"severity,omitempty"`
	DurationMinutes int    `json:"durationMinutes,omitempty"`
	OccurredAt      string `json:"occurredAt,omitempty"`
	ConfirmURL      string `json:"confirmUrl,omitempty"`
	UnsubscribeURL  string `json:"unsubscribeUrl,omitempty"`
}

type mailTemplate struct {
	subject *texttemplate.Template
	body    *template.Template
}

const layoutHead = `<!DOCTYPE html><html><body style="font-family:sans-serif">`

const layoutFoot = `{{if .UnsubscribeURL}}<p style="font-size:12px;color:#888"><a href="{{.UnsubscribeURL}}">Unsubscribe</a></p>{{end}}</body></html>`

var templates = map[string]mailTemplate{
	TemplateStatusChange: mustTemplate(TemplateStatusChange,
		`[AI Status] {{.ProviderName}} is {{.CurrentStatus}}`,
		layoutHead+`<h2>{{.ProviderName}} status changed</h2>
<p>{{.ProviderName}} went from <strong>{{.PreviousStatus}}</strong> to <strong>{{.CurrentStatus}}</strong> at {{.OccurredAt}}.</p>
{{if .IncidentTitle}}<p>Incident: {{.IncidentTitle}} (severity {{.Severity}})</p>{{end}}
{{if .StatusPageURL}}<p><a href="{{.StatusPageURL}}">Provider status page</a></p>{{end}}
`+layoutFoot),

	TemplateIncidentResolved: mustTemplate(TemplateIncidentResolved,
		`[AI Status] {{.ProviderName}} incident resolved`,
		layoutHead+`<h2>{{.ProviderName}} is operational again</h2>
<p>{{if .IncidentTitle}}{{.IncidentTitle}} was resolved{{else}}The incident was resolved{{end}} at {{.OccurredAt}} after {{.DurationMinutes}} minutes.</p>
{{if .StatusPageURL}}<p><a href="{{.StatusPageURL}}">Provider status page</a></p>{{end}}
`+layoutFoot),

	TemplateConfirmation: mustTemplate(TemplateConfirmation,
		`Confirm your AI Status subscription`,
		layoutHead+`<h2>Confirm your subscription</h2>
<p>You asked to receive status notifications. The link is valid for 24 hours.</p>
<p><a href="{{.ConfirmURL}}">Confirm subscription</a></p>
<p>If you did not ask for this, ignore this email.</p>
`+layoutFoot),
}

func mustTemplate(name, subject, body string) mailTemplate {
	return mailTemplate{
		subject: texttemplate.Must(texttemplate.New(name + "_subject").Parse(subject)),
		body:    template.Must(template.New(name).Parse(body)),
	}
}

// Render renders the subject and HTML body of a named template.
func Render(name string, data *TemplateData) (subject, html string, err error) {
	tmpl, ok := templates[name]
	if !ok {
		return "", "", fmt.Errorf("unknown template %q", name)
	}
	if data == nil {
		data = &TemplateData{}
	}

	var buf bytes.Buffer
	if err := tmpl.subject.Execute(&buf, data); err != nil {
		return "", "", fmt.Errorf("render %s subject: %w", name, err)
	}
	subject = headerSafe.Replace(buf.String())

	buf.Reset()
	if err := tmpl.body.Execute(&buf, data); err != nil {
		return "", "", fmt.Errorf("render %s body: %w", name, err)
	}
	return strings.TrimSpace(subject), strings.TrimSpace(buf.String()), nil
}

// Templates returns the known template names.
func Templates() []string {
	names := make([]string, 0, len(templates))
	for name := range templates {
		names = append(names, name)
	}
	return names
}

var headerSafe = strings.NewReplacer("\r", " ", "\n", " ")
