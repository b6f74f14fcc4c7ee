package notify_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aistatus/aistatus/internal/notify"
)

func TestRender_StatusChange(t *testing.T) {
	subject, html, err := notify.Render(notify.TemplateStatusChange, &notify.TemplateData{
		ProviderName:   "OpenAI",
		PreviousStatus: "operational",
		CurrentStatus:  "down",
		IncidentTitle:  "OpenAI outage",
		Severity:       "critical",
		StatusPageURL:  "https://status.openai.com",
		UnsubscribeURL: "https://status.example.com/v1/subscriptions/unsubscribe?token=abc",
	})
	require.NoError(t, err)

	assert.Equal(t, "[AI Status] OpenAI is down", subject)
	assert.Contains(t, html, "<strong>operational</strong> to <strong>down</strong>")
	assert.Contains(t, html, "Incident: OpenAI outage (severity critical)")
	assert.Contains(t, html, `href="https://status.openai.com"`)
	assert.Contains(t, html, "Unsubscribe")
}

func TestRender_EscapesProviderContent(t *testing.T) {
	subject, html, err := notify.Render(notify.TemplateStatusChange, &notify.TemplateData{
		ProviderName:  "Evil\r\nBcc: victim@example.com",
		CurrentStatus: "down",
		IncidentTitle: `<script>alert(1)</script>`,
	})
	require.NoError(t, err)

	assert.NotContains(t, subject, "\n")
	assert.NotContains(t, subject, "\r")
	assert.NotContains(t, html, "<script>")
	assert.Contains(t, html, "&lt;script&gt;")
}

func TestRender_OmitsOptionalSections(t *testing.T) {
	_, html, err := notify.Render(notify.TemplateStatusChange, &notify.TemplateData{
		ProviderName:  "Cohere",
		CurrentStatus: "degraded",
	})
	require.NoError(t, err)

	assert.NotContains(t, html, "Incident:")
	assert.NotContains(t, html, "Unsubscribe")
	assert.NotContains(t, html, "status page")
}

func TestRender_Confirmation(t *testing.T) {
	subject, html, err := notify.Render(notify.TemplateConfirmation, &notify.TemplateData{
		ConfirmURL: "https://status.example.com/v1/subscriptions/confirm?token=abc",
	})
	require.NoError(t, err)

	assert.Equal(t, "Confirm your AI Status subscription", subject)
	assert.Contains(t, html, "https://status.example.com/v1/subscriptions/confirm?token=abc")
}

func TestRender_UnknownTemplate(t *testing.T) {
	_, _, err := notify.Render("nope", nil)
	assert.Error(t, err)
}

func TestTemplates(t *testing.T) {
	assert.ElementsMatch(t, []string{
		notify.TemplateStatusChange,
		notify.TemplateIncidentResolved,
		notify.TemplateConfirmation,
	}, notify.Templates())
}
