package email

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"waitlistgate/internal/domain"
)

func TestTemplateRenderer_Activation(t *testing.T) {
	r, err := NewTemplateRenderer()
	require.NoError(t, err)

	data := &domain.ActivationEmailData{
		Email:     "ada@example.com",
		Name:      "Ada",
		Link:      "https://app.example.com/activate?token=abc&x=<y>",
		ExpiresAt: time.Date(2026, 4, 8, 10, 0, 0, 0, time.UTC),
	}
	subject, html, text, err := r.Render("activation", data)
	require.NoError(t, err)

	assert.Equal(t, "You're in, Ada! Activate your account", subject)
	assert.Contains(t, text, "https://app.example.com/activate?token=abc&x=<y>")
	assert.Contains(t, text, "April 8, 2026")
	assert.Contains(t, html, "Hi Ada,")
	assert.NotContains(t, html, "<y>", "html output escapes the link")
}

func TestTemplateRenderer_UnknownTemplate(t *testing.T) {
	r, err := NewTemplateRenderer()
	require.NoError(t, err)

	_, _, _, err = r.Render("welcome", nil)
	assert.Error(t, err)
}
