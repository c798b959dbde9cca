package mailer

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/url"
	"strings"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// Composer renders the account emails.
type Composer struct {
	appName   string
	clientURL string
	codeTTL   time.Duration
	resetTTL  time.Duration
}

// NewComposer creates a composer. clientURL is the base URL of the web
// client; reset links point at <clientURL>/reset-password/<token>.
func NewComposer(appName, clientURL string, codeTTL, resetTTL time.Duration) *Composer {
	return &Composer{
		appName:   appName,
		clientURL: strings.TrimRight(clientURL, "/"),
		codeTTL:   codeTTL,
		resetTTL:  resetTTL,
	}
}

// Verification renders the verification code notice.
func (c *Composer) Verification(to, name, code string) (Message, error) {
	body, err := render("verification.html", map[string]any{
		"AppName":      c.appName,
		"Name":         name,
		"Code":         code,
		"ValidMinutes": int(c.codeTTL.Minutes()),
	})
	if err != nil {
		return Message{}, err
	}
	return Message{To: to, Subject: "Verify your email", HTMLBody: body}, nil
}

// PasswordReset renders the reset link notice.
func (c *Composer) PasswordReset(to, name, token string) (Message, error) {
	body, err := render("reset.html", map[string]any{
		"AppName":      c.appName,
		"Name":         name,
		"Link":         c.ResetLink(token),
		"ValidMinutes": int(c.resetTTL.Minutes()),
	})
	if err != nil {
		return Message{}, err
	}
	return Message{To: to, Subject: "Reset your password", HTMLBody: body}, nil
}

// ResetLink returns the client URL that embeds token.
func (c *Composer) ResetLink(token string) string {
	return c.clientURL + "/reset-password/" + url.PathEscape(token)
}

func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return buf.String(), nil
}
