package template

import (
	"bytes"
	"fmt"
	htmltmpl "html/template"
	"os"
	"strings"
	texttmpl "text/template"
)

// Rendered is the output of one template render. Email fills Subject and
// BodyHTML; text channels fill BodyText.
type Rendered struct {
	Subject  string
	BodyText string
	BodyHTML string
}

// Service renders channel-specific templates from per-channel directories.
// Email templates are HTML ("base.html" + "<key>.html", optional
// "<key>.subject.txt"); the text channels use "base.txt" + "<key>.txt".
type Service struct {
	emailPath    string
	smsPath      string
	whatsappPath string
}

func NewService(emailPath, smsPath, whatsappPath string) *Service {
	return &Service{
		emailPath:    emailPath,
		smsPath:      smsPath,
		whatsappPath: whatsappPath,
	}
}

func (t *Service) Render(channel, templateKey string, data map[string]any) (*Rendered, error) {
	if data == nil {
		data = map[string]any{}
	}
	name := strings.ToLower(templateKey)

	switch channel {
	case "email":
		basePath := fmt.Sprintf("%s/base.html", t.emailPath)
		bodyPath := fmt.Sprintf("%s/%s.html", t.emailPath, name)

		tmpl, err := htmltmpl.ParseFiles(basePath, bodyPath)
		if err != nil {
			return nil, fmt.Errorf("parse email templates: %w", err)
		}
		var buf bytes.Buffer
		if err := tmpl.ExecuteTemplate(&buf, "base.html", data); err != nil {
			return nil, fmt.Errorf("execute email template: %w", err)
		}

		out := &Rendered{BodyHTML: buf.String()}
		if subj, err := t.renderSubject(name, data); err == nil {
			out.Subject = subj
		}
		return out, nil

	case "sms", "whatsapp", "inapp":
		dir := t.smsPath
		if channel == "whatsapp" {
			dir = t.whatsappPath
		}
		basePath := fmt.Sprintf("%s/base.txt", dir)
		bodyPath := fmt.Sprintf("%s/%s.txt", dir, name)

		tmpl, err := texttmpl.ParseFiles(basePath, bodyPath)
		if err != nil {
			return nil, fmt.Errorf("parse %s templates: %w", channel, err)
		}
		var buf bytes.Buffer
		if err := tmpl.ExecuteTemplate(&buf, "base.txt", data); err != nil {
			return nil, fmt.Errorf("execute %s template: %w", channel, err)
		}
		return &Rendered{BodyText: buf.String()}, nil

	default:
		return nil, fmt.Errorf("unsupported channel: %s", channel)
	}
}

func (t *Service) renderSubject(name string, data map[string]any) (string, error) {
	path := fmt.Sprintf("%s/%s.subject.txt", t.emailPath, name)
	if _, err := os.Stat(path); err != nil {
		return "", err
	}
	tmpl, err := texttmpl.ParseFiles(path)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}
