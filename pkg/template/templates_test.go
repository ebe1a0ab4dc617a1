package template

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestRenderEmail(t *testing.T) {
	emailDir := writeFiles(t, map[string]string{
		"base.html":            `<html><body>{{template "shipment.html" .}}</body></html>`,
		"shipment.html":        `<p>Order {{.order_id}} shipped</p>`,
		"shipment.subject.txt": `Order {{.order_id}} is on its way`,
	})
	svc := NewService(emailDir, "", "")

	out, err := svc.Render("email", "shipment", map[string]any{"order_id": "ord-9"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out.BodyHTML, "Order ord-9 shipped") {
		t.Errorf("body = %q", out.BodyHTML)
	}
	if out.Subject != "Order ord-9 is on its way" {
		t.Errorf("subject = %q", out.Subject)
	}
	if out.BodyText != "" {
		t.Error("email render fills BodyHTML, not BodyText")
	}
}

func TestRenderEmailWithoutSubjectTemplate(t *testing.T) {
	emailDir := writeFiles(t, map[string]string{
		"base.html":     `{{template "shipment.html" .}}`,
		"shipment.html": `shipped`,
	})
	svc := NewService(emailDir, "", "")

	out, err := svc.Render("email", "shipment", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Subject != "" {
		t.Errorf("subject = %q, want empty without a subject template", out.Subject)
	}
}

func TestRenderSMS(t *testing.T) {
	smsDir := writeFiles(t, map[string]string{
		"base.txt":     `{{template "shipment.txt" .}}`,
		"shipment.txt": `Order {{.order_id}} shipped`,
	})
	svc := NewService("", smsDir, "")

	out, err := svc.Render("sms", "shipment", map[string]any{"order_id": "ord-9"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.BodyText != "Order ord-9 shipped" {
		t.Errorf("body = %q", out.BodyText)
	}
}

func TestRenderUnknownChannel(t *testing.T) {
	svc := NewService("", "", "")
	if _, err := svc.Render("pager", "shipment", nil); err == nil {
		t.Fatal("expected an error for an unsupported channel")
	}
}

func TestRenderMissingTemplate(t *testing.T) {
	smsDir := writeFiles(t, map[string]string{"base.txt": `x`})
	svc := NewService("", smsDir, "")
	if _, err := svc.Render("sms", "nope", nil); err == nil {
		t.Fatal("expected an error for a missing template file")
	}
}
