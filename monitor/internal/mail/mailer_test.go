package mail

import (
	"context"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/mail"
	"strings"
	"testing"
	"time"
)

func testMailer(cfg Config) *Mailer {
	m := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	m.now = func() time.Time {
		return time.Date(2026, 8, 24, 10, 30, 0, 0, time.UTC)
	}
	return m
}

func TestNotify_UnconfiguredSkipsDelivery(t *testing.T) {
	// WHAT: no credentials means "skipped", not "failed" — the run must
	// survive an unconfigured notifier.
	m := testMailer(Config{Host: "smtp.example.org"})
	delivered, err := m.Notify(context.Background(), ChangeNotice{RIN: "1234-AB01"})
	if err != nil {
		t.Fatalf("err = %v, want nil", err)
	}
	if delivered {
		t.Errorf("delivered = true without credentials")
	}
}

func TestBuildMessage_Structure(t *testing.T) {
	// WHAT: the rendered message is valid RFC 822 with a
	// multipart/alternative body whose plain and HTML parts both carry the
	// batch ids and the diff.
	m := testMailer(Config{
		Host: "smtp.example.org", Username: "u", Password: "p",
		From: "monitor@example.org", To: "ops@example.org",
	})
	notice := ChangeNotice{
		RIN:      "1234-AB01",
		OldBatch: "202510",
		NewBatch: "202604",
		Diff:     "--- Previous\n+++ Current\n-data v1\n+data v2\n",
		OldPath:  "/data/1234-AB01/old.xml",
		NewPath:  "/data/1234-AB01/new.xml",
		OldURL:   "https://example.org/old",
		NewURL:   "https://example.org/new",
	}

	raw, err := m.buildMessage(notice)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	msg, err := mail.ReadMessage(strings.NewReader(string(raw)))
	if err != nil {
		t.Fatalf("parse message: %v", err)
	}
	if got := msg.Header.Get("From"); got != "monitor@example.org" {
		t.Errorf("From = %q", got)
	}
	if got := msg.Header.Get("To"); got != "ops@example.org" {
		t.Errorf("To = %q", got)
	}
	dec := new(mime.WordDecoder)
	subject, err := dec.DecodeHeader(msg.Header.Get("Subject"))
	if err != nil {
		t.Fatalf("decode subject: %v", err)
	}
	if want := "RegInfo RIN 1234-AB01 Change: 202510 → 202604"; subject != want {
		t.Errorf("Subject = %q, want %q", subject, want)
	}

	mediaType, params, err := mime.ParseMediaType(msg.Header.Get("Content-Type"))
	if err != nil {
		t.Fatalf("content type: %v", err)
	}
	if mediaType != "multipart/alternative" {
		t.Errorf("media type = %q", mediaType)
	}

	mr := multipart.NewReader(msg.Body, params["boundary"])
	var plain, html string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("next part: %v", err)
		}
		body, _ := io.ReadAll(part)
		switch {
		case strings.HasPrefix(part.Header.Get("Content-Type"), "text/plain"):
			plain = string(body)
		case strings.HasPrefix(part.Header.Get("Content-Type"), "text/html"):
			html = string(body)
		}
	}
	if plain == "" || html == "" {
		t.Fatalf("missing alternative part: plain=%d html=%d bytes", len(plain), len(html))
	}

	for _, want := range []string{"1234-AB01", "202510", "202604", "data v2", "/data/1234-AB01/new.xml"} {
		if !strings.Contains(plain, want) {
			t.Errorf("plain part missing %q", want)
		}
	}
	for _, want := range []string{"1234-AB01", "202510", "202604", "data v2", "https://example.org/new"} {
		if !strings.Contains(html, want) {
			t.Errorf("html part missing %q", want)
		}
	}
}

func TestBuildMessage_DiffEscapedInHTML(t *testing.T) {
	// WHAT: diff content goes through html/template, so markup inside the
	// diff cannot inject into the HTML part.
	m := testMailer(Config{
		Host: "h", Username: "u", Password: "p",
		From: "a@b", To: "c@d",
	})
	raw, err := m.buildMessage(ChangeNotice{
		RIN: "r", OldBatch: "o", NewBatch: "n",
		Diff: `+<script>alert("x")</script>`,
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	s := string(raw)
	if strings.Contains(s, "<script>") {
		t.Errorf("unescaped markup in message body")
	}
	if !strings.Contains(s, "&lt;script&gt;") {
		t.Errorf("escaped diff not present")
	}
}

func TestBuildMessage_TruncatesDiff(t *testing.T) {
	// WHAT: the diff preview is capped at DiffPreviewLimit in both parts.
	m := testMailer(Config{
		Host: "h", Username: "u", Password: "p",
		From: "a@b", To: "c@d",
	})
	long := strings.Repeat("x", DiffPreviewLimit+1000) + "TAIL-MARKER"
	raw, err := m.buildMessage(ChangeNotice{RIN: "r", OldBatch: "o", NewBatch: "n", Diff: long})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if strings.Contains(string(raw), "TAIL-MARKER") {
		t.Errorf("diff not truncated")
	}
}

func TestTruncate_RuneBoundary(t *testing.T) {
	// WHAT: truncation never splits a multi-byte rune.
	s := strings.Repeat("é", 10) // 2 bytes each
	got := truncate(s, 5)
	if len(got) != 4 {
		t.Errorf("len = %d, want 4 (rune boundary below 5)", len(got))
	}
	for _, r := range got {
		if r != 'é' {
			t.Errorf("corrupt rune %q", r)
		}
	}
}
