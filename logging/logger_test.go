package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain", in: "/data/inbox/report.pdf", want: "/data/inbox/report.pdf"},
		{name: "tab kept", in: "a\tb", want: "a\tb"},
		{name: "newline", in: "evil\nlevel=ERROR msg=forged", want: "evil?level=ERROR msg=forged"},
		{name: "escape", in: "\x1b[31mred", want: "?[31mred"},
		{name: "del", in: "x\x7fy", want: "x?y"},
		{name: "c1 control", in: "a\u0085b", want: "a?b"},
		{name: "invalid utf8", in: "a\xffb", want: "a?b"},
		{name: "unicode kept", in: "/home/user/Téléchargements", want: "/home/user/Téléchargements"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Sanitize(tt.in); got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNewWriter_JSONSanitizesAttrs(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, FormatJSON, slog.LevelDebug)

	log.Info("queued", "path", "/tmp/a\nb", "err", errors.New("bad\rthing"))

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not JSON: %v: %s", err, buf.String())
	}
	if rec["path"] != "/tmp/a?b" {
		t.Errorf("path = %v, want /tmp/a?b", rec["path"])
	}
	if rec["err"] != "bad?thing" {
		t.Errorf("err = %v, want bad?thing", rec["err"])
	}
}

func TestNewWriter_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, FormatText, slog.LevelWarn)

	log.Info("hidden")
	log.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info record leaked through warn level: %s", out)
	}
	if !strings.Contains(out, "shown") {
		t.Errorf("warn record missing: %s", out)
	}
}

func TestParseFormatAndLevel(t *testing.T) {
	if f, err := ParseFormat("JSON"); err != nil || f != FormatJSON {
		t.Errorf("ParseFormat(JSON) = %v, %v", f, err)
	}
	if _, err := ParseFormat("cef"); err == nil {
		t.Error("ParseFormat(cef) should fail")
	}
	if l, err := ParseLevel("debug"); err != nil || l != slog.LevelDebug {
		t.Errorf("ParseLevel(debug) = %v, %v", l, err)
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Error("ParseLevel(loud) should fail")
	}
}
