package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"testing"
)

func TestHandlerRenamesKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(&buf, slog.LevelInfo))
	logger.Debug("hidden")
	logger.Warn("schedule rejected", MaskField("token", "secret"), MaskField("linearId", "abc"))

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode %q: %v", buf.String(), err)
	}
	if line["severity"] != "WARN" || line["message"] != "schedule rejected" {
		t.Fatalf("unexpected line %v", line)
	}
	if _, ok := line["timestamp"]; !ok {
		t.Fatalf("expected timestamp key")
	}
	if line["token"] != RedactedValue || line["linearId"] != "abc" {
		t.Fatalf("unexpected redaction %v", line)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{"debug": slog.LevelDebug, " WARN ": slog.LevelWarn, "error": slog.LevelError, "bogus": slog.LevelInfo}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestSetupWithFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jctd.log")
	logger, closer := SetupWithOptions("jctd", "test", Options{File: path, Level: "debug"})
	defer closer.Close()
	if logger == nil {
		t.Fatalf("expected logger")
	}
	logger.Info("hello")
}

func TestFingerprint(t *testing.T) {
	if got := Fingerprint("0x0123456789abcdef0123"); got != "0x01…0123" {
		t.Fatalf("unexpected fingerprint %s", got)
	}
	if got := Fingerprint("short"); got != RedactedValue {
		t.Fatalf("short values must be masked, got %s", got)
	}
}

func TestClassify(t *testing.T) {
	cases := map[string]Sensitivity{
		"linearId":    Public,
		"gross":       Public,
		"reason":      Public,
		"authorizers": Party,
		"Employer":    Party,
		"public_key":  Party,
		"url":         Endpoint,
		"hmac-secret": Secret,
		"signatures":  Secret,
		"Passphrase":  Secret,
	}
	for key, want := range cases {
		if got := Classify(key); got != want {
			t.Fatalf("Classify(%q) = %v, want %v", key, got, want)
		}
	}
}

func TestHandlerRedactsScheduleFields(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(&buf, slog.LevelInfo))
	employer := "0x1111222233334444555566667777888899990000"
	contractor := "0xaaaabbbbccccddddeeeeffff0000111122223333"
	logger.Info("schedule transitioned",
		slog.String("linearId", "7f1c"),
		slog.String("gross", "500 GBP"),
		slog.String("authorizers", employer+","+contractor),
		slog.String("signature", "deadbeef"),
		slog.Any("passphrase", []byte("hunter2")),
		slog.String("url", "https://user:pw@hooks.example.com/jct?token=abc#frag"))

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode %q: %v", buf.String(), err)
	}
	if line["linearId"] != "7f1c" || line["gross"] != "500 GBP" {
		t.Fatalf("public fields altered: %v", line)
	}
	if line["authorizers"] != "0x11…0000,0xaa…3333" {
		t.Fatalf("unexpected authorizers %v", line["authorizers"])
	}
	if line["signature"] != RedactedValue || line["passphrase"] != RedactedValue {
		t.Fatalf("secrets leaked: %v", line)
	}
	if line["url"] != "https://hooks.example.com/jct" {
		t.Fatalf("unexpected url %v", line["url"])
	}
}

func TestMaskFieldIsIdempotent(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(&buf, slog.LevelInfo))
	logger.Info("signed", MaskField("signer", "0x0123456789abcdef0123"))

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode %q: %v", buf.String(), err)
	}
	if line["signer"] != "0x01…0123" {
		t.Fatalf("fingerprint applied twice: %v", line["signer"])
	}
}

func TestMaskURL(t *testing.T) {
	if got := MaskURL("not a url"); got != RedactedValue {
		t.Fatalf("unparseable url should be masked, got %s", got)
	}
	if got := MaskURL("http://localhost:9000/hook"); got != "http://localhost:9000/hook" {
		t.Fatalf("unexpected %s", got)
	}
}
