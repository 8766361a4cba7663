package securelog

import (
	"bytes"
	"errors"
	"fmt"
	"log"
	"strings"
	"testing"
)

func capture(t *testing.T, fn func()) string {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Writer()
	log.SetOutput(&buf)
	defer log.SetOutput(prev)
	fn()
	return buf.String()
}

func TestErrorOmitsMessageText(t *testing.T) {
	secret := errors.New("password=hunter2 for a@x.com")
	out := capture(t, func() { Error("login", secret) })

	if strings.Contains(out, "hunter2") || strings.Contains(out, "a@x.com") {
		t.Errorf("log leaked error text: %q", out)
	}
	if !strings.Contains(out, "op=login") {
		t.Errorf("log missing operation: %q", out)
	}
	if !strings.Contains(out, "*errors.errorString") {
		t.Errorf("log missing error type: %q", out)
	}
}

func TestErrorTypeChain(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", errors.New("inner"))
	out := capture(t, func() { Error("op", wrapped) })

	if !strings.Contains(out, "*fmt.wrapError") || !strings.Contains(out, "*errors.errorString") {
		t.Errorf("log missing wrapped types: %q", out)
	}
}

func TestErrorNilIsNoop(t *testing.T) {
	out := capture(t, func() { Error("op", nil) })
	if out != "" {
		t.Errorf("Error(nil) logged %q, want nothing", out)
	}
}

func TestInfo(t *testing.T) {
	out := capture(t, func() { Info("server", "listening") })
	if !strings.Contains(out, "server: listening") {
		t.Errorf("Info output = %q", out)
	}
}
