package perfclient

import (
	"testing"

	"github.com/sirupsen/logrus"
)

func newTestClient() *Client {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return New(log)
}

func TestInitRequiresTarget(t *testing.T) {
	c := newTestClient()
	if err := c.Init([]string{"-conns:1"}); err == nil {
		t.Fatal("expected error for missing target")
	}
}

func TestInitRejectsUndersizedIoSize(t *testing.T) {
	c := newTestClient()
	err := c.Init([]string{"-target:127.0.0.1", "-iosize:255"})
	if err == nil {
		t.Fatal("expected error for iosize below MinIoSize")
	}
}

func TestInitRejectsRepeatWithoutRuntime(t *testing.T) {
	c := newTestClient()
	err := c.Init([]string{"-target:127.0.0.1", "-rconn:1"})
	if err == nil {
		t.Fatal("expected error for -rconn without -runtime")
	}
}

func TestInitRejectsTCPWithoutEncryption(t *testing.T) {
	c := newTestClient()
	err := c.Init([]string{"-target:127.0.0.1", "-tcp:1", "-encrypt:0"})
	if err == nil {
		t.Fatal("expected error for TCP mode with encryption disabled")
	}
}

func TestInitAcceptsMinimalScenario(t *testing.T) {
	c := newTestClient()
	if err := c.Init([]string{"-target:127.0.0.1", "-conns:4", "-requests:1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.ConnectionCount != 4 || c.StreamCount != 1 {
		t.Fatalf("unexpected scenario: conns=%d streams=%d", c.ConnectionCount, c.StreamCount)
	}
	if c.TargetPort != DefaultPort {
		t.Fatalf("expected default port %d, got %d", DefaultPort, c.TargetPort)
	}
}

func TestInitUploadOrDownloadImpliesOneStream(t *testing.T) {
	c := newTestClient()
	if err := c.Init([]string{"-target:127.0.0.1", "-download:1000"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.StreamCount != 1 {
		t.Fatalf("expected implicit stream count 1, got %d", c.StreamCount)
	}
}

func TestInitParsesRuntimeAsDuration(t *testing.T) {
	c := newTestClient()
	if err := c.Init([]string{"-target:127.0.0.1", "-runtime:5000", "-rconn:1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.RunTime.Seconds() != 5 {
		t.Fatalf("expected 5s runtime, got %s", c.RunTime)
	}
}
