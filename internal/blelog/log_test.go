package blelog

import (
	"os"
	"testing"

	"github.com/op/go-logging"
)

func TestLevelFromEnvDefaultsToInfo(t *testing.T) {
	os.Unsetenv(EnvLogLevel)
	if got := levelFromEnv(); got != logging.INFO {
		t.Fatalf("got %v, want INFO", got)
	}
}

func TestLevelFromEnvHonorsOverride(t *testing.T) {
	defer os.Unsetenv(EnvLogLevel)
	os.Setenv(EnvLogLevel, "DEBUG")
	if got := levelFromEnv(); got != logging.DEBUG {
		t.Fatalf("got %v, want DEBUG", got)
	}
}

func TestNewReturnsUsableLogger(t *testing.T) {
	log := New("blelog_test")
	if log == nil {
		t.Fatal("expected non-nil logger")
	}
	log.Debugf("smoke test line, should not panic")
}
