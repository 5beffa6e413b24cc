package testing

import (
	"os"
	"sync"
	stdtesting "testing"
)

var once sync.Once

// ensureTestMode stops binaries and workers imported by tests from touching
// real infrastructure.
func ensureTestMode() {
	once.Do(func() {
		_ = os.Setenv("OKASH_TEST_MODE", "1")
		if os.Getenv("SESSION_SECRET") == "" {
			_ = os.Setenv("SESSION_SECRET", "test-session-secret")
		}
		if os.Getenv("CSRF_SECRET") == "" {
			_ = os.Setenv("CSRF_SECRET", "test-csrf-secret")
		}
	})
}

func init() {
	ensureTestMode()
}

func TestMain(m *stdtesting.M) {
	ensureTestMode()
	os.Exit(m.Run())
}
