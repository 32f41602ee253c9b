package testing

import (
	"os"
	"sync"
	stdtesting "testing"
)

var once sync.Once

func ensureTestMode() {
	once.Do(func() {
		_ = os.Setenv("COSTING_TEST_MODE", "1")
		if os.Getenv("COSTING_TIMEZONE") == "" {
			_ = os.Setenv("COSTING_TIMEZONE", "UTC")
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
