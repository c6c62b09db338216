// Package guard switches the process into test mode when imported by a test
// binary. Blank-import it from tests that construct app wiring.
package guard

import (
	"os"
	"sync"
)

// EnvTestMode is the variable app.InTestMode reads.
const EnvTestMode = "AGENDA_TEST_MODE"

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv(EnvTestMode) == "" {
			_ = os.Setenv(EnvTestMode, "1")
		}
	})
}
