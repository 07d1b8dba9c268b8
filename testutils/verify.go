// Package testutils holds helpers shared by package tests.
package testutils

import (
	"go.uber.org/goleak"
)

// VerifyTestMain runs the package's tests and fails if any goroutine is left
// running afterwards.
func VerifyTestMain(m goleak.TestingM) {
	goleak.VerifyTestMain(m)
}
