package testutil

import "testing"

// Given, When and Then nest subtests so a failing leaf reads as a scenario,
// e.g. "Given_the_server_router/When_the_database_is_down/Then_...".
func Given(t *testing.T, context string, fn func(t *testing.T)) {
	t.Helper()
	step(t, "Given", context, fn)
}

func When(t *testing.T, action string, fn func(t *testing.T)) {
	t.Helper()
	step(t, "When", action, fn)
}

func Then(t *testing.T, outcome string, fn func(t *testing.T)) {
	t.Helper()
	step(t, "Then", outcome, fn)
}

func step(t *testing.T, keyword, desc string, fn func(t *testing.T)) {
	t.Helper()
	t.Run(keyword+" "+desc, fn)
}
