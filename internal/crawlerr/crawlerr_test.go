package crawlerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapPreservesCauseAndKind(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(NavigationTimeout, "goto failed", cause)

	assert.True(t, Is(err, NavigationTimeout))
	assert.False(t, Is(err, AuthMissing))
	assert.ErrorIs(t, err, cause)

	kind, ok := KindOf(err)
	assert.True(t, ok)
	assert.Equal(t, NavigationTimeout, kind)
}

func TestKindOfUnknownErrorIsFalse(t *testing.T) {
	_, ok := KindOf(errors.New("plain error"))
	assert.False(t, ok)
}

func TestExitCodeForMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"plain error", errors.New("x"), ExitProcessError},
		{"auth missing", New(AuthMissing, "no auth.json"), ExitAuthError},
		{"auth not confirmed", New(AuthNotConfirmed, "redirect never happened"), ExitAuthError},
		{"user abort", New(UserAbort, "ctx canceled"), ExitSuccess},
		{"block count mismatch", New(BlockCountMismatch, "3 != 5"), ExitPartialError},
		{"name extraction failed", New(NameExtractionFailed, "no heading"), ExitPartialError},
		{"free ambiguous", New(FreeAmbiguous, "2 matches"), ExitPartialError},
		{"handler error", New(HandlerError, "panic recovered"), ExitProcessError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ExitCodeFor(tc.err))
		})
	}
}

func TestErrorStringIncludesCauseWhenPresent(t *testing.T) {
	withCause := Wrap(HandlerError, "custom handler failed", errors.New("inner"))
	assert.Contains(t, withCause.Error(), "inner")

	withoutCause := New(CollectExists, "collect.json already present")
	assert.NotContains(t, withoutCause.Error(), "<nil>")
}
