package wind

import (
	"testing"

	"github.com/cockroachdb/errors"
)

func TestIsTransient(t *testing.T) {
	t.Parallel()

	transient := []error{ErrNotFound, ErrBadStatus, ErrNetwork, ErrFetchTimeout, ErrDecode}
	for _, err := range transient {
		if !IsTransient(err) {
			t.Errorf("IsTransient(%v) = false, want true", err)
		}
	}

	notTransient := []error{ErrSessionTimeout, ErrIncomplete, ErrNoOutput, ErrDeadlinePassed, errors.New("boom")}
	for _, err := range notTransient {
		if IsTransient(err) {
			t.Errorf("IsTransient(%v) = true, want false", err)
		}
	}
}

func TestIsTransientThroughWrappingAndMarking(t *testing.T) {
	t.Parallel()

	wrapped := errors.Wrap(ErrFetchTimeout, "fetch attempt failed")
	if !IsTransient(wrapped) {
		t.Error("IsTransient should see through errors.Wrap")
	}

	marked := errors.Mark(errors.New("read tcp: i/o timeout"), ErrFetchTimeout)
	if !IsTransient(marked) {
		t.Error("IsTransient should see through errors.Mark")
	}
}
