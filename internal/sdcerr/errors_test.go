package sdcerr

import (
	"errors"
	"strings"
	"testing"
)

func TestNotFoundError_UnwrapsToSentinel(t *testing.T) {
	err := NewNotFound("flavor", "m1.huge")
	if !errors.Is(err, ErrNotFound) {
		t.Error("expected NotFoundError to unwrap to ErrNotFound")
	}
	var target *NotFoundError
	if !errors.As(err, &target) || target.Kind != "flavor" || target.Name != "m1.huge" {
		t.Errorf("errors.As = %+v", target)
	}
}

func TestUnreachableError_UnwrapsToSentinel(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := NewUnreachable("sdn-controller", "http://sdn:8181", cause)
	if !errors.Is(err, ErrUnreachable) {
		t.Error("expected UnreachableError to unwrap to ErrUnreachable")
	}
	if err.Error() == "" {
		t.Error("expected a non-empty error message")
	}
}

func TestConflictError_DetailOptional(t *testing.T) {
	withDetail := NewConflict("qos-entry", "already bound")
	if withDetail.Error() != "conflict installing qos-entry: already bound" {
		t.Errorf("Error() = %q", withDetail.Error())
	}
	withoutDetail := NewConflict("qos-entry", "")
	if withoutDetail.Error() != "conflict installing qos-entry" {
		t.Errorf("Error() = %q", withoutDetail.Error())
	}
}

func TestVerificationError_UnwrapsToSentinel(t *testing.T) {
	err := NewVerificationFailed("termination-point openflow:40960021:3", 5)
	if !errors.Is(err, ErrVerificationFailed) {
		t.Error("expected VerificationError to unwrap to ErrVerificationFailed")
	}
	var target *VerificationError
	if !errors.As(err, &target) || target.Attempts != 5 {
		t.Errorf("errors.As = %+v", target)
	}
}

func TestUnplaceableError_ListsEveryName(t *testing.T) {
	err := NewUnplaceable([]string{"web", "db"})
	if !errors.Is(err, ErrUnplaceable) {
		t.Error("expected UnplaceableError to unwrap to ErrUnplaceable")
	}
	want := "unplaceable VMs: web, db"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestTeardownError_WrapsCause(t *testing.T) {
	cause := errors.New("delete timed out")
	err := NewPartialTeardown("unbind-port", cause)
	if !errors.Is(err, ErrPartialTeardown) {
		t.Error("expected TeardownError to unwrap to ErrPartialTeardown")
	}
	if err.Cause != cause {
		t.Errorf("Cause = %v, want %v", err.Cause, cause)
	}
}

func TestValidationBuilder_AccumulatesAndBuilds(t *testing.T) {
	v := &ValidationBuilder{}
	v.Add(true, "this should not be recorded").
		Add(false, "node \"web\" missing an image").
		AddErrorf("node %q requests %d cores, max is %d", "db", 64, 32)

	if !v.HasErrors() {
		t.Fatal("expected HasErrors to be true")
	}
	err := v.Build()
	if err == nil {
		t.Fatal("expected Build to return a non-nil error")
	}
	msg := err.Error()
	if !strings.Contains(msg, `node "web" missing an image`) || !strings.Contains(msg, `node "db" requests 64 cores, max is 32`) {
		t.Errorf("Build() = %q, missing expected lines", msg)
	}
}

func TestValidationBuilder_EmptyBuildsNil(t *testing.T) {
	v := &ValidationBuilder{}
	if v.HasErrors() {
		t.Error("expected a fresh builder to have no errors")
	}
	if err := v.Build(); err != nil {
		t.Errorf("Build() = %v, want nil", err)
	}
}
