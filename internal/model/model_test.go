package model

import (
	"errors"
	"testing"
)

func TestParseRole(t *testing.T) {
	for _, value := range []string{"student", "admin", "center_incubator", "center_cati", "center_cde"} {
		role, err := ParseRole(value)
		if err != nil {
			t.Fatalf("ParseRole(%q) error: %v", value, err)
		}
		if string(role) != value {
			t.Fatalf("ParseRole(%q) = %q", value, role)
		}
	}
	for _, value := range []string{"", "teacher", "Student", "center"} {
		if _, err := ParseRole(value); !errors.Is(err, ErrInvalidRole) {
			t.Fatalf("ParseRole(%q) expected ErrInvalidRole, got %v", value, err)
		}
	}
}

func TestRoleCenter(t *testing.T) {
	cases := map[Role]Center{
		RoleCenterIncubator: CenterIncubator,
		RoleCenterCati:      CenterCati,
		RoleCenterCde:       CenterCde,
	}
	for role, want := range cases {
		center, ok := role.Center()
		if !ok || center != want {
			t.Fatalf("%s.Center() = %q, %v", role, center, ok)
		}
	}
	for _, role := range []Role{RoleStudent, RoleAdmin, Role("")} {
		if _, ok := role.Center(); ok {
			t.Fatalf("%s.Center() should not resolve", role)
		}
	}
}

func TestParseCenter(t *testing.T) {
	for _, value := range []string{"incubator", "cati", "cde"} {
		if _, err := ParseCenter(value); err != nil {
			t.Fatalf("ParseCenter(%q) error: %v", value, err)
		}
	}
	if _, err := ParseCenter("lab"); !errors.Is(err, ErrInvalidCenter) {
		t.Fatalf("expected ErrInvalidCenter, got %v", err)
	}
}

func TestParseStatus(t *testing.T) {
	for _, value := range []string{"saved", "sent", "in_progress", "assigned", "rejected"} {
		if _, err := ParseStatus(value); err != nil {
			t.Fatalf("ParseStatus(%q) error: %v", value, err)
		}
	}
	for _, value := range []string{"", "draft", "SENT"} {
		if _, err := ParseStatus(value); !errors.Is(err, ErrInvalidStatus) {
			t.Fatalf("ParseStatus(%q) expected ErrInvalidStatus, got %v", value, err)
		}
	}
}

func TestStatusTerminal(t *testing.T) {
	for status, want := range map[Status]bool{
		StatusSaved:      false,
		StatusSent:       false,
		StatusInProgress: false,
		StatusAssigned:   true,
		StatusRejected:   true,
	} {
		if status.Terminal() != want {
			t.Fatalf("%s.Terminal() = %v, want %v", status, !want, want)
		}
	}
}
