package model

import (
	"fmt"
	"strings"
)

// Role is the effective access level a caller holds on a document.
// Every switch over Role must list all four values.
type Role int

const (
	RoleNone Role = iota
	RoleViewer
	RoleEditor
	RoleOwner
)

func (r Role) String() string {
	switch r {
	case RoleNone:
		return "none"
	case RoleViewer:
		return "viewer"
	case RoleEditor:
		return "editor"
	case RoleOwner:
		return "owner"
	}
	return fmt.Sprintf("role(%d)", int(r))
}

func (r Role) CanRead() bool {
	switch r {
	case RoleOwner, RoleEditor, RoleViewer:
		return true
	case RoleNone:
		return false
	}
	return false
}

func (r Role) CanWrite() bool {
	switch r {
	case RoleOwner, RoleEditor:
		return true
	case RoleViewer, RoleNone:
		return false
	}
	return false
}

// CanIssue reports whether a holder of r may hand out a token carrying p.
func (r Role) CanIssue(p SharePermission) bool {
	switch r {
	case RoleOwner, RoleEditor:
		return p == SharePermissionView || p == SharePermissionEdit
	case RoleViewer:
		return p == SharePermissionView
	case RoleNone:
		return false
	}
	return false
}

func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *Role) UnmarshalText(data []byte) error {
	parsed, err := ParseRole(string(data))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

func ParseRole(value string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "none":
		return RoleNone, nil
	case "viewer":
		return RoleViewer, nil
	case "editor":
		return RoleEditor, nil
	case "owner":
		return RoleOwner, nil
	}
	return RoleNone, fmt.Errorf("unknown role %q", value)
}

type SharePermission string

const (
	SharePermissionView SharePermission = "view"
	SharePermissionEdit SharePermission = "edit"
)

func ParseSharePermission(value string) (SharePermission, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "view":
		return SharePermissionView, nil
	case "edit":
		return SharePermissionEdit, nil
	}
	return "", fmt.Errorf("unknown share permission %q", value)
}

// Role is the ceiling a token with this permission grants.
func (p SharePermission) Role() Role {
	switch p {
	case SharePermissionEdit:
		return RoleEditor
	case SharePermissionView:
		return RoleViewer
	}
	return RoleNone
}
