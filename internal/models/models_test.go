package models

import (
	"reflect"
	"strings"
	"testing"
)

// gormTag extracts the gorm tag from a struct field.
func gormTag(t *testing.T, typ reflect.Type, fieldName string) string {
	t.Helper()
	f, ok := typ.FieldByName(fieldName)
	if !ok {
		t.Fatalf("%s.%s: field not found", typ.Name(), fieldName)
	}
	return f.Tag.Get("gorm")
}

// assertGormTag checks that a struct field's gorm tag contains the expected value.
func assertGormTag(t *testing.T, typ reflect.Type, fieldName, expected string) {
	t.Helper()
	tag := gormTag(t, typ, fieldName)
	if !strings.Contains(tag, expected) {
		t.Errorf("%s.%s gorm tag = %q, want to contain %q", typ.Name(), fieldName, tag, expected)
	}
}

// assertFieldType checks that a struct field has the expected Go type.
func assertFieldType(t *testing.T, typ reflect.Type, fieldName, expectedType string) {
	t.Helper()
	f, ok := typ.FieldByName(fieldName)
	if !ok {
		t.Fatalf("%s.%s: field not found", typ.Name(), fieldName)
	}
	got := f.Type.String()
	if got != expectedType {
		t.Errorf("%s.%s type = %q, want %q", typ.Name(), fieldName, got, expectedType)
	}
}

func TestUserIdentity_Fields(t *testing.T) {
	typ := reflect.TypeOf(UserIdentity{})

	assertGormTag(t, typ, "UserID", "primaryKey")
	assertGormTag(t, typ, "UserID", "size:64")
	assertGormTag(t, typ, "Nickname", "size:20")
	assertFieldType(t, typ, "Nickname", "*string")
	assertFieldType(t, typ, "AssignedAt", "*time.Time")
	assertGormTag(t, typ, "AssignedAt", "column:created_at")
	assertFieldType(t, typ, "UpdatedAt", "time.Time")
}

func TestCounter_Fields(t *testing.T) {
	typ := reflect.TypeOf(Counter{})

	assertGormTag(t, typ, "ID", "primaryKey")
	assertGormTag(t, typ, "TotalMessages", "not null")
	assertGormTag(t, typ, "TotalUsers", "default:0")
	assertFieldType(t, typ, "TotalMessages", "int64")
	assertFieldType(t, typ, "TotalUsers", "int64")
}

func TestConversationSession_Fields(t *testing.T) {
	typ := reflect.TypeOf(ConversationSession{})

	assertGormTag(t, typ, "UserID", "primaryKey")
	assertGormTag(t, typ, "State", "not null")
	assertGormTag(t, typ, "UpdatedAt", "index")
	assertFieldType(t, typ, "State", "string")
}
