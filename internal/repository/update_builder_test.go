package repository

import (
	"strings"
	"testing"
	"time"

	"github.com/soumitrigonella10-ux/soumitri-digital-twin-sub000/internal/model"
)

func TestBuildUserUpdate_OnlySuppliedFields(t *testing.T) {
	query, args := buildUserUpdate(model.UserPatch{
		ID:   "u1",
		Name: model.Some("X"),
	})

	want := `UPDATE users SET name = $2 WHERE id = $1 RETURNING ` + userColumns
	if query != want {
		t.Errorf("query = %q, want %q", query, want)
	}
	if len(args) != 2 || args[0] != "u1" || args[1] != "X" {
		t.Errorf("args = %v, want [u1 X]", args)
	}
}

func TestBuildUserUpdate_AllFieldsInColumnOrder(t *testing.T) {
	verified := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	query, args := buildUserUpdate(model.UserPatch{
		ID:            "u1",
		Name:          model.Some("N"),
		Email:         model.Some("e@example.com"),
		EmailVerified: model.Some(verified),
		Image:         model.Some("https://example.com/i.png"),
	})

	wantSet := `SET name = $2, email = $3, "emailVerified" = $4, image = $5 WHERE id = $1`
	if !strings.Contains(query, wantSet) {
		t.Errorf("query = %q, want to contain %q", query, wantSet)
	}
	if len(args) != 5 {
		t.Fatalf("len(args) = %d, want 5", len(args))
	}
	if got, ok := args[3].(time.Time); !ok || !got.Equal(verified) {
		t.Errorf("args[3] = %v, want %v", args[3], verified)
	}
}

func TestBuildUserUpdate_NullClearsField(t *testing.T) {
	query, args := buildUserUpdate(model.UserPatch{
		ID:    "u1",
		Image: model.Null[string](),
	})

	if !strings.Contains(query, "SET image = $2") {
		t.Errorf("query = %q, want image to be set", query)
	}
	if args[1] != nil {
		t.Errorf("args[1] = %v, want nil", args[1])
	}
}

// TestBuildUserUpdate_EmptyEmailIsNull は空文字のemailがNULLとして渡されることを検証する。
func TestBuildUserUpdate_EmptyEmailIsNull(t *testing.T) {
	for _, email := range []model.Optional[string]{model.Some(""), model.Null[string]()} {
		_, args := buildUserUpdate(model.UserPatch{ID: "u1", Email: email})
		if len(args) != 2 || args[1] != nil {
			t.Errorf("args = %v, want email arg nil", args)
		}
	}
}

func TestBuildUserUpdate_EmptyPatchKeepsSingleStatement(t *testing.T) {
	query, args := buildUserUpdate(model.UserPatch{ID: "u1"})

	want := `UPDATE users SET id = id WHERE id = $1 RETURNING ` + userColumns
	if query != want {
		t.Errorf("query = %q, want %q", query, want)
	}
	if len(args) != 1 {
		t.Errorf("len(args) = %d, want 1", len(args))
	}
}

func TestBuildUserUpdate_ValuesNeverInlined(t *testing.T) {
	hostile := `x'; DROP TABLE users; --`
	query, args := buildUserUpdate(model.UserPatch{
		ID:   "u1",
		Name: model.Some(hostile),
	})

	if strings.Contains(query, hostile) {
		t.Errorf("value was concatenated into SQL: %q", query)
	}
	if args[1] != hostile {
		t.Errorf("args[1] = %v, want bound value", args[1])
	}
}

func TestUpdateBuilder_CustomKeyColumn(t *testing.T) {
	b := newUpdateBuilder("sessions", `"sessionToken"`, "tok")
	b.set("expires", "2026-01-01")
	query, args := b.build(sessionColumns)

	want := `UPDATE sessions SET expires = $2 WHERE "sessionToken" = $1 RETURNING ` + sessionColumns
	if query != want {
		t.Errorf("query = %q, want %q", query, want)
	}
	if len(args) != 2 || args[0] != "tok" {
		t.Errorf("args = %v", args)
	}
}
