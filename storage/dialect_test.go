package storage

import "testing"

func TestConvertPlaceholders(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"SELECT * FROM t WHERE a = ?", "SELECT * FROM t WHERE a = $1"},
		{"INSERT INTO t VALUES (?, ?, ?)", "INSERT INTO t VALUES ($1, $2, $3)"},
		{"SELECT 1", "SELECT 1"},
	}
	for _, tc := range cases {
		if got := ConvertPlaceholders(tc.in); got != tc.want {
			t.Errorf("ConvertPlaceholders(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestDialectUpsertConflict(t *testing.T) {
	sqlite := &SQLiteDialect{}
	if got := sqlite.UpsertConflict([]string{"org_id", "module_name"}); got != "ON CONFLICT(org_id, module_name) DO UPDATE SET" {
		t.Errorf("unexpected sqlite upsert clause: %q", got)
	}
	pg := &PostgresDialect{}
	if got := pg.UpsertConflict([]string{"name"}); got != "ON CONFLICT (name) DO UPDATE SET" {
		t.Errorf("unexpected postgres upsert clause: %q", got)
	}
	if pg.Placeholder(3) != "$3" || sqlite.Placeholder(3) != "?" {
		t.Error("unexpected placeholder rendering")
	}
}

func TestEnableStateJSON(t *testing.T) {
	data, err := EnableInherit.MarshalJSON()
	if err != nil || string(data) != `"inherit"` {
		t.Fatalf("inherit marshals to %s (%v)", data, err)
	}

	var e EnableState
	if err := e.UnmarshalJSON([]byte(`"disabled"`)); err != nil || e != EnableDisabled {
		t.Fatalf("unmarshal disabled: %q (%v)", e, err)
	}
	if err := e.UnmarshalJSON([]byte(`null`)); err != nil || e != EnableInherit {
		t.Fatalf("unmarshal null: %q (%v)", e, err)
	}
	if err := e.UnmarshalJSON([]byte(`"bogus"`)); err == nil {
		t.Fatal("expected error for bogus state")
	}
}
