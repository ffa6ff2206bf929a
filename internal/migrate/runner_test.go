package migrate

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSplitStatements(t *testing.T) {
	input := `
create table a (id text);
insert into a values ('x;y');
create function guard() returns trigger as $$
begin
	raise exception 'append only';
end;
$$ language plpgsql;
`
	stmts := splitStatements(input)
	if len(stmts) != 3 {
		t.Fatalf("statements = %d, want 3:\n%s", len(stmts), strings.Join(stmts, "\n---\n"))
	}
	if !strings.Contains(stmts[1], "'x;y'") {
		t.Errorf("quoted semicolon split: %q", stmts[1])
	}
	if !strings.Contains(stmts[2], "raise exception") || !strings.Contains(stmts[2], "language plpgsql") {
		t.Errorf("dollar-quoted body split: %q", stmts[2])
	}
}

func TestSplitStatementsTrailingWithoutSemicolon(t *testing.T) {
	stmts := splitStatements("select 1")
	if len(stmts) != 1 || strings.TrimSpace(stmts[0]) != "select 1" {
		t.Fatalf("stmts = %v", stmts)
	}
	if got := splitStatements("  \n\t"); len(got) != 0 {
		t.Fatalf("blank input produced %v", got)
	}
}

func TestListSQLOrdersByName(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"0002_second.up.sql", "0001_init.up.sql", "0001_init.down.sql", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("select 1;"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	files, err := listSQL(dir, ".up.sql")
	if err != nil {
		t.Fatalf("listSQL: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("files = %d, want 2", len(files))
	}
	if files[0].name != "0001_init.up.sql" || files[1].name != "0002_second.up.sql" {
		t.Fatalf("order = %s, %s", files[0].name, files[1].name)
	}
}

func TestListSQLMissingDir(t *testing.T) {
	files, err := listSQL(filepath.Join(t.TempDir(), "absent"), ".sql")
	if err != nil || files != nil {
		t.Fatalf("missing dir: files = %v, err = %v", files, err)
	}
	files, err = listSQL("", ".sql")
	if err != nil || files != nil {
		t.Fatalf("empty dir arg: files = %v, err = %v", files, err)
	}
}
