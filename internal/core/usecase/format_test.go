package usecase

import (
	"fmt"
	"strings"
	"testing"
)

func TestFormatMarkdownTableEmpty(t *testing.T) {
	if got := FormatMarkdownTable(nil, []string{"a"}, 10); got != "No rows returned for this query." {
		t.Fatalf("unexpected empty rendering: %q", got)
	}
}

func TestFormatMarkdownTableRendersRows(t *testing.T) {
	rows := []map[string]string{
		{"name": "Ana", "dept": "hr"},
		{"name": "Bo", "dept": "NULL"},
	}
	got := FormatMarkdownTable(rows, []string{"name", "dept"}, 10)
	want := "| name | dept |\n| --- | --- |\n| Ana | hr |\n| Bo | NULL |"
	if got != want {
		t.Fatalf("expected\n%s\ngot\n%s", want, got)
	}
}

func TestFormatMarkdownTableTruncates(t *testing.T) {
	rows := make([]map[string]string, 0, 13)
	for i := 0; i < 13; i++ {
		rows = append(rows, map[string]string{"n": fmt.Sprint(i)})
	}
	got := FormatMarkdownTable(rows, []string{"n"}, 10)
	if !strings.HasSuffix(got, "\n_3 more rows not shown (limited to 10)._") {
		t.Fatalf("expected truncation footer, got %q", got)
	}
	if strings.Contains(got, "| 10 |") {
		t.Fatalf("expected rows beyond limit to be hidden")
	}
}
