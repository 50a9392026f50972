package obs

import "testing"

func TestDescribeSQL(t *testing.T) {
	cases := []struct {
		sql   string
		op    string
		table string
	}{
		{"SELECT id, code FROM vouchers WHERE code = $1", "SELECT", "vouchers"},
		{"select count(*)\n  from orders o join order_items i on i.order_id = o.id", "SELECT", "orders"},
		{"INSERT INTO audit_logs (actor_id, action) VALUES ($1, $2)", "INSERT", "audit_logs"},
		{"UPDATE vouchers SET usage_count = usage_count + 1 WHERE id = $1", "UPDATE", "vouchers"},
		{"DELETE FROM queue_dlq WHERE id = $1", "DELETE", "queue_dlq"},
		{"SELECT * FROM (SELECT 1) s", "SELECT", ""},
		{"WITH paid AS (SELECT 1) SELECT * FROM paid", "WITH", ""},
		{"BEGIN", "BEGIN", ""},
		{"   ", "QUERY", ""},
	}
	for _, tc := range cases {
		op, table := describeSQL(tc.sql)
		if op != tc.op || table != tc.table {
			t.Errorf("describeSQL(%q) = %q, %q; want %q, %q", tc.sql, op, table, tc.op, tc.table)
		}
	}
}

func TestTruncateSQLCollapsesWhitespace(t *testing.T) {
	if got := truncateSQL("SELECT 1\n\t FROM  branches"); got != "SELECT 1 FROM branches" {
		t.Fatalf("unexpected statement %q", got)
	}
	long := make([]byte, maxStatementAttr+50)
	for i := range long {
		long[i] = 'x'
	}
	if got := truncateSQL(string(long)); len(got) != maxStatementAttr+3 {
		t.Fatalf("expected truncated statement, got %d chars", len(got))
	}
}
