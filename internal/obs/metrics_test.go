package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                              "/",
		"/metrics":                      "/metrics",
		"/v1/organizations/abc":         "/v1/organizations/:id",
		"/v1/organizations/abc/groups":  "/v1/organizations/:id/groups",
		"/v1/groups/01HZX":              "/v1/groups/:id",
		"/v1/inheritance-rules/01HZX":   "/v1/inheritance-rules/:id",
		"/v1/audit-logs":                "/v1/audit-logs",
		"/v1/audit-logs?page=2":         "/v1/audit-logs",
		"/v1/resolve":                   "/v1/resolve",
		"/v1/units/u-1":                 "/v1/units/:id",
		"/healthz":                      "/healthz",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
