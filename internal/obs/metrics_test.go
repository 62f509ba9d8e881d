package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                            "/",
		"/metrics":                    "/metrics",
		"/v1/requests":                "/v1/requests",
		"/v1/requests/abc":            "/v1/requests/:id",
		"/v1/requests/abc/approve":    "/v1/requests/:id/approve",
		"/v1/requests/abc/timeline":   "/v1/requests/:id/timeline",
		"/v1/requests/abc/x/y":        "/v1/requests/abc/x/y",
		"/v1/workload":                "/v1/workload",
		"/v1/requests?status=pending": "/v1/requests",
		"/v1/requests/abc?limit=10":   "/v1/requests/:id",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
