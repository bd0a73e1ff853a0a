package server

import "net/http"

// canonicalHost redirects requests addressed to any host other than
// canonical, port included, to the same URI on https://canonical.
// An empty canonical disables the redirect.
func canonicalHost(canonical string, next http.Handler) http.Handler {
	if canonical == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if redirect(canonical, w, r) {
			return
		}
		next.ServeHTTP(w, r)
	})
}

// redirect writes a 301 to the canonical host and reports whether it did.
func redirect(canonical string, w http.ResponseWriter, r *http.Request) bool {
	if canonical == "" || r.Host == canonical {
		return false
	}
	u := *r.URL
	u.Scheme = "https"
	u.Host = canonical
	http.Redirect(w, r, u.String(), http.StatusMovedPermanently)
	return true
}
