package core

import "time"

// httpDateLayouts are the three date formats RFC 7231 §7.1.1.1 requires a
// recipient to accept: IMF-fixdate (preferred, generated form), obsolete
// RFC 850, and asctime. No pack or teacher library parses this wire format
// — it is small, fixed, and has no protocol surface beyond time.Parse, so
// it stays on the standard library (see DESIGN.md).
var httpDateLayouts = []string{
	time.RFC1123,                   // IMF-fixdate, e.g. "Mon, 02 Jan 2006 15:04:05 GMT"
	"Monday, 02-Jan-06 15:04:05 MST", // RFC 850
	"Mon Jan _2 15:04:05 2006",       // asctime
}

// parseHTTPDate parses an HTTP-date field value into a Unix timestamp. It
// returns ok=false for anything that doesn't match one of the three
// accepted wire formats, leaving the field's cooked value untouched.
func parseHTTPDate(value []byte) (int64, bool) {
	s := string(trimSpace(value))
	for _, layout := range httpDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Unix(), true
		}
	}
	return 0, false
}

// formatHTTPDate renders secs as an IMF-fixdate string, the form every
// generated Date/Expires/Last-Modified header must use per RFC 7231.
func formatHTTPDate(secs int64) string {
	return time.Unix(secs, 0).UTC().Format("Mon, 02 Jan 2006 15:04:05 GMT")
}
