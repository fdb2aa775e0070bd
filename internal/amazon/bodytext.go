package amazon

import (
	"io"
	"regexp"
	"strings"

	"github.com/emersion/go-message/mail"
	"golang.org/x/net/html"
)

// bodyText walks the message parts and returns a best-effort plain-text
// body: the first text/plain part wins, otherwise the last text/html
// part is converted to text. Attachments never contribute. An
// undecodable message yields "".
func bodyText(mr *mail.Reader) string {
	var htmlBody string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Tolerate malformed remaining parts.
			break
		}

		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		mediaType, _, err := h.ContentType()
		if err != nil {
			continue
		}
		body, err := io.ReadAll(part.Body)
		if err != nil {
			continue
		}

		switch {
		case strings.HasPrefix(mediaType, "text/plain"):
			return string(body)
		case strings.HasPrefix(mediaType, "text/html"):
			htmlBody = string(body)
		}
	}

	if htmlBody != "" {
		return htmlToText(htmlBody)
	}
	return ""
}

// htmlToText renders HTML as plain text: script and style content is
// dropped, block tags and <br> become line breaks, entities are decoded.
func htmlToText(src string) string {
	if src == "" {
		return ""
	}

	z := html.NewTokenizer(strings.NewReader(src))
	var b strings.Builder
	skip := 0

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return cleanupText(b.String())
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "script", "style":
				if tt == html.StartTagToken {
					skip++
				}
			case "br", "p", "div", "tr", "li":
				b.WriteByte('\n')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "script", "style":
				if skip > 0 {
					skip--
				}
			case "p", "div", "tr", "li":
				b.WriteByte('\n')
			}
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		}
	}
}

// cleanupText collapses runs of blank lines and trims the result.
func cleanupText(s string) string {
	for strings.Contains(s, "\n\n\n") {
		s = strings.ReplaceAll(s, "\n\n\n", "\n\n")
	}
	return strings.TrimSpace(s)
}

// addressPattern extracts the address part of a "Name <address>" header.
var addressPattern = regexp.MustCompile(`<([^>]+)>`)

// bareAddress reduces a From header value to its lowercased bare
// address, stripping any display name.
func bareAddress(value string) string {
	if m := addressPattern.FindStringSubmatch(value); m != nil {
		value = m[1]
	}
	return strings.ToLower(strings.TrimSpace(value))
}
