package amazon

import (
	"bytes"
	"strings"
	"testing"

	"github.com/emersion/go-message/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testReader(t *testing.T, raw []byte) *mail.Reader {
	t.Helper()
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	require.NoError(t, err)
	return mr
}

func TestBodyTextPrefersPlainPart(t *testing.T) {
	raw := rawAlternativeEmail(
		"order-update@amazon.de",
		"Testnachricht",
		"<p>Nur HTML.</p>",
		"Nur Text.",
	)

	got := bodyText(testReader(t, raw))

	assert.Equal(t, "Nur Text.", strings.TrimSpace(got))
}

func TestBodyTextConvertsHTMLFallback(t *testing.T) {
	raw := rawHTMLEmail(
		"order-update@amazon.de",
		"Testnachricht",
		"<html><body><p>Absatz eins</p><p>Absatz zwei</p></body></html>",
	)

	got := bodyText(testReader(t, raw))

	assert.Equal(t, "Absatz eins\n\nAbsatz zwei", got)
}

func TestBodyTextSkipsAttachments(t *testing.T) {
	msg := strings.Join([]string{
		"From: order-update@amazon.de",
		"To: customer@example.com",
		"Subject: Testnachricht",
		"Date: Sun, 09 Mar 2025 08:00:00 +0000",
		"MIME-Version: 1.0",
		`Content-Type: multipart/mixed; boundary="mixed42"`,
		"",
		"--mixed42",
		"Content-Type: application/pdf",
		`Content-Disposition: attachment; filename="rechnung.pdf"`,
		"",
		"%PDF-1.4 fake",
		"--mixed42",
		"Content-Type: text/plain; charset=UTF-8",
		"",
		"Textteil.",
		"--mixed42--",
	}, "\r\n")

	got := bodyText(testReader(t, []byte(msg)))

	assert.Equal(t, "Textteil.", strings.TrimSpace(got))
}

func TestHTMLToText(t *testing.T) {
	assert.Equal(t, "Fish & Chips", htmlToText("<p>Fish &amp; Chips</p>"))
	assert.Equal(t, "Line one\nLine two", htmlToText("Line one<br>Line two"))
	assert.Equal(t, "Before\n\nAfter",
		htmlToText(`<p>Before</p><script>var hidden = 1;</script><p>After</p>`))
	assert.Equal(t, "Visible",
		htmlToText(`<style>body{color:red}</style><div>Visible</div>`))
	assert.Empty(t, htmlToText(""))
}

func TestCleanupText(t *testing.T) {
	assert.Equal(t, "a\n\nb", cleanupText("a\n\n\n\n\nb"))
	assert.Equal(t, "x", cleanupText("  x  \n"))
	assert.Empty(t, cleanupText("\n\n\n"))
}

func TestBareAddress(t *testing.T) {
	assert.Equal(t, "order-update@amazon.de", bareAddress("Amazon.de <Order-Update@Amazon.de>"))
	assert.Equal(t, "order-update@amazon.fr", bareAddress("order-update@amazon.fr"))
	assert.Equal(t, "order-update@amazon.com", bareAddress(" ORDER-UPDATE@AMAZON.COM "))
}
