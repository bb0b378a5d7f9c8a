// ABOUTME: Tests for reply sanitization and markdown flattening
// ABOUTME: Covers citation stripping, inline markup, lists, links, and pass-through

package replyfmt

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClean_PlainTextPassesThrough(t *testing.T) {
	assert.Equal(t, "Hello, how can I help?", Clean("Hello, how can I help?"))
}

func TestClean_TrimsWhitespace(t *testing.T) {
	assert.Equal(t, "Hello", Clean("  \nHello\n\n"))
}

func TestClean_StripsCitationMarkers(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "bracket citations",
			in:   "Your order ships Monday【4:2†source】.",
			want: "Your order ships Monday.",
		},
		{
			name: "numeric footnotes",
			in:   "See our refund policy[1] for details[2, 3].",
			want: "See our refund policy for details.",
		},
		{
			name: "markdown link survives footnote stripping",
			in:   "Check [the docs](https://example.com/docs)[1].",
			want: "Check the docs (https://example.com/docs).",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Clean(tt.in))
		})
	}
}

func TestClean_FlattensEmphasis(t *testing.T) {
	assert.Equal(t, "This is very important and urgent.",
		Clean("This is **very important** and *urgent*."))
}

func TestClean_Headings(t *testing.T) {
	assert.Equal(t, "Refund steps\n\nStart with your order number.",
		Clean("## Refund steps\n\nStart with your order number."))
}

func TestClean_Lists(t *testing.T) {
	got := Clean("To reset your password:\n\n1. Open settings\n2. Click **Security**\n3. Choose reset")
	assert.Equal(t, "To reset your password:\n\n- Open settings\n- Click Security\n- Choose reset", got)
}

func TestClean_CodeSpanKeptVerbatim(t *testing.T) {
	assert.Equal(t, "Run deskbridge serve to start.", Clean("Run `deskbridge serve` to start."))
}

func TestClean_LinkWithBareURL(t *testing.T) {
	// Label identical to the destination: don't repeat the URL
	assert.Equal(t, "https://example.com", Clean("[https://example.com](https://example.com)"))
}

func TestClean_EmptyAndNonText(t *testing.T) {
	assert.Equal(t, "", Clean(""))
	assert.Equal(t, "", Clean("   \n\t"))
}

func TestClean_CollapsesExcessBlankLines(t *testing.T) {
	got := Clean("first\n\n\n\nsecond")
	assert.Equal(t, "first\n\nsecond", got)
}
