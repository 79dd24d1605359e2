package testutils

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

// recordingT captures assertion failures instead of failing the test.
type recordingT struct {
	errors []string
}

func (r *recordingT) Errorf(format string, args ...interface{}) {
	r.errors = append(r.errors, fmt.Sprintf(format, args...))
}

func TestJSONAsserter_Defaults(t *testing.T) {
	opts := NewJSONAsserter(t).GetOptions()
	assert.True(t, opts.IgnoreExtraKeys)
	assert.True(t, opts.AllowPresencePlaceholder)
	assert.Empty(t, opts.IgnoredFields)
}

func TestJSONAsserter_Assert(t *testing.T) {
	tests := []struct {
		name     string
		opts     []JSONOption
		actual   string
		expected string
		fails    bool
	}{
		{
			name:     "equal documents",
			actual:   `{"address":"aa","rssi":-60}`,
			expected: `{"rssi":-60,"address":"aa"}`,
		},
		{
			name:     "extra keys ignored",
			actual:   `{"address":"aa","rssi":-60}`,
			expected: `{"address":"aa"}`,
		},
		{
			name:     "extra keys reported when strict",
			opts:     []JSONOption{WithIgnoreExtraKeys(false)},
			actual:   `{"address":"aa","rssi":-60}`,
			expected: `{"address":"aa"}`,
			fails:    true,
		},
		{
			name:     "placeholder matches any value",
			actual:   `{"event":"frame_received","timestamp":"2024-01-01T00:00:00Z"}`,
			expected: `{"event":"frame_received","timestamp":"<<PRESENCE>>"}`,
		},
		{
			name:     "placeholder requires the key",
			actual:   `{"event":"frame_received"}`,
			expected: `{"event":"frame_received","timestamp":"<<PRESENCE>>"}`,
			fails:    true,
		},
		{
			name:     "ignored fields",
			opts:     []JSONOption{WithIgnoredFields("rssi")},
			actual:   `{"address":"aa","rssi":-60}`,
			expected: `{"address":"aa","rssi":-70}`,
		},
		{
			name:     "value mismatch",
			actual:   `{"interval":100}`,
			expected: `{"interval":160}`,
			fails:    true,
		},
		{
			name:     "root arrays",
			actual:   `[{"a":1},{"a":2}]`,
			expected: `[{"a":1},{"a":2}]`,
		},
		{
			name:     "invalid actual",
			actual:   `{`,
			expected: `{}`,
			fails:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recordingT{}
			NewJSONAsserter(rec).WithOptions(tt.opts...).Assert(tt.actual, tt.expected)
			if tt.fails {
				assert.NotEmpty(t, rec.errors)
			} else {
				assert.Empty(t, rec.errors)
			}
		})
	}
}

func TestJSONAsserter_AssertLines(t *testing.T) {
	out := "{\"event\":\"scan_started\"}\n{\"event\":\"scan_ended\"}\n"

	rec := &recordingT{}
	NewJSONAsserter(rec).AssertLines(out, `{"event":"scan_started"}`, `{"event":"scan_ended"}`)
	assert.Empty(t, rec.errors)

	rec = &recordingT{}
	NewJSONAsserter(rec).AssertLines(out, `{"event":"scan_started"}`)
	assert.Len(t, rec.errors, 1)

	rec = &recordingT{}
	NewJSONAsserter(rec).AssertLines(out, `{"event":"scan_started"}`, `{"event":"scan_failed"}`)
	assert.Len(t, rec.errors, 1)
	assert.Contains(t, rec.errors[0], "line 2")
}

func TestTextAsserter_Defaults(t *testing.T) {
	opts := NewTextAsserter(t).GetOptions()
	assert.True(t, opts.TrimSpace)
	assert.True(t, opts.IgnoreTrailingWhitespace)
	assert.False(t, opts.EnableColors)
}

func TestTextAsserter_Assert(t *testing.T) {
	rec := &recordingT{}
	NewTextAsserter(rec).Assert("\nNAME  ADDRESS   \nRFdroid  aa\n\n", "NAME  ADDRESS\nRFdroid  aa")
	assert.Empty(t, rec.errors)

	rec = &recordingT{}
	NewTextAsserter(rec).WithOptions(WithIgnoreTrailingWhitespace(false)).Assert("a \nb", "a\nb")
	assert.Len(t, rec.errors, 1)

	rec = &recordingT{}
	NewTextAsserter(rec).Assert("RFdroid  -60", "RFdroid  -70")
	if assert.Len(t, rec.errors, 1) {
		assert.Contains(t, rec.errors[0], "-RFdroid  -70")
		assert.Contains(t, rec.errors[0], "+RFdroid  -60")
	}
}

func TestTextAsserter_ColoredDiff(t *testing.T) {
	rec := &recordingT{}
	NewTextAsserter(rec).WithOptions(WithEnableColors(true)).Assert("a b", "a c")
	if assert.Len(t, rec.errors, 1) {
		assert.Contains(t, rec.errors[0], "a·c", "whitespace made visible")
		assert.Contains(t, rec.errors[0], "\x1b[", "ANSI colors present")
	}
}
