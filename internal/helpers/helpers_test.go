package helpers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripLeadingNewline(t *testing.T) {
	assert.Equal(t, "foo\n", StripLeadingNewline("\nfoo\n"))
	assert.Equal(t, "foo", StripLeadingNewline("foo"))
	assert.Equal(t, "\nfoo", StripLeadingNewline("\n\nfoo"))
	assert.Equal(t, "", StripLeadingNewline(""))
}

func TestDedent(t *testing.T) {
	in := "    first:\n      second: true\n"
	assert.Equal(t, "first:\n  second: true\n", Dedent(in))
}

func TestDedentBlankLines(t *testing.T) {
	in := "    one\n\n    two\n"
	assert.Equal(t, "one\n\ntwo\n", Dedent(in))
}

func TestDedentShortWhitespaceLine(t *testing.T) {
	in := "        one\n  \n        two"
	assert.Equal(t, "one\n\ntwo", Dedent(in))
}

func TestDedentNoMargin(t *testing.T) {
	in := "one\n    two\n"
	assert.Equal(t, in, Dedent(in))
}

func TestSanitizeName(t *testing.T) {
	assert.Equal(t, "test_policy_apply_single_file", SanitizeName("TestPolicyApply/single file"))
	assert.Equal(t, "test_group_3", SanitizeName("TestGroup#3"))
}
