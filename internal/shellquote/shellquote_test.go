package shellquote

import (
	"os/exec"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuote(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", `''`},
		{"plain", `'plain'`},
		{"it's", `'it'\''s'`},
		{"'", `''\'''`},
		{"$HOME `id`", `'$HOME ` + "`id`" + `'`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Quote(tt.in), "Quote(%q)", tt.in)
	}
}

func TestQuoteArg(t *testing.T) {
	assert.Equal(t, "--search", QuoteArg("--search"))
	assert.Equal(t, "/usr/bin/codex", QuoteArg("/usr/bin/codex"))
	assert.Equal(t, "KEY=value", QuoteArg("KEY=value"))
	assert.Equal(t, `''`, QuoteArg(""))
	assert.Equal(t, `'hello world'`, QuoteArg("hello world"))
	assert.Equal(t, `'{prompt}'`, QuoteArg("{prompt}"))
	assert.Equal(t, `'a|b'`, QuoteArg("a|b"))
}

func TestJoin(t *testing.T) {
	assert.Equal(t, `codex --search 'hello world'`, Join([]string{"codex", "--search", "hello world"}))
	assert.Equal(t, "", Join(nil))
}

func TestSplit(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"empty", "", []string{}},
		{"blanks", " \t\n ", []string{}},
		{"simple", "codex --search", []string{"codex", "--search"}},
		{"single quotes", `printf 'it'\''s'`, []string{"printf", "it's"}},
		{"double quotes", `echo "a \"b\" \$c \d"`, []string{"echo", `a "b" $c \d`}},
		{"adjacent", `a'b'"c"d`, []string{"abcd"}},
		{"empty word", `x '' y`, []string{"x", "", "y"}},
		{"escape space", `a\ b c`, []string{"a b", "c"}},
		{"continuation", "a\\\nb", []string{"ab"}},
		{"operators are text", `a | b; $c`, []string{"a", "|", "b;", "$c"}},
		{"placeholder", `codex:{prompt}`, []string{"codex:{prompt}"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Split(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSplit_Errors(t *testing.T) {
	tests := []struct {
		in     string
		reason string
		offset int
	}{
		{`echo 'oops`, "unterminated single quote", 5},
		{`echo "oops`, "unterminated double quote", 5},
		{`echo oops\`, "trailing backslash", 9},
	}
	for _, tt := range tests {
		_, err := Split(tt.in)
		var perr *ParseError
		require.ErrorAs(t, err, &perr, tt.in)
		assert.Equal(t, tt.reason, perr.Reason)
		assert.Equal(t, tt.offset, perr.Offset)
		assert.Contains(t, err.Error(), tt.reason)
	}
}

func TestQuote_RoundTripProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("Split(Quote(s)) == [s]", prop.ForAll(
		func(s string) bool {
			words, err := Split(Quote(s))
			return err == nil && len(words) == 1 && words[0] == s
		},
		gen.AnyString(),
	))

	properties.Property("Split(Join(argv)) == argv", prop.ForAll(
		func(argv []string) bool {
			words, err := Split(Join(argv))
			if err != nil || len(words) != len(argv) {
				return false
			}
			for i := range argv {
				if words[i] != argv[i] {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.AnyString()),
	))

	properties.TestingRun(t)
}

func TestQuote_ShellReparse(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}

	inputs := []string{
		"it's",
		`printf 'it'\''s'`,
		"a\nb",
		"$(rm -rf /) `id` $HOME",
		`back\slash "double" 'single'`,
		"",
	}
	for _, in := range inputs {
		out, err := exec.Command(sh, "-c", "printf '%s' "+Quote(in)).Output()
		require.NoError(t, err, in)
		assert.Equal(t, in, string(out))
	}
}

func TestQuote_ShellReparseProperty(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 25
	properties := gopter.NewProperties(parameters)

	properties.Property("sh re-parses Quote(s) to s", prop.ForAll(
		func(s string) bool {
			out, err := exec.Command(sh, "-c", "printf '%s' "+Quote(s)).Output()
			return err == nil && string(out) == s
		},
		gen.AnyString().SuchThat(func(s string) bool { return !strings.ContainsRune(s, 0) }),
	))

	properties.TestingRun(t)
}

func TestEscapeInsideQuotes(t *testing.T) {
	assert.Equal(t, `it'\''s`, EscapeSingle("it's"))
	assert.Equal(t, "\\$(x) \\`y\\` \\\"z\\\" \\\\ w", EscapeDouble("$(x) `y` \"z\" \\ w"))

	for _, v := range []string{"plain", "it's", "$HOME `id` \"q\" \\", "a\nb"} {
		words, err := Split("'" + EscapeSingle(v) + "' \"" + EscapeDouble(v) + "\"")
		require.NoError(t, err)
		assert.Equal(t, []string{v, v}, words)
	}
}
