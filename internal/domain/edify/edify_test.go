package edify

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestQuote(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"updater.sh":     `"updater.sh"`,
		`say "hi"`:       `"say \"hi\""`,
		`C:\tmp`:         `"C:\\tmp"`,
		"line\nbreak\tx": `"line\nbreak\tx"`,
		"":               `""`,
	}

	for in, want := range cases {
		require.Equal(t, want, Quote(in), "input %q", in)
	}
}

func TestStatements(t *testing.T) {
	t.Parallel()

	require.Equal(t,
		`package_extract_file("updater.sh", "/tmp/updater.sh");`,
		PackageExtractFile("updater.sh", "/tmp/updater.sh"),
	)
	require.Equal(t,
		`run_program("/sbin/sh", "/tmp/updater.sh");`,
		RunProgram("/sbin/sh", "/tmp/updater.sh"),
	)
	require.Equal(t, `run_program("/sbin/reboot");`, RunProgram("/sbin/reboot"))
	require.Equal(t, `ui_print();`, Call("ui_print"))
}
