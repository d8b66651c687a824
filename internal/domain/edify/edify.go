package edify

import "strings"

//nolint:gochecknoglobals // Read-only replacer shared by every Quote call.
var escaper = strings.NewReplacer(
	`\`, `\\`,
	`"`, `\"`,
	"\n", `\n`,
	"\t", `\t`,
)

// Quote renders s as a double-quoted edify string literal.
func Quote(s string) string {
	return `"` + escaper.Replace(s) + `"`
}

// Call renders a function call statement: name("arg1", "arg2");
func Call(function string, args ...string) string {
	var builder strings.Builder

	builder.WriteString(function)
	builder.WriteByte('(')

	for i, arg := range args {
		if i > 0 {
			builder.WriteString(", ")
		}

		builder.WriteString(Quote(arg))
	}

	builder.WriteString(");")

	return builder.String()
}

// PackageExtractFile extracts a package entry to an absolute path on the device.
func PackageExtractFile(entry, destination string) string {
	return Call("package_extract_file", entry, destination)
}

// RunProgram executes program on the device with the given arguments.
func RunProgram(program string, args ...string) string {
	return Call("run_program", append([]string{program}, args...)...)
}
