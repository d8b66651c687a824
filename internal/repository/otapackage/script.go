package otapackage

import "bytes"

// UpdaterScript is the edify install script embedded in a package.
// Statements appended through AppendExtra follow the original text, one per line.
type UpdaterScript struct {
	original []byte
	extra    []string
}

func newUpdaterScript(original []byte) *UpdaterScript {
	return &UpdaterScript{original: original}
}

// AppendExtra appends a literal statement.
func (s *UpdaterScript) AppendExtra(statement string) {
	s.extra = append(s.extra, statement)
}

// Appended returns the statements added since the package was opened.
func (s *UpdaterScript) Appended() []string {
	return append([]string(nil), s.extra...)
}

// Modified reports whether anything was appended.
func (s *UpdaterScript) Modified() bool {
	return len(s.extra) > 0
}

// Bytes renders the script text.
func (s *UpdaterScript) Bytes() []byte {
	var buffer bytes.Buffer

	buffer.Write(s.original)

	if len(s.extra) == 0 {
		return buffer.Bytes()
	}

	if len(s.original) > 0 && !bytes.HasSuffix(s.original, []byte("\n")) {
		buffer.WriteByte('\n')
	}

	for _, statement := range s.extra {
		buffer.WriteString(statement)
		buffer.WriteByte('\n')
	}

	return buffer.Bytes()
}
