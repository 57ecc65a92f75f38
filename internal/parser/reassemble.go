package parser

// Reassembler glues multi-line syslog datagrams back into single records:
// a line missing any recognised prefix is a continuation of the previous
// record, joined with a single space. Orphaned continuations (no prior
// record) are dropped.
type Reassembler struct {
	current string
	has     bool
}

func NewReassembler() *Reassembler { return &Reassembler{} }

// isRecordStart reports whether line opens a new record under any of the
// four recognised grammars.
func isRecordStart(line string) bool {
	return bsdPrefixRE.MatchString(line) ||
		bracketPrefixRE.MatchString(line) ||
		rfc5424PrefixRE.MatchString(line) ||
		inControlRE.MatchString(line)
}

// Feed appends line to the reassembler, returning a completed record if
// line started a new one (flushing whatever had been accumulating).
func (r *Reassembler) Feed(line string) (string, bool) {
	if isRecordStart(line) {
		var out string
		var ok bool
		if r.has {
			out, ok = r.current, true
		}
		r.current, r.has = trimRight(line), true
		return out, ok
	}
	if r.has {
		r.current += " " + trimRight(line)
	}
	return "", false
}

// Flush returns and clears any in-progress record at end of input.
func (r *Reassembler) Flush() (string, bool) {
	if !r.has {
		return "", false
	}
	out := r.current
	r.current, r.has = "", false
	return out, true
}

func trimRight(s string) string {
	i := len(s)
	for i > 0 && (s[i-1] == '\r' || s[i-1] == '\n' || s[i-1] == ' ' || s[i-1] == '\t') {
		i--
	}
	j := 0
	for j < i && (s[j] == ' ' || s[j] == '\t') {
		j++
	}
	return s[j:i]
}
