// Package parser turns a single syslog line into a tagged Record (C1).
// Four grammars are recognised: RFC3164-ish BSD, a bracket-timestamp
// relay variant, RFC5424 with structured data, and the InControl RFC5424
// export dialect with nested bracket key=value groups.
package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/telhawk-systems/netwall-flow-analyzer/internal/config"
)

// RecordKind classifies a successfully parsed record.
type RecordKind string

const (
	KindConn   RecordKind = "conn"
	KindDevice RecordKind = "device"
	KindOther  RecordKind = "other"
)

// ParseErrorKind enumerates why a line failed to parse.
type ParseErrorKind string

const (
	ErrMalformed     ParseErrorKind = "malformed"
	ErrUnsupportedID ParseErrorKind = "unsupported_id"
	ErrBadTimestamp  ParseErrorKind = "bad_timestamp"
)

// ParseError reports a non-fatal parse failure; the raw line is still
// stored by the caller regardless.
type ParseError struct {
	Kind ParseErrorKind
	Msg  string
}

func (e *ParseError) Error() string { return fmt.Sprintf("%s: %s", e.Kind, e.Msg) }

// Record is the tagged output of parsing one syslog line.
type Record struct {
	DeviceHint string
	ReceivedAt time.Time
	Kind       RecordKind
	KV         map[string]string
	Raw        string
	Oversize   bool
}

const maxLineBytes = 16 * 1024

var (
	bsdPrefixRE = regexp.MustCompile(
		`^(?:<\d+>\s*)?` +
			`(?P<month>[A-Z][a-z]{2})\s+` +
			`(?P<day>\d{1,2})\s+` +
			`(?P<time>\d{2}:\d{2}:\d{2})\s+` +
			`(?P<host>\S+)` +
			`(?:\s+\[[^\]]+\])?\s+` +
			`EFW:\s+[A-Z][A-Z0-9_]*:\s+`)

	bracketPrefixRE = regexp.MustCompile(
		`^(?:<\d+>\s*)?` +
			`\[(?P<year>\d{4})-(?P<month>\d{1,2})-(?P<day>\d{1,2})\s+(?P<time>\d{2}:\d{2}:\d{2})\]\s+` +
			`EFW:\s+[A-Z][A-Z0-9_]*:\s+`)

	rfc5424PrefixRE = regexp.MustCompile(
		`^(?:<\d+>\s*)?` +
			`1\s+` +
			`(?P<timestamp>\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(?:\.\d+)?(?:Z|[+-]\d{2}:\d{2}))\s+` +
			`(?P<host>\S+)\s+` +
			`EFW\s+(?:-\s+){3}` +
			`[A-Z][A-Z0-9_]*:\s+`)

	inControlRE = regexp.MustCompile(
		`(?s)^<\d+>\d\s+` +
			`(?P<timestamp>\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(?:\.\d+)?(?:Z|[+-]\d{2}:\d{2}))\s+` +
			`(?P<host>\S+)\s+` +
			`(?P<app>[A-Z_]+)\s*:\s*` +
			`(?P<msg>.*)$`)

	kvPairRE = regexp.MustCompile(`(?P<key>\w+)=(?:"(?P<qval>[^"]*)"|(?P<uval>\S+))`)

	months = map[string]time.Month{
		"Jan": time.January, "Feb": time.February, "Mar": time.March,
		"Apr": time.April, "May": time.May, "Jun": time.June,
		"Jul": time.July, "Aug": time.August, "Sep": time.September,
		"Oct": time.October, "Nov": time.November, "Dec": time.December,
	}
)

// connIDPrefixes and deviceIDPrefixes classify a record by its leading id
// field (InControl sends numeric ids like 600004/890001; BSD/relay send
// shorter forms like 60/0060, 89/0890).
var (
	connIDPrefixes   = []string{"0060", "60"}
	deviceIDPrefixes = []string{"0890", "89"}
)

// Parser parses individual syslog lines according to the configured year
// inference mode.
type Parser struct {
	yearMode config.YearMode
	now      func() time.Time
}

func New(yearMode config.YearMode) *Parser {
	return &Parser{yearMode: yearMode, now: time.Now}
}

// Parse parses a single already-trimmed syslog line.
func (p *Parser) Parse(line string) (*Record, *ParseError) {
	oversize := false
	if len(line) > maxLineBytes {
		line = line[:maxLineBytes]
		oversize = true
	}

	if rec := p.parseInControl(line); rec != nil {
		rec.Oversize = oversize
		return p.classify(rec)
	}

	ts, device, rest, err := p.parseHeader(line)
	if err != nil {
		return nil, err
	}
	kv := parseKV(rest)
	rec := &Record{DeviceHint: device, ReceivedAt: ts, KV: kv, Raw: line, Oversize: oversize}
	return p.classify(rec)
}

func (p *Parser) classify(rec *Record) (*Record, *ParseError) {
	id := strings.TrimSpace(rec.KV["id"])
	switch {
	case id == "":
		rec.Kind = KindOther
	case hasAnyPrefix(id, connIDPrefixes):
		rec.Kind = KindConn
	case hasAnyPrefix(id, deviceIDPrefixes):
		rec.Kind = KindDevice
	default:
		rec.Kind = KindOther
	}
	return rec, nil
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

func (p *Parser) parseHeader(line string) (time.Time, string, string, *ParseError) {
	if m := rfc5424PrefixRE.FindStringSubmatchIndex(line); m != nil {
		names := rfc5424PrefixRE.SubexpNames()
		groups := submatch(line, m, names)
		ts, err := parseISOTimestamp(groups["timestamp"])
		if err != nil {
			return time.Time{}, "", "", &ParseError{Kind: ErrBadTimestamp, Msg: err.Error()}
		}
		host := groups["host"]
		if host == "" {
			host = "unknown"
		}
		return ts, host, line[m[1]:], nil
	}

	if m := bracketPrefixRE.FindStringSubmatchIndex(line); m != nil {
		names := bracketPrefixRE.SubexpNames()
		groups := submatch(line, m, names)
		year, _ := strconv.Atoi(groups["year"])
		month, _ := strconv.Atoi(groups["month"])
		day, _ := strconv.Atoi(groups["day"])
		ts, err := time.Parse("2006-01-02 15:04:05", fmt.Sprintf("%04d-%02d-%02d %s", year, month, day, groups["time"]))
		if err != nil {
			return time.Time{}, "", "", &ParseError{Kind: ErrBadTimestamp, Msg: err.Error()}
		}
		return ts.UTC(), "unknown", line[m[1]:], nil
	}

	if m := bsdPrefixRE.FindStringSubmatchIndex(line); m != nil {
		names := bsdPrefixRE.SubexpNames()
		groups := submatch(line, m, names)
		month, ok := months[groups["month"]]
		if !ok {
			month = time.January
		}
		day, _ := strconv.Atoi(groups["day"])
		year := p.inferYear(month, day, groups["time"])
		ts, err := time.Parse("2006-01-02 15:04:05", fmt.Sprintf("%04d-%02d-%02d %s", year, int(month), day, groups["time"]))
		if err != nil {
			return time.Time{}, "", "", &ParseError{Kind: ErrBadTimestamp, Msg: err.Error()}
		}
		host := groups["host"]
		if host == "" {
			host = "unknown"
		}
		return ts.UTC(), host, line[m[1]:], nil
	}

	return time.Time{}, "", "", &ParseError{Kind: ErrMalformed, Msg: "no recognised syslog prefix"}
}

// inferYear picks a year so the resulting instant is <= now and
// > now-6 months; when both current and previous year satisfy this,
// current is preferred. --year-mode can pin the choice explicitly.
func (p *Parser) inferYear(month time.Month, day int, clock string) int {
	now := p.now().UTC()
	switch p.yearMode {
	case config.YearModeCurrent:
		return now.Year()
	case config.YearModePrevious:
		return now.Year() - 1
	default:
		candidate := time.Date(now.Year(), month, day, 0, 0, 0, 0, time.UTC)
		if candidate.After(now) {
			return now.Year() - 1
		}
		sixMonthsAgo := now.AddDate(0, -6, 0)
		if candidate.Before(sixMonthsAgo) {
			return now.Year() - 1
		}
		return now.Year()
	}
}

func parseISOTimestamp(s string) (time.Time, error) {
	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05.999999999Z07:00",
	}
	var lastErr error
	for _, layout := range layouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		} else {
			lastErr = err
		}
	}
	return time.Time{}, lastErr
}

func submatch(s string, idx []int, names []string) map[string]string {
	out := make(map[string]string, len(names))
	for i, name := range names {
		if name == "" {
			continue
		}
		start, end := idx[2*i], idx[2*i+1]
		if start < 0 {
			continue
		}
		out[name] = s[start:end]
	}
	return out
}

func parseKV(rest string) map[string]string {
	kv := make(map[string]string)
	for _, m := range kvPairRE.FindAllStringSubmatch(rest, -1) {
		key := m[1]
		var val string
		if m[2] != "" {
			val = m[2]
		} else {
			val = m[3]
		}
		kv[key] = val
	}
	return kv
}

// parseInControl parses the InControl RFC5424 export dialect, returning
// nil if the line doesn't match (so the caller falls through to the
// other grammars).
func (p *Parser) parseInControl(line string) *Record {
	m := inControlRE.FindStringSubmatchIndex(line)
	if m == nil {
		return nil
	}
	names := inControlRE.SubexpNames()
	groups := submatch(line, m, names)
	ts, err := parseISOTimestamp(groups["timestamp"])
	if err != nil {
		return nil
	}
	host := strings.TrimSpace(groups["host"])
	if host == "" {
		host = "unknown"
	}
	kv := parseInControlMessage(groups["msg"])
	normalizeInControlKV(kv)
	return &Record{DeviceHint: host, ReceivedAt: ts, KV: kv, Raw: line}
}

// parseInControlMessage parses "id=... event=... [k=v k=v] [nested [k=v]]"
// style bodies: a flat prefix plus one or more (possibly nested) bracket
// groups, flattened with last-write-wins.
func parseInControlMessage(msg string) map[string]string {
	prefix, rest, found := strings.Cut(msg, "[")
	kv := parseKV(prefix)
	if !found {
		return kv
	}
	for _, part := range extractBracketInnerParts("[" + rest) {
		for k, v := range parseKV(part) {
			kv[k] = v
		}
	}
	return kv
}

// extractBracketInnerParts returns the contents of every matching
// (possibly nested) [ ] group in s, innermost groups included.
func extractBracketInnerParts(s string) []string {
	var parts []string
	i := 0
	for i < len(s) {
		if s[i] == '[' {
			depth := 1
			j := i + 1
			for j < len(s) && depth > 0 {
				switch s[j] {
				case '[':
					depth++
				case ']':
					depth--
				}
				j++
			}
			if depth == 0 {
				inner := s[i+1 : j-1]
				parts = append(parts, inner)
				parts = append(parts, extractBracketInnerParts(inner)...)
			}
			i = j
		} else {
			i++
		}
	}
	return parts
}

func normalizeInControlKV(kv map[string]string) {
	for _, key := range []string{"conn", "action", "event"} {
		if v, ok := kv[key]; ok && v != "" {
			kv[key] = strings.ToLower(strings.TrimSpace(v))
		}
	}
	// InControl reports the connection state through `event=conn_open_*`,
	// `event=conn_close_*` etc. instead of a `conn` field.
	if kv["conn"] == "" {
		switch ev := kv["event"]; {
		case strings.HasPrefix(ev, "conn_open"):
			kv["conn"] = "open"
		case strings.HasPrefix(ev, "conn_close"):
			kv["conn"] = "close"
		case strings.HasPrefix(ev, "conn_block"):
			kv["conn"] = "blocked"
		case strings.HasPrefix(ev, "conn_reject"), strings.HasPrefix(ev, "conn_drop"), strings.HasPrefix(ev, "conn_deny"):
			kv["conn"] = "reject"
		}
	}
	if v, ok := kv["srcuser"]; ok {
		if _, has := kv["srcusername"]; !has {
			kv["srcusername"] = v
		}
	}
}
