package ftp

import (
	"strconv"
	"strings"
	"time"
)

var unixMonths = map[string]time.Month{
	"Jan": time.January, "Feb": time.February, "Mar": time.March,
	"Apr": time.April, "May": time.May, "Jun": time.June,
	"Jul": time.July, "Aug": time.August, "Sep": time.September,
	"Oct": time.October, "Nov": time.November, "Dec": time.December,
}

// parseUnixModTime parses the three date fields ls -l emits: either
// "Mon DD HH:MM" (no year given; resolved to the current year, or the
// previous year if that would place the date in the future) or
// "Mon DD YYYY" (an explicit year, at 00:00). now is injected so the
// current-vs-previous-year inference is deterministic in tests.
func parseUnixModTime(month, day, rest string, now time.Time) (time.Time, bool) {
	mon, ok := unixMonths[month]
	if !ok {
		return time.Time{}, false
	}
	d, err := strconv.Atoi(day)
	if err != nil || d < 1 || d > 31 {
		return time.Time{}, false
	}

	if year, err := strconv.Atoi(rest); err == nil && len(rest) == 4 {
		return time.Date(year, mon, d, 0, 0, 0, 0, time.UTC), true
	}

	hh, mm, ok := strings.Cut(rest, ":")
	if !ok {
		return time.Time{}, false
	}
	hour, err := strconv.Atoi(hh)
	if err != nil {
		return time.Time{}, false
	}
	minute, err := strconv.Atoi(mm)
	if err != nil {
		return time.Time{}, false
	}

	t := time.Date(now.Year(), mon, d, hour, minute, 0, 0, time.UTC)
	if t.After(now.Add(24 * time.Hour)) {
		t = time.Date(now.Year()-1, mon, d, hour, minute, 0, 0, time.UTC)
	}
	return t, true
}

// unixParser parses the traditional `ls -l`-style LIST output: both the
// 9-field (with group) and 8-field (no group) layouts, and both symbolic
// and numeric permission strings.
type unixParser struct{}

func (p *unixParser) Parse(line string) (*DirectoryEntry, bool) {
	fields := strings.Fields(line)
	if len(fields) < 8 {
		return nil, false
	}

	entry := &DirectoryEntry{Format: FormatUnix, Raw: line}
	if parseUnixFields(entry, fields) {
		return entry, true
	}
	return nil, false
}

func parseUnixFields(entry *DirectoryEntry, fields []string) bool {
	perms := fields[0]

	isSymbolic := len(perms) >= 1 && strings.ContainsRune("-dlbcps", rune(perms[0]))

	isNumeric := len(perms) >= 3 && len(perms) <= 4
	for _, ch := range perms {
		if ch < '0' || ch > '7' {
			isNumeric = false
			break
		}
	}

	if !isSymbolic && !isNumeric {
		return false
	}

	switch {
	case isSymbolic && perms[0] == 'd':
		entry.Kind = KindDir
	case isSymbolic && perms[0] == 'l':
		entry.Kind = KindSymlink
	default:
		entry.Kind = KindFile
	}

	var sizeIdx, nameStartIdx int
	switch {
	case len(fields) >= 9:
		if _, err := parseSize(fields[4]); err == nil {
			sizeIdx, nameStartIdx = 4, 8
		} else if _, err := parseSize(fields[3]); err == nil {
			sizeIdx, nameStartIdx = 3, 7
		} else {
			return false
		}
	case len(fields) >= 8:
		if _, err := parseSize(fields[3]); err != nil {
			return false
		}
		sizeIdx, nameStartIdx = 3, 7
	default:
		return false
	}

	size, err := parseSize(fields[sizeIdx])
	if err != nil {
		return false
	}
	entry.Size = &size

	month, day, rest := fields[nameStartIdx-3], fields[nameStartIdx-2], fields[nameStartIdx-1]
	if t, ok := parseUnixModTime(month, day, rest, time.Now()); ok {
		entry.ModifiedAt = &t
	}

	fullName := strings.Join(fields[nameStartIdx:], " ")

	if entry.Kind == KindSymlink {
		if before, after, ok := strings.Cut(fullName, " -> "); ok {
			entry.Name = before
			entry.LinkTarget = after
		} else {
			entry.Name = fullName
		}
	} else {
		entry.Name = fullName
	}

	return true
}
