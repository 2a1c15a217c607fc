package ftp

import (
	"strconv"
	"strings"
	"time"
)

// parseDOSModTime parses the "MM-DD-YY" date and "HH:MMAM"/"HH:MMPM" time
// fields IIS-style listings emit. Two-digit years are resolved the way
// DOS/Windows tooling does: 70-99 -> 1970-1999, 00-69 -> 2000-2069.
func parseDOSModTime(dateField, timeField string) (time.Time, bool) {
	dateParts := strings.FieldsFunc(dateField, func(r rune) bool { return r == '-' || r == '/' })
	if len(dateParts) != 3 {
		return time.Time{}, false
	}
	month, err := strconv.Atoi(dateParts[0])
	if err != nil {
		return time.Time{}, false
	}
	day, err := strconv.Atoi(dateParts[1])
	if err != nil {
		return time.Time{}, false
	}
	year, err := strconv.Atoi(dateParts[2])
	if err != nil {
		return time.Time{}, false
	}
	switch {
	case len(dateParts[2]) == 4:
		// already a full year
	case year >= 70:
		year += 1900
	default:
		year += 2000
	}

	if len(timeField) < 7 {
		return time.Time{}, false
	}
	meridiem := strings.ToUpper(timeField[len(timeField)-2:])
	if meridiem != "AM" && meridiem != "PM" {
		return time.Time{}, false
	}
	hh, mm, ok := strings.Cut(timeField[:len(timeField)-2], ":")
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
	if meridiem == "PM" && hour != 12 {
		hour += 12
	} else if meridiem == "AM" && hour == 12 {
		hour = 0
	}

	return time.Date(year, time.Month(month), day, hour, minute, 0, 0, time.UTC), true
}

// dosParser parses the DOS/Windows-style LIST output IIS and some NAS
// appliances emit, e.g. "12-14-23  12:22PM  1037794 large-document.pdf" or
// "09-24-24  10:30AM  <DIR>  logger".
type dosParser struct{}

func (p *dosParser) Parse(line string) (*DirectoryEntry, bool) {
	fields := strings.Fields(line)
	if len(fields) < 4 {
		return nil, false
	}
	if !isDOSDate(fields[0]) {
		return nil, false
	}

	entry := &DirectoryEntry{Format: FormatDOS, Raw: line}
	if parseDOSFields(entry, fields) {
		return entry, true
	}
	return nil, false
}

func isDOSDate(s string) bool {
	var parts []string
	switch {
	case strings.Contains(s, "-"):
		parts = strings.Split(s, "-")
	case strings.Contains(s, "/"):
		parts = strings.Split(s, "/")
	default:
		return false
	}

	if len(parts) != 3 {
		return false
	}

	for i, part := range parts {
		if len(part) < 1 || len(part) > 4 {
			return false
		}
		if i == 2 && len(part) != 2 && len(part) != 4 {
			return false
		}
		if i < 2 && len(part) > 2 {
			return false
		}
		for _, ch := range part {
			if ch < '0' || ch > '9' {
				return false
			}
		}
	}
	return true
}

func parseDOSFields(entry *DirectoryEntry, fields []string) bool {
	if t, ok := parseDOSModTime(fields[0], fields[1]); ok {
		entry.ModifiedAt = &t
	}

	if fields[2] == "<DIR>" {
		entry.Kind = KindDir
		entry.Name = strings.Join(fields[3:], " ")
		return true
	}

	size, err := parseSize(fields[2])
	if err != nil {
		return false
	}

	entry.Kind = KindFile
	entry.Size = &size
	entry.Name = strings.Join(fields[3:], " ")
	return true
}
