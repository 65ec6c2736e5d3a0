// SPDX-License-Identifier: MIT

package ftp

import (
	"strconv"
	"strings"
	"time"
)

// Entry is one fact line of an MLSD listing.
type Entry struct {
	Name   string
	Type   string // "file", "dir", "cdir", "pdir"
	Size   int64
	Modify time.Time
}

// ParseMLSD parses the raw data of an MLSD transfer into entries. Unknown
// facts are ignored; malformed lines are skipped.
func ParseMLSD(data []byte) []Entry {
	var entries []Entry
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		// Facts and name are separated by the first "space after facts":
		// "type=file;size=12; name.prg"
		sep := strings.Index(line, "; ")
		if sep < 0 {
			continue
		}
		entry := Entry{Name: line[sep+2:]}
		for _, fact := range strings.Split(line[:sep+1], ";") {
			kv := strings.SplitN(fact, "=", 2)
			if len(kv) != 2 {
				continue
			}
			switch strings.ToLower(strings.TrimSpace(kv[0])) {
			case "type":
				entry.Type = strings.ToLower(kv[1])
			case "size":
				if n, err := strconv.ParseInt(kv[1], 10, 64); err == nil {
					entry.Size = n
				}
			case "modify":
				if t, err := time.Parse("20060102150405", kv[1]); err == nil {
					entry.Modify = t
				}
			}
		}
		if entry.Name != "" {
			entries = append(entries, entry)
		}
	}
	return entries
}
