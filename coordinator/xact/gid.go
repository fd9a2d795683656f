package xact

import (
	"fmt"
	"strconv"
	"strings"
)

// FormatGID names the prepared transaction of one participant connection.
func FormatGID(prefix, txID string, groupID int32, connSeq int) string {
	return fmt.Sprintf("%s_%s_%d_%d", prefix, txID, groupID, connSeq)
}

// ParseGID is the inverse of FormatGID. It reports false for names not
// created with prefix.
func ParseGID(prefix, gid string) (txID string, groupID int32, ok bool) {
	rest, found := strings.CutPrefix(gid, prefix+"_")
	if !found {
		return "", 0, false
	}
	parts := strings.Split(rest, "_")
	if len(parts) != 3 || parts[0] == "" {
		return "", 0, false
	}
	group, err := strconv.ParseInt(parts[1], 10, 32)
	if err != nil {
		return "", 0, false
	}
	if _, err := strconv.Atoi(parts[2]); err != nil {
		return "", 0, false
	}
	return parts[0], int32(group), true
}
