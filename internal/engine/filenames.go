package engine

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

type fileType int

const (
	fileUnknown fileType = iota
	fileLock
	fileCurrent
	fileIdentity
	fileOptions
	fileLog
	fileTable
	fileTemp
)

const (
	lockFileName     = "LOCK"
	currentFileName  = "CURRENT"
	identityFileName = "IDENTITY"
	optionsFileName  = "OPTIONS"
	lostDirName      = "lost"
)

func logFileName(dir string, n uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%06d.log", n))
}

func tableFileName(dir string, n uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%06d.tbl", n))
}

// parseFileName classifies a directory entry and extracts its number.
func parseFileName(name string) (fileType, uint64) {
	switch name {
	case lockFileName:
		return fileLock, 0
	case currentFileName:
		return fileCurrent, 0
	case identityFileName:
		return fileIdentity, 0
	case optionsFileName:
		return fileOptions, 0
	}
	if strings.HasSuffix(name, ".tmp") {
		return fileTemp, 0
	}
	base, ext, ok := strings.Cut(name, ".")
	if !ok {
		return fileUnknown, 0
	}
	n, err := strconv.ParseUint(base, 10, 64)
	if err != nil {
		return fileUnknown, 0
	}
	switch ext {
	case "log":
		return fileLog, n
	case "tbl":
		return fileTable, n
	}
	return fileUnknown, 0
}
