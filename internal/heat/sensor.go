package heat

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// SensorReader reads a single decimal temperature value, in
// millidegrees Celsius, from a sysfs hwmon-style file (one value per
// line, comma or newline separated if more than one token is present).
type SensorReader struct {
	Path string
}

// NewSensorReader builds a SensorReader for the given path.
func NewSensorReader(path string) *SensorReader {
	return &SensorReader{Path: path}
}

// Read opens the configured path, reads one line, and parses the
// first comma/newline-delimited token as a float64 of millidegrees C.
func (s *SensorReader) Read() (float64, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", s.Path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return 0, fmt.Errorf("read %s: %w", s.Path, err)
		}
		return 0, fmt.Errorf("read %s: empty file", s.Path)
	}

	line := scanner.Text()
	token := strings.SplitN(line, ",", 2)[0]
	token = strings.TrimSpace(token)

	value, err := strconv.ParseFloat(token, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %q not numeric: %w", s.Path, token, err)
	}
	return value, nil
}
