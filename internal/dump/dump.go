// Package dump parses the line-oriented output of an SNMP table walk into
// typed rows. Hubs render every value as `<oid suffix> = <TYPE>: <value>`;
// parsing is pure and deterministic, and lines that do not match the
// expected shape are skipped rather than failing the whole data-set.
// Distinguishing "every line failed" from "the walk itself failed" is the
// caller's job, tracked with the success flag on Table.
package dump

import (
	"regexp"
	"strconv"
	"strings"
)

// Table wraps one fetched data-set together with the outcome of the
// query that produced it. OK false means the walk failed and Rows says
// nothing about the device; OK true with zero rows is an authentic
// empty table.
type Table[T any] struct {
	OK   bool
	Rows []T
}

// PortRow is one single-index string row: interface index -> name
type PortRow struct {
	IfIndex int
	Name    string
}

// BindingRow is one double-index string row: (port, slot) -> raw serial
type BindingRow struct {
	PortIndex int
	SlotID    int
	RawSerial string
}

// IntRow is one single-index integer row
type IntRow struct {
	Index int
	Value int
}

// StringRow is one single-index string row with an unquoted value
type StringRow struct {
	Index int
	Value string
}

var (
	portRe    = regexp.MustCompile(`\.(\d+)\s*=\s*STRING:\s*"([^"]*)"`)
	bindingRe = regexp.MustCompile(`\.(\d+)\.(\d+)\s*=\s*STRING:\s*"?([^"]+?)"?\s*$`)
	strRowRe  = regexp.MustCompile(`\.(\d+)\s*=\s*(?:STRING|Hex-STRING):\s*"?([^"]+?)"?\s*$`)
)

// intMatchers is the ordered list of patterns tried against an integer
// row; first match wins, the last entries are quiet-output fallbacks.
var intMatchers = []*regexp.Regexp{
	regexp.MustCompile(`\.(\d+)\s*=\s*(?:INTEGER|Gauge32|Counter32|Counter64|Unsigned32):\s*(-?\d+)\s*$`),
	regexp.MustCompile(`\.(\d+)\s*=\s*Timeticks:\s*\((\d+)\)`),
	regexp.MustCompile(`\.(\d+)\s*=\s*(-?\d+)\s*$`),
}

// Ports parses a single-index name table (ifName and friends)
func Ports(lines []string) []PortRow {
	var rows []PortRow
	for _, ln := range lines {
		m := portRe.FindStringSubmatch(ln)
		if m == nil {
			continue
		}
		idx, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		rows = append(rows, PortRow{IfIndex: idx, Name: m[2]})
	}
	return rows
}

// Bindings parses the double-index binding table: each row carries the
// port index, the slot on that port, and the raw (un-normalized) serial.
func Bindings(lines []string) []BindingRow {
	var rows []BindingRow
	for _, ln := range lines {
		m := bindingRe.FindStringSubmatch(ln)
		if m == nil {
			continue
		}
		port, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		slot, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		raw := strings.TrimSpace(m[3])
		if raw == "" {
			continue
		}
		rows = append(rows, BindingRow{PortIndex: port, SlotID: slot, RawSerial: raw})
	}
	return rows
}

// IntTable parses a single-index integer table (status codes, levels)
func IntTable(lines []string) []IntRow {
	var rows []IntRow
	for _, ln := range lines {
		for _, re := range intMatchers {
			m := re.FindStringSubmatch(ln)
			if m == nil {
				continue
			}
			idx, err := strconv.Atoi(m[1])
			if err != nil {
				break
			}
			val, err := strconv.Atoi(m[2])
			if err != nil {
				break
			}
			rows = append(rows, IntRow{Index: idx, Value: val})
			break
		}
	}
	return rows
}

// StringTable parses a single-index string table (serial/vendor tables)
func StringTable(lines []string) []StringRow {
	var rows []StringRow
	for _, ln := range lines {
		m := strRowRe.FindStringSubmatch(ln)
		if m == nil {
			continue
		}
		idx, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		val := strings.TrimSpace(m[2])
		if val == "" {
			continue
		}
		rows = append(rows, StringRow{Index: idx, Value: val})
	}
	return rows
}

// scalar matchers, tried in order against each line of a scalar walk

var scalarIntMatchers = []*regexp.Regexp{
	regexp.MustCompile(`Timeticks:\s*\((\d+)\)`),
	regexp.MustCompile(`=\s*(?:INTEGER|Gauge32|Counter32|Counter64|Unsigned32):\s*(-?\d+)\s*$`),
	regexp.MustCompile(`=\s*(-?\d+)\s*$`),
	regexp.MustCompile(`^\s*(-?\d+)\s*$`),
}

var scalarStrRe = regexp.MustCompile(`STRING:\s*"([^"]*)"`)

// FirstInt extracts the first integer value from a scalar walk,
// tolerating typed, bare and quiet output formats
func FirstInt(lines []string) (int, bool) {
	for _, ln := range lines {
		for _, re := range scalarIntMatchers {
			if m := re.FindStringSubmatch(ln); m != nil {
				v, err := strconv.Atoi(m[1])
				if err != nil {
					continue
				}
				return v, true
			}
		}
	}
	return 0, false
}

// FirstString extracts the first string value from a scalar walk
func FirstString(lines []string) (string, bool) {
	for _, ln := range lines {
		if m := scalarStrRe.FindStringSubmatch(ln); m != nil {
			return m[1], true
		}
	}
	for _, ln := range lines {
		if i := strings.Index(ln, "="); i >= 0 {
			v := strings.TrimSpace(ln[i+1:])
			if v != "" {
				return v, true
			}
		}
	}
	return "", false
}
