// Package filter provides display filters over connection records using
// expr-lang/expr.
package filter

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"

	"github.com/MatteoGuarna/packet-sniffer/connection"
)

// RecordEnv is the environment for expression evaluation. It maps
// Wireshark-like field names to connection record data.
type RecordEnv struct {
	TCP  bool `expr:"tcp"`
	UDP  bool `expr:"udp"`
	IPv4 bool `expr:"ipv4"`
	IPv6 bool `expr:"ipv6"`

	AddrA string `expr:"addr_a"`
	PortA int    `expr:"port_a"`
	AddrB string `expr:"addr_b"`
	PortB int    `expr:"port_b"`

	// Addrs and Ports hold both endpoints; "addr == x" and "port == n" are
	// rewritten to membership tests against them.
	Addrs []string `expr:"addrs"`
	Ports []int    `expr:"ports"`

	Bytes int `expr:"bytes"`
	// Duration is in seconds.
	Duration float64 `expr:"duration"`
}

// Predicate reports whether a record passes the filter.
type Predicate func(*connection.Record) bool

// Compile compiles a display filter expression
func Compile(filterStr string) (Predicate, error) {
	processed := preprocessFilter(filterStr)

	program, err := expr.Compile(processed, expr.Env(RecordEnv{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("failed to compile filter '%s': %w", filterStr, err)
	}

	return func(r *connection.Record) bool {
		result, err := expr.Run(program, recordToEnv(r))
		if err != nil {
			return false
		}
		b, ok := result.(bool)
		return ok && b
	}, nil
}

// Apply returns the records that pass p, preserving order. A nil
// predicate passes everything.
func Apply(p Predicate, records []connection.Record) []connection.Record {
	if p == nil {
		return records
	}
	out := make([]connection.Record, 0, len(records))
	for i := range records {
		if p(&records[i]) {
			out = append(out, records[i])
		}
	}
	return out
}

var eitherSide = regexp.MustCompile(`\b(addr|port)\s*(==|!=)\s*("[^"]*"|'[^']*'|[\w.:]+)`)

// preprocessFilter converts Wireshark-style filter syntax to expr syntax
func preprocessFilter(filter string) string {
	keywords := map[string]string{
		"tcp":  "tcp",
		"udp":  "udp",
		"ipv4": "ipv4",
		"ip":   "ipv4",
		"ipv6": "ipv6",
	}

	// Normalize standalone protocol names (not part of field names).
	words := tokenizeFilter(filter)
	for i, word := range words {
		replacement, ok := keywords[strings.ToLower(word)]
		if !ok {
			continue
		}
		if (i+1 >= len(words) || words[i+1] != ".") && (i == 0 || words[i-1] != ".") {
			words[i] = replacement
		}
	}
	filter = strings.Join(words, "")

	// "addr == x" and "port == n" match either endpoint.
	filter = eitherSide.ReplaceAllStringFunc(filter, func(m string) string {
		parts := eitherSide.FindStringSubmatch(m)
		field, op, value := parts[1], parts[2], parts[3]
		if field == "addr" && !strings.HasPrefix(value, `"`) && !strings.HasPrefix(value, "'") {
			value = strconv.Quote(value)
		}
		test := fmt.Sprintf("(%s in %ss)", value, field)
		if op == "!=" {
			return "not " + test
		}
		return test
	})

	// Handle "in {x, y, z}" syntax - convert to "in [x, y, z]"
	filter = strings.ReplaceAll(filter, "{", "[")
	filter = strings.ReplaceAll(filter, "}", "]")

	return filter
}

// tokenizeFilter breaks a filter string into tokens while preserving structure
func tokenizeFilter(filter string) []string {
	var tokens []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			tokens = append(tokens, current.String())
			current.Reset()
		}
	}

	inQuote := rune(0)
	for _, ch := range filter {
		if inQuote != 0 {
			current.WriteRune(ch)
			if ch == inQuote {
				inQuote = 0
				flush()
			}
			continue
		}
		switch ch {
		case '"', '\'':
			flush()
			inQuote = ch
			current.WriteRune(ch)
		case ' ', '\t', '\n', '.', '(', ')', '[', ']', '{', '}', ',', '!':
			flush()
			tokens = append(tokens, string(ch))
		case '=', '>', '<', '&', '|':
			if current.Len() > 0 && !isOperator(current.String()) {
				flush()
			}
			current.WriteRune(ch)
		default:
			if current.Len() > 0 && isOperator(current.String()) {
				flush()
			}
			current.WriteRune(ch)
		}
	}
	flush()

	return tokens
}

func isOperator(s string) bool {
	switch s {
	case "==", "!=", ">=", "<=", ">", "<", "&&", "||", "=", "&", "|":
		return true
	}
	return false
}

// recordToEnv converts a Record to a RecordEnv for expression evaluation
func recordToEnv(r *connection.Record) RecordEnv {
	env := RecordEnv{
		TCP:      r.L4 == connection.TCP,
		UDP:      r.L4 == connection.UDP,
		IPv4:     r.L3 == connection.IPv4,
		IPv6:     r.L3 == connection.IPv6,
		AddrA:    r.AddrA,
		PortA:    parsePort(r.PortA),
		AddrB:    r.AddrB,
		PortB:    parsePort(r.PortB),
		Bytes:    int(r.Bytes),
		Duration: r.Duration().Seconds(),
	}
	env.Addrs = []string{env.AddrA, env.AddrB}
	env.Ports = []int{env.PortA, env.PortB}
	return env
}

func parsePort(s string) int {
	v, _ := strconv.ParseUint(s, 10, 16)
	return int(v)
}
