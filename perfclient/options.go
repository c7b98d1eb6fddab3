package perfclient

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// argMap implements the "-name:value" CLI grammar.
// A repeated name keeps its last value. Among synonyms, the spelling
// listed later in a lookup wins whatever the argument order, matching
// the original's sequence of TryGetValue calls where each successive
// call for an alternate spelling (e.g. "upload", then "up") overwrites
// whatever the previous one found.
type argMap map[string]string

// parseArgs splits a "-name:value" / "-name" argument list into a
// lookup table. Values containing ':' (e.g. -bind:fe80::1,::1) keep
// everything after the first colon intact.
func parseArgs(args []string) argMap {
	m := make(argMap, len(args))
	for _, a := range args {
		a = strings.TrimPrefix(a, "-")
		a = strings.TrimPrefix(a, "-")
		if a == "" {
			continue
		}
		name, value, hasValue := strings.Cut(a, ":")
		name = strings.ToLower(name)
		if !hasValue {
			value = "1" // a bare "-flag" behaves like "-flag:1"
		}
		m[name] = value
	}
	return m
}

func (m argMap) str(keys ...string) (string, bool) {
	var v string
	var ok bool
	for _, k := range keys {
		if val, present := m[k]; present {
			v, ok = val, true
		}
	}
	return v, ok
}

func (m argMap) u64(keys ...string) (uint64, bool, error) {
	s, ok := m.str(keys...)
	if !ok {
		return 0, false, nil
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, true, fmt.Errorf("%q is not a valid integer: %w", s, err)
	}
	return v, true, nil
}

func (m argMap) u32(keys ...string) (uint32, bool, error) {
	v, ok, err := m.u64(keys...)
	if err != nil || !ok {
		return 0, ok, err
	}
	if v > uint64(^uint32(0)) {
		return 0, true, fmt.Errorf("value %d overflows 32 bits", v)
	}
	return uint32(v), true, nil
}

func (m argMap) u16(keys ...string) (uint16, bool, error) {
	v, ok, err := m.u64(keys...)
	if err != nil || !ok {
		return 0, ok, err
	}
	if v > uint64(^uint16(0)) {
		return 0, true, fmt.Errorf("value %d overflows 16 bits", v)
	}
	return uint16(v), true, nil
}

func (m argMap) boolv(keys ...string) (bool, bool, error) {
	s, ok := m.str(keys...)
	if !ok {
		return false, false, nil
	}
	switch s {
	case "0":
		return false, true, nil
	case "1":
		return true, true, nil
	default:
		return false, true, fmt.Errorf("%q is not 0 or 1", s)
	}
}

func (m argMap) durationMs(keys ...string) (time.Duration, bool, error) {
	v, ok, err := m.u64(keys...)
	if err != nil || !ok {
		return 0, ok, err
	}
	return time.Duration(v) * time.Millisecond, true, nil
}
