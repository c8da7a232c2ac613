/*
	This file holds the Command type used by the command-line tool.  Commands are a
	name followed by positional arguments and optional "<key>=<value>" settings.
*/

package bfio

import (
	"fmt"
	"strconv"
	"strings"
)

// Config is a map of keyword to arbitrary data to specify configurations via keyword.
type Config map[string]interface{}

// GetString returns a string setting, whether it was found, and an error if the
// setting is not a string.
func (c Config) GetString(key string) (s string, found bool, err error) {
	v, found := c[key]
	if !found {
		return "", false, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", true, fmt.Errorf("setting %q must be a string, not %T", key, v)
	}
	return s, true, nil
}

// GetBool returns a boolean setting.  String values "true" and "false" are accepted.
func (c Config) GetBool(key string) (b bool, found bool, err error) {
	v, found := c[key]
	if !found {
		return false, false, nil
	}
	switch x := v.(type) {
	case bool:
		return x, true, nil
	case string:
		b, err = strconv.ParseBool(x)
		return b, true, err
	}
	return false, true, fmt.Errorf("setting %q must be a bool, not %T", key, v)
}

// GetInt returns an integer setting.  Numeric strings are accepted.
func (c Config) GetInt(key string) (i int, found bool, err error) {
	v, found := c[key]
	if !found {
		return 0, false, nil
	}
	switch x := v.(type) {
	case int:
		return x, true, nil
	case int64:
		return int(x), true, nil
	case float64:
		return int(x), true, nil
	case string:
		i, err = strconv.Atoi(x)
		return i, true, err
	}
	return 0, true, fmt.Errorf("setting %q must be an integer, not %T", key, v)
}

// Command is a command line split into words.  The first word is the command name.
type Command []string

// String returns a space-separated command line
func (cmd Command) String() string {
	return strings.Join([]string(cmd), " ")
}

// Name returns the first argument which is assumed to be the name of the command.
func (cmd Command) Name() string {
	if len(cmd) == 0 {
		return ""
	}
	return cmd[0]
}

// Argument returns the i-th positional argument, skipping "key=value" settings.
// Argument 0 is the command name.  An empty string is returned if there is no such
// argument.
func (cmd Command) Argument(pos int) string {
	var i int
	for _, arg := range cmd {
		if strings.Contains(arg, "=") {
			continue
		}
		if i == pos {
			return arg
		}
		i++
	}
	return ""
}

// Parameter scans a command for any "key=value" argument and returns
// the value of the passed 'key'.
func (cmd Command) Parameter(key string) (value string, found bool) {
	if len(cmd) > 1 {
		for _, arg := range cmd[1:] {
			elems := strings.SplitN(arg, "=", 2)
			if len(elems) == 2 && elems[0] == key {
				return elems[1], true
			}
		}
	}
	return
}

// Settings returns all "key=value" arguments.
func (cmd Command) Settings() Config {
	config := make(Config)
	if len(cmd) > 1 {
		for _, arg := range cmd[1:] {
			elems := strings.SplitN(arg, "=", 2)
			if len(elems) == 2 {
				config[elems[0]] = elems[1]
			}
		}
	}
	return config
}

// SeqParameter parses a "key=start:stop" or "key=index" setting into a Seq.
// An absent key returns an invalid Seq.
func (cmd Command) SeqParameter(key string) (Seq, error) {
	v, found := cmd.Parameter(key)
	if !found {
		return InvalidSeq(), nil
	}
	parts := strings.Split(v, ":")
	nums := make([]int64, len(parts))
	for i, p := range parts {
		n, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return Seq{}, fmt.Errorf("bad %s range %q: %v", key, v, err)
		}
		nums[i] = n
	}
	switch len(nums) {
	case 1:
		return NewSeq(nums[0], nums[0], 1)
	case 2:
		return NewSeq(nums[0], nums[1], 1)
	case 3:
		return NewSeq(nums[0], nums[1], nums[2])
	}
	return Seq{}, fmt.Errorf("bad %s range %q", key, v)
}

// IntsParameter parses a "key=a,b,..." setting.
func (cmd Command) IntsParameter(key string) ([]int64, bool, error) {
	v, found := cmd.Parameter(key)
	if !found {
		return nil, false, nil
	}
	parts := strings.Split(v, ",")
	nums := make([]int64, len(parts))
	for i, p := range parts {
		n, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return nil, true, fmt.Errorf("bad %s value %q: %v", key, v, err)
		}
		nums[i] = n
	}
	return nums, true, nil
}
