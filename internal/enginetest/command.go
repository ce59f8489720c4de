// Package enginetest plays the engine side of a DBGp connection in tests.
package enginetest

import (
	"encoding/base64"
	"strconv"
	"strings"

	"github.com/go-pantheon/fabrica-dbgp/protocol"
	"github.com/go-pantheon/fabrica-util/errors"
)

// ParseCommand parses a command line as the engine receives it. It is the
// inverse of protocol.Command.Bytes.
func ParseCommand(line []byte) (*protocol.Command, error) {
	s := strings.TrimRight(string(line), "\x00")

	var data string

	if i := strings.Index(s, " -- "); i >= 0 {
		data = strings.TrimSpace(s[i+4:])
		s = s[:i]
	}

	args, err := splitArgs(s)
	if err != nil {
		return nil, err
	}

	if len(args) == 0 {
		return nil, errors.New("empty command line")
	}

	c := protocol.NewCommand(args[0])

	for i := 1; i < len(args); i += 2 {
		if !strings.HasPrefix(args[i], "-") || len(args[i]) < 2 {
			return nil, errors.Errorf("unexpected argument %q in %q", args[i], c.Name)
		}

		if i+1 >= len(args) {
			return nil, errors.Errorf("option %s of %q has no value", args[i], c.Name)
		}

		key, value := args[i][1:], args[i+1]

		if key == "i" {
			id, err := strconv.Atoi(value)
			if err != nil {
				return nil, errors.Wrapf(err, "invalid transaction id %q", value)
			}

			c.TransactionID = id

			continue
		}

		c.Set(key, value)
	}

	if data != "" {
		raw, err := base64.StdEncoding.DecodeString(data)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid data of %q", c.Name)
		}

		c.Data = raw
	}

	return c, nil
}

func splitArgs(s string) ([]string, error) {
	var (
		args    []string
		cur     strings.Builder
		inQuote bool
		hasArg  bool
	)

	for i := 0; i < len(s); i++ {
		ch := s[i]

		switch {
		case inQuote && ch == '\\' && i+1 < len(s):
			i++

			if s[i] == '0' {
				cur.WriteByte(0)
			} else {
				cur.WriteByte(s[i])
			}
		case ch == '"':
			inQuote = !inQuote
			hasArg = true
		case !inQuote && (ch == ' ' || ch == '\t'):
			if hasArg {
				args = append(args, cur.String())
				cur.Reset()
				hasArg = false
			}
		default:
			cur.WriteByte(ch)
			hasArg = true
		}
	}

	if inQuote {
		return nil, errors.New("unterminated quote in command line")
	}

	if hasArg {
		args = append(args, cur.String())
	}

	return args, nil
}
