package protocol

import (
	"bytes"
	"encoding/base64"
	"strconv"
	"strings"
)

// Option is one "-k value" pair of a command line.
type Option struct {
	Key   string
	Value string
}

// Command is an IDE to engine request. The transaction id is rendered as the
// "-i" option; Data is base64 encoded after "--".
type Command struct {
	Name          string
	TransactionID int
	Options       []Option
	Data          []byte
	// Async commands are not serialized behind the synchronous slot.
	Async bool
}

func NewCommand(name string) *Command {
	return &Command{Name: name}
}

// Set adds or replaces an option. The key may be given with or without the
// leading dash.
func (c *Command) Set(key, value string) *Command {
	key = strings.TrimPrefix(key, "-")

	for i := range c.Options {
		if c.Options[i].Key == key {
			c.Options[i].Value = value
			return c
		}
	}

	c.Options = append(c.Options, Option{Key: key, Value: value})

	return c
}

func (c *Command) SetInt(key string, value int) *Command {
	return c.Set(key, strconv.Itoa(value))
}

// SetIf adds the option only when value is not empty.
func (c *Command) SetIf(key, value string) *Command {
	if value == "" {
		return c
	}

	return c.Set(key, value)
}

func (c *Command) SetData(data []byte) *Command {
	c.Data = data
	return c
}

func (c *Command) SetAsync(async bool) *Command {
	c.Async = async
	return c
}

// Get returns the value of an option and whether it is present.
func (c *Command) Get(key string) (string, bool) {
	key = strings.TrimPrefix(key, "-")

	for _, o := range c.Options {
		if o.Key == key {
			return o.Value, true
		}
	}

	return "", false
}

// Bytes renders the command line without the trailing NUL.
func (c *Command) Bytes() []byte {
	var b bytes.Buffer

	b.WriteString(c.Name)
	b.WriteString(" -i ")
	b.WriteString(strconv.Itoa(c.TransactionID))

	for _, o := range c.Options {
		if o.Key == "i" {
			continue
		}

		b.WriteString(" -")
		b.WriteString(o.Key)
		b.WriteByte(' ')
		b.WriteString(quote(o.Value))
	}

	if c.Data != nil {
		b.WriteString(" -- ")
		b.WriteString(base64.StdEncoding.EncodeToString(c.Data))
	}

	return b.Bytes()
}

func (c *Command) String() string {
	return string(c.Bytes())
}

func quote(v string) string {
	if v != "" && !strings.ContainsAny(v, " \t\"\\\x00") {
		return v
	}

	var b strings.Builder

	b.Grow(len(v) + 2)
	b.WriteByte('"')

	for i := 0; i < len(v); i++ {
		switch v[i] {
		case '"', '\\':
			b.WriteByte('\\')
			b.WriteByte(v[i])
		case 0:
			b.WriteString(`\0`)
		default:
			b.WriteByte(v[i])
		}
	}

	b.WriteByte('"')

	return b.String()
}
