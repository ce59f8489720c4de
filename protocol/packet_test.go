package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const initXML = `<?xml version="1.0" encoding="iso-8859-1"?>
<init xmlns="urn:debugger_protocol_v1" appid="42" idekey="PHPSTORM" session="cookie" thread="1"
      language="PHP" protocol_version="1.0" fileuri="file:///var/www/index.php">
  <engine version="3.3.1"><![CDATA[Xdebug]]></engine>
</init>`

func TestParseInit(t *testing.T) {
	t.Parallel()

	p, err := Parse([]byte(initXML))
	require.NoError(t, err)
	require.Equal(t, KindInit, p.Kind())

	greeting, ok := p.(*Init)
	require.True(t, ok)
	assert.Equal(t, "42", greeting.ApplicationID)
	assert.Equal(t, "PHPSTORM", greeting.IDEKey)
	assert.Equal(t, "cookie", greeting.SessionID)
	assert.Equal(t, "PHP", greeting.Language)
	assert.Equal(t, "1.0", greeting.ProtocolVersion)
	assert.Equal(t, "file:///var/www/index.php", greeting.FileURI)
	assert.Equal(t, "Xdebug", greeting.Engine.Name)
	assert.Equal(t, "3.3.1", greeting.Engine.Version)
	assert.Contains(t, string(p.Body()), `appid="42"`)
}

func TestParseResponse(t *testing.T) {
	t.Parallel()

	body := `<response xmlns="urn:debugger_protocol_v1" command="stack_get" transaction_id="7">
  <stack level="0" type="file" filename="file:///a.php" lineno="3" where="{main}"/>
  <stack level="1" type="file" filename="file:///b.php" lineno="10" where="f"/>
</response>`

	p, err := Parse([]byte(body))
	require.NoError(t, err)

	resp, ok := p.(*Response)
	require.True(t, ok)
	assert.Equal(t, "stack_get", resp.Command)
	assert.Equal(t, 7, resp.TransactionID)
	require.Len(t, resp.Stack, 2)
	assert.Equal(t, 10, resp.Stack[1].Lineno)
	assert.NoError(t, resp.Err())
}

func TestResponseEmbeddedError(t *testing.T) {
	t.Parallel()

	body := `<response command="step_into" transaction_id="3"><error code="5"><message><![CDATA[command is not available]]></message></error></response>`

	p, err := Parse([]byte(body))
	require.NoError(t, err)

	perr := p.(*Response).Err()
	require.Error(t, perr)

	var pe *ProtocolError

	require.ErrorAs(t, perr, &pe)
	assert.Equal(t, CodeCommandNotAvailable, pe.Code)
	assert.Equal(t, "command is not available", pe.Message)
	assert.Equal(t, 3, pe.TransactionID)
	assert.Contains(t, pe.Error(), "code 5")
}

func TestResponseProperties(t *testing.T) {
	t.Parallel()

	body := `<response command="property_get" transaction_id="9">
  <property name="$x" fullname="$x" type="array" children="1" numchildren="1" encoding="base64">
    <property name="0" fullname="$x[0]" type="string" encoding="base64"><![CDATA[aGVsbG8=]]></property>
  </property>
</response>`

	p, err := Parse([]byte(body))
	require.NoError(t, err)

	resp := p.(*Response)
	require.Len(t, resp.Properties, 1)
	assert.True(t, resp.Properties[0].HasChildren())
	require.Len(t, resp.Properties[0].Properties, 1)

	v, err := resp.Properties[0].Properties[0].Text()
	require.NoError(t, err)
	assert.Equal(t, "hello", v)
}

func TestParseStreamAndNotify(t *testing.T) {
	t.Parallel()

	p, err := Parse([]byte(`<stream type="stdout" encoding="base64">aGkK</stream>`))
	require.NoError(t, err)

	s, ok := p.(*Stream)
	require.True(t, ok)
	assert.Equal(t, "stdout", s.Type)

	text, err := s.Text()
	require.NoError(t, err)
	assert.Equal(t, "hi\n", text)

	p, err = Parse([]byte(`<notify name="breakpoint_resolved"><breakpoint id="1" state="enabled"/></notify>`))
	require.NoError(t, err)

	n, ok := p.(*Notify)
	require.True(t, ok)
	assert.Equal(t, "breakpoint_resolved", n.Name)
	assert.Contains(t, string(n.Inner), `id="1"`)
}

func TestParseRejects(t *testing.T) {
	t.Parallel()

	_, err := Parse(nil)
	assert.ErrorIs(t, err, ErrEmptyPacket)

	_, err = Parse([]byte(`<hello/>`))
	assert.ErrorIs(t, err, ErrUnknownPacket)

	_, err = Parse([]byte(`<response`))
	assert.Error(t, err)
}
