package codec_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/angelmondragon/eventcore/pkg/es"
	"github.com/angelmondragon/eventcore/pkg/es/codec"
	"github.com/angelmondragon/eventcore/pkg/es/estest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerializeIsSelfDescribing(t *testing.T) {
	c := estest.NewCodec()

	wire, err := c.Serialize(estest.FundsDeposited{Amount: 25})
	require.NoError(t, err)

	var w codec.Wire
	require.NoError(t, json.Unmarshal(wire, &w))
	assert.Equal(t, "account.funds_deposited", w.Type)
	assert.Equal(t, 2, w.SchemaVersion)
	assert.JSONEq(t, `{"amount":25}`, string(w.Data))

	event, err := c.Deserialize(wire, "")
	require.NoError(t, err)
	assert.Equal(t, estest.FundsDeposited{Amount: 25}, event)
}

func TestDeserializeUnknownTypeFails(t *testing.T) {
	c := estest.NewCodec()
	wire := []byte(`{"type":"ghost.happened","schemaVersion":1,"data":{}}`)

	_, err := c.Deserialize(wire, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, es.ErrUnknownEventType))

	_, err = c.Unmarshal("ghost.happened", json.RawMessage(`{}`))
	assert.True(t, errors.Is(err, es.ErrUnknownEventType))
}

func TestDeserializeRejectsTypeMismatch(t *testing.T) {
	c := estest.NewCodec()
	wire, err := c.Serialize(estest.AccountRenamed{Name: "n"})
	require.NoError(t, err)

	_, err = c.Deserialize(wire, "account.created")
	require.Error(t, err)
}

func TestDecodeTyped(t *testing.T) {
	c := estest.NewCodec()
	wire, err := c.Serialize(estest.AccountRenamed{Name: "primary"})
	require.NoError(t, err)

	renamed, err := codec.Decode[estest.AccountRenamed](c, wire)
	require.NoError(t, err)
	assert.Equal(t, "primary", renamed.Name)

	_, err = codec.Decode[estest.AccountCreated](c, wire)
	require.Error(t, err)
}

func TestRegisterRejectsDuplicatesAndPointers(t *testing.T) {
	r := codec.NewRegistry()
	require.NoError(t, codec.Register[estest.AccountCreated](r))
	require.Error(t, codec.Register[estest.AccountCreated](r))
	require.Error(t, codec.Register[*estest.AccountRenamed](r))
	require.Error(t, codec.Register[emptyName](r))

	assert.Equal(t, []string{"account.created"}, r.Names())
	assert.True(t, r.Has("account.created"))
	assert.False(t, r.Has("account.renamed"))
}

func TestMustRegisterPanicsOnDuplicate(t *testing.T) {
	r := codec.NewRegistry()
	codec.MustRegister[estest.AccountCreated](r)
	assert.Panics(t, func() { codec.MustRegister[estest.AccountCreated](r) })
}

type emptyName struct{}

func (emptyName) EventType() string { return " " }

type paddedName struct{}

func (paddedName) EventType() string { return "account.closed " }

func TestRegisterRejectsNamesWithSurroundingWhitespace(t *testing.T) {
	r := codec.NewRegistry()
	err := codec.Register[paddedName](r)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "whitespace")
	assert.False(t, r.Has("account.closed"))
	assert.False(t, r.Has("account.closed "))
}
