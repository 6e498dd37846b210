package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validCatalog = `
actions:
  - name: turn_on_fan
    domain: switch
    service: turn_on
    entity_id: switch.node_fan
    description: Turn on the fan
  - name: turn_off_fan
    domain: switch
    service: turn_off
    entity_id: switch.node_fan
    description: Turn off the fan
allowed_entities:
  - switch.node_fan
  - sensor.node_humidity
allowed_services:
  - switch/turn_on
  - switch/turn_off
context_entities:
  - sensor.node_humidity
`

func TestParse(t *testing.T) {
	t.Run("valid catalog", func(t *testing.T) {
		cat, err := Parse([]byte(validCatalog))
		require.NoError(t, err)
		assert.Equal(t, []string{"turn_off_fan", "turn_on_fan"}, cat.ActionNames())
		assert.Equal(t, []string{"sensor.node_humidity"}, cat.ContextEntities())
	})

	t.Run("action entity outside allowlist is fatal", func(t *testing.T) {
		bad := `
actions:
  - name: turn_on_heater
    domain: switch
    service: turn_on
    entity_id: switch.node_heater
allowed_entities:
  - switch.node_fan
allowed_services:
  - switch/turn_on
`
		_, err := Parse([]byte(bad))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not in allowed_entities")
	})

	t.Run("action service outside allowlist is fatal", func(t *testing.T) {
		bad := `
actions:
  - name: toggle_fan
    domain: switch
    service: toggle
    entity_id: switch.node_fan
allowed_entities:
  - switch.node_fan
allowed_services:
  - switch/turn_on
`
		_, err := Parse([]byte(bad))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not in allowed_services")
	})

	t.Run("duplicate action name is fatal", func(t *testing.T) {
		bad := `
actions:
  - name: turn_on_fan
    domain: switch
    service: turn_on
    entity_id: switch.node_fan
  - name: turn_on_fan
    domain: switch
    service: turn_on
    entity_id: switch.node_fan
allowed_entities:
  - switch.node_fan
allowed_services:
  - switch/turn_on
`
		_, err := Parse([]byte(bad))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "duplicate action")
	})

	t.Run("context entity outside allowlist is fatal", func(t *testing.T) {
		bad := `
actions:
  - name: turn_on_fan
    domain: switch
    service: turn_on
    entity_id: switch.node_fan
allowed_entities:
  - switch.node_fan
allowed_services:
  - switch/turn_on
context_entities:
  - sensor.not_allowed
`
		_, err := Parse([]byte(bad))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "context entity")
	})

	t.Run("schema rejects missing allowlists", func(t *testing.T) {
		_, err := Parse([]byte(`actions: []`))
		require.Error(t, err)
	})

	t.Run("schema rejects malformed entity ids", func(t *testing.T) {
		bad := `
actions: []
allowed_entities:
  - "not an entity id"
allowed_services:
  - switch/turn_on
`
		_, err := Parse([]byte(bad))
		require.Error(t, err)
	})
}

func TestLookups(t *testing.T) {
	cat, err := Parse([]byte(validCatalog))
	require.NoError(t, err)

	t.Run("resolve known action", func(t *testing.T) {
		def, err := cat.Resolve("turn_on_fan")
		require.NoError(t, err)
		assert.Equal(t, "switch", def.Domain)
		assert.Equal(t, "turn_on", def.Service)
		assert.Equal(t, "switch.node_fan", def.EntityID)
	})

	t.Run("unknown action returns ErrNotFound", func(t *testing.T) {
		_, err := cat.Resolve("self_destruct")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("lookups are exact and case-sensitive", func(t *testing.T) {
		_, err := cat.Resolve("Turn_On_Fan")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.False(t, cat.EntityAllowed("SWITCH.NODE_FAN"))
		assert.False(t, cat.EntityAllowed(" switch.node_fan"))
	})

	t.Run("entity allowlist", func(t *testing.T) {
		assert.True(t, cat.EntityAllowed("switch.node_fan"))
		assert.True(t, cat.EntityAllowed("sensor.node_humidity"))
		assert.False(t, cat.EntityAllowed("switch.garage_door"))
	})

	t.Run("service allowlist", func(t *testing.T) {
		assert.True(t, cat.ServiceAllowed("switch", "turn_on"))
		assert.False(t, cat.ServiceAllowed("switch", "toggle"))
		assert.False(t, cat.ServiceAllowed("script", "turn_on"))
	})
}

func TestDefault(t *testing.T) {
	cat, err := Default()
	require.NoError(t, err)

	assert.Equal(t, []string{"turn_off_fan", "turn_off_light", "turn_on_fan", "turn_on_light"}, cat.ActionNames())

	def, err := cat.Resolve("turn_on_fan")
	require.NoError(t, err)
	assert.Equal(t, "switch.smarthome_node_dc_motor_fan", def.EntityID)
	assert.True(t, cat.ServiceAllowed("switch", "turn_on"))
	assert.True(t, cat.ServiceAllowed("switch", "turn_off"))
	assert.True(t, cat.EntityAllowed("sensor.smarthome_node_keystudio_humidity"))
	assert.NotEmpty(t, cat.ContextEntities())
}
