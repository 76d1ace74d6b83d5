package canmon

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadConfigDefaults(t *testing.T) {
	config := LoadConfig()
	assert.Equal(t, []string{"can0"}, config.Interfaces)
	assert.Equal(t, DefaultStaleTimeout, config.StaleTimeout)
	assert.Equal(t, DefaultDeadTimeout, config.DeadTimeout)
	assert.Equal(t, DefaultSDOTimeout, config.SDOTimeout)
	assert.Nil(t, config.Validate())
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("CANMON_INTERFACES", "can0, vcan1 ,slcan:/dev/ttyUSB0")
	t.Setenv("CANMON_STALE_TIMEOUT", "3")
	t.Setenv("CANMON_DEAD_TIMEOUT", "1m")
	t.Setenv("CANMON_EDS_DIR", "/etc/canmon/eds")
	t.Setenv("CANMON_TABLE_CAPACITY", "128")

	config := LoadConfig()
	assert.Equal(t, []string{"can0", "vcan1", "slcan:/dev/ttyUSB0"}, config.Interfaces)
	assert.Equal(t, 3*time.Second, config.StaleTimeout)
	assert.Equal(t, time.Minute, config.DeadTimeout)
	assert.Equal(t, "/etc/canmon/eds", config.EDSDir)
	assert.Equal(t, 128, config.TableCapacity)
	assert.Nil(t, config.Validate())
}

func TestLoadConfigIgnoresBadValues(t *testing.T) {
	t.Setenv("CANMON_STALE_TIMEOUT", "soon")
	t.Setenv("CANMON_TABLE_CAPACITY", "many")

	config := LoadConfig()
	assert.Equal(t, DefaultStaleTimeout, config.StaleTimeout)
	assert.Equal(t, 0, config.TableCapacity)
}

func TestConfigValidate(t *testing.T) {
	config := DefaultConfig()
	assert.Nil(t, config.Validate())

	config.Interfaces = nil
	assert.ErrorIs(t, config.Validate(), ErrNoInterfaces)

	config.Interfaces = []string{"can0", "can0"}
	assert.ErrorIs(t, config.Validate(), ErrDuplicateInterface)

	config = DefaultConfig()
	config.StaleTimeout = 10 * time.Second
	config.DeadTimeout = 5 * time.Second
	assert.ErrorIs(t, config.Validate(), ErrTimeoutOrder)

	config = DefaultConfig()
	config.SDOTimeout = 0
	assert.ErrorIs(t, config.Validate(), ErrSessionTimeout)
}
