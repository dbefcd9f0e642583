// Package drivers assembles the built-in endpoint adapters into a registry
// keyed by kind. Configuration entries select adapters by these kind names.
package drivers

import (
	"github.com/Simumatik/simumatik-driver-manager/internal/driver"
	"github.com/Simumatik/simumatik-driver-manager/internal/drivers/enip"
	"github.com/Simumatik/simumatik-driver-manager/internal/drivers/loopback"
	"github.com/Simumatik/simumatik-driver-manager/internal/drivers/modbus"
	"github.com/Simumatik/simumatik-driver-manager/internal/drivers/mqtt"
	"github.com/Simumatik/simumatik-driver-manager/internal/drivers/rosbridge"
	"github.com/Simumatik/simumatik-driver-manager/internal/drivers/s7"
	"github.com/Simumatik/simumatik-driver-manager/internal/drivers/udp"
)

// NewRegistry returns a registry with every built-in adapter kind registered.
func NewRegistry() *driver.Registry {
	r := driver.NewRegistry()
	r.MustRegister("modbus", modbus.New)
	r.MustRegister("mqtt", mqtt.New)
	r.MustRegister("s7", s7.New)
	r.MustRegister("enip", enip.New)
	r.MustRegister("rosbridge", rosbridge.New)
	r.MustRegister("udp", udp.New)
	r.MustRegister("loopback", loopback.New)
	return r
}
