package sim

import "github.com/gogpu/tbdr/backend"

func init() {
	backend.Register("sim", func() (backend.Device, error) {
		return NewDevice(), nil
	})
}

var _ backend.Device = (*Device)(nil)
