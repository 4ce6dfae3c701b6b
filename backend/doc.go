// Package backend selects the device frames are executed on.
//
// Backends register a Factory from an init function and are opened by name.
// The software GPU registers itself as "sim" on import:
//
//	import _ "github.com/gogpu/tbdr/backend/sim"
//
//	dev, err := backend.Open("sim")
//	if err != nil {
//	    return err
//	}
//	defer dev.Close()
//
// backend/halmem provides HAL memory for a scheduler but cannot execute
// command streams, so it is used directly rather than through the registry.
package backend
