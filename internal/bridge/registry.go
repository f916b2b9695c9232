package bridge

import "fmt"

var global Transport

// Register is called once from native (Swift/Kotlin) before mobile.Start().
func Register(t Transport) {
	global = t
}

// Get returns the registered transport. Panics if Register was never called.
func Get() Transport {
	if global == nil {
		panic("bridge: no Transport registered — call bridge.Register() before starting")
	}
	return global
}

// Safe returns the transport and an error instead of panicking.
func Safe() (Transport, error) {
	if global == nil {
		return nil, fmt.Errorf("bridge: no Transport registered")
	}
	return global, nil
}
