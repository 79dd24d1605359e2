// Package device holds the platform-neutral vocabulary shared by the BLE session
// layers: the advertisement and scanning contracts, UUID normalization, and the
// error taxonomy every component reports through.
//
// Platform bindings live in the go-ble subpackage.
package device
