package goble

import (
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
)

// DeviceFactory creates the platform ble.Device (can be overridden in tests).
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = func() (ble.Device, error) {
	return newPlatformDevice()
}

// Open creates the platform device once and returns a scanner and a connector sharing it.
func Open(logger *logrus.Logger, opts ConnectorOptions) (*Scanner, *Connector, error) {
	dev, err := DeviceFactory()
	if err != nil {
		return nil, nil, NormalizeError(err)
	}
	return NewScanner(dev), NewConnector(logger, DeviceDialer(dev), opts), nil
}
