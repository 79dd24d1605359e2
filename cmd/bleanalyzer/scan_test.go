package main

import (
	"testing"
	"time"

	"github.com/srg/bleanalyzer/internal/testutils"
	"github.com/stretchr/testify/suite"
)

type ScanTestSuite struct {
	CommandTestSuite
}

func (s *ScanTestSuite) TestScan_TableOutput() {
	// GOAL: Verify scan prints each device once and the frames of the auto-tracked beacon
	//
	// TEST SCENARIO: beacon, generic device, beacon again → two DEVICE rows, one FRAME row, then the scan ends on --duration
	res := s.StartScanCommand("scan", "--duration", "300ms")

	s.Emit(
		testutils.CreateTrackedAdvertisement("RFdroid", TestDeviceAddress1, -60, 160),
		testutils.CreateMockAdvertisement("Thermometer", TestDeviceAddress2, -70),
		testutils.CreateTrackedAdvertisement("RFdroid", TestDeviceAddress1, -61, 160),
	)

	r := s.Await(res, 3*time.Second)
	s.Require().NoError(r.err)

	testutils.NewTextAsserter(s.T()).Assert(r.stdout, `
Scanning for BLE devices...
DEVICE     AA:BB:CC:DD:EE:01  RFdroid               -60 dBm  100 ms  beacon
DEVICE     AA:BB:CC:DD:EE:02  Thermometer           -70 dBm  -
FRAME      AA:BB:CC:DD:EE:01  frames=1  -61 dBm
Scan ended
`)
}

func (s *ScanTestSuite) TestScan_JSONOutput() {
	// GOAL: Verify --format json emits one JSON document per event
	//
	// TEST SCENARIO: same traffic as the table test → JSON lines with event kinds, intervals and a frame timestamp
	res := s.StartScanCommand("scan", "--duration", "300ms", "--format", "json")

	s.Emit(
		testutils.CreateTrackedAdvertisement("RFdroid", TestDeviceAddress1, -60, 160),
		testutils.CreateMockAdvertisement("Thermometer", TestDeviceAddress2, -70),
		testutils.CreateTrackedAdvertisement("RFdroid", TestDeviceAddress1, -61, 160),
	)

	r := s.Await(res, 3*time.Second)
	s.Require().NoError(r.err)

	testutils.NewJSONAsserter(s.T()).AssertLines(r.stdout,
		`{"event":"scan_started"}`,
		`{"event":"device_discovered","address":"AA:BB:CC:DD:EE:01","name":"RFdroid","rssi":-60,"interval":100,"tracked":true}`,
		`{"event":"device_discovered","address":"AA:BB:CC:DD:EE:02","name":"Thermometer","rssi":-70,"interval":-1,"tracked":false}`,
		`{"event":"frame_received","address":"AA:BB:CC:DD:EE:01","frames":1,"rssi":-61,"timestamp":"<<PRESENCE>>"}`,
		`{"event":"scan_ended"}`,
	)
}

func (s *ScanTestSuite) TestScan_SelectionModeDoesNotTrack() {
	// GOAL: Verify --select lists beacons without sampling their frames
	//
	// TEST SCENARIO: beacon seen twice in selection mode → one DEVICE row, no FRAME row
	res := s.StartScanCommand("scan", "--duration", "300ms", "--select")

	s.Emit(
		testutils.CreateTrackedAdvertisement("RFdroid", TestDeviceAddress1, -60, 160),
		testutils.CreateTrackedAdvertisement("RFdroid", TestDeviceAddress1, -61, 160),
	)

	r := s.Await(res, 3*time.Second)
	s.Require().NoError(r.err)
	s.NotContains(r.stdout, "FRAME")
	s.Contains(r.stdout, "DEVICE     AA:BB:CC:DD:EE:01")
}

func (s *ScanTestSuite) TestScan_TrackGenericDevice() {
	// GOAL: Verify --track samples frames of the named device even without beacon firmware
	//
	// TEST SCENARIO: --track on a generic device, beacon and generic device seen twice each → frames only for the generic device
	res := s.StartScanCommand("scan", "--duration", "300ms", "--track", TestDeviceAddress2, "--format", "json")

	s.Emit(
		testutils.CreateTrackedAdvertisement("RFdroid", TestDeviceAddress1, -60, 160),
		testutils.CreateMockAdvertisement("Thermometer", TestDeviceAddress2, -70),
		testutils.CreateTrackedAdvertisement("RFdroid", TestDeviceAddress1, -61, 160),
		testutils.CreateMockAdvertisement("Thermometer", TestDeviceAddress2, -71),
	)

	r := s.Await(res, 3*time.Second)
	s.Require().NoError(r.err)

	testutils.NewJSONAsserter(s.T()).AssertLines(r.stdout,
		`{"event":"scan_started"}`,
		`{"event":"device_discovered","address":"AA:BB:CC:DD:EE:01"}`,
		`{"event":"device_discovered","address":"AA:BB:CC:DD:EE:02"}`,
		`{"event":"frame_received","address":"AA:BB:CC:DD:EE:02","frames":1,"rssi":-71}`,
		`{"event":"scan_ended"}`,
	)
}

func (s *ScanTestSuite) TestScan_PlatformFailure() {
	// GOAL: Verify a failing platform scan ends the command with the normalized error
	//
	// TEST SCENARIO: scanner fails with the macOS "powered off" message → ScanFailed printed, ErrBluetoothOff returned
	s.Scanner.Err = errBluetoothOffMessage

	out, err := s.ExecuteCommand("scan", "--duration", "1s")

	s.Require().Error(err)
	s.Equal("Bluetooth is turned off; enable it and try again", FormatUserError(err))
	s.Contains(out, "Scan failed")
	s.Contains(out, "Scan ended")
}

func (s *ScanTestSuite) TestScan_InvalidFormat() {
	// GOAL: Verify an unknown output format is rejected before the adapter is opened
	//
	// TEST SCENARIO: --format xml → error naming the accepted formats, no scan
	_, err := s.ExecuteCommand("scan", "--format", "xml")

	s.Require().Error(err)
	s.Contains(err.Error(), "invalid format 'xml'")
	s.Equal(0, s.Scanner.Scans())
}

func TestScanTestSuite(t *testing.T) {
	suite.Run(t, new(ScanTestSuite))
}
