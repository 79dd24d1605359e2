package main

import (
	"bytes"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/bleanalyzer/internal/conntable"
	"github.com/srg/bleanalyzer/internal/device"
	"github.com/srg/bleanalyzer/internal/testutils"
	"github.com/srg/bleanalyzer/pkg/config"
	"github.com/stretchr/testify/suite"
)

// Test device addresses for consistent fake device identification
const (
	TestDeviceAddress1 = "AA:BB:CC:DD:EE:01"
	TestDeviceAddress2 = "AA:BB:CC:DD:EE:02"
)

// commandResult is what one rootCmd execution produced.
type commandResult struct {
	stdout string
	stderr string
	err    error
}

// CommandTestSuite runs rootCmd against a fake adapter.
// Every cmd/bleanalyzer suite embeds it.
type CommandTestSuite struct {
	suite.Suite

	Scanner   *testutils.FakeScanner
	Connector *testutils.FakeConnector

	// Script is applied to every transport the fake connector hands out.
	Script func(*testutils.FakeTransport)

	originalOpen func(*logrus.Logger, *config.Config) (device.ScanningDevice, conntable.Connector, error)
}

func (s *CommandTestSuite) SetupSuite() {
	s.originalOpen = openPlatform
}

func (s *CommandTestSuite) TearDownSuite() {
	openPlatform = s.originalOpen
}

func (s *CommandTestSuite) SetupTest() {
	s.Script = nil
	s.Scanner = testutils.NewFakeScanner()
	s.Connector = &testutils.FakeConnector{
		AutoConnect: true,
		Script: func(tr *testutils.FakeTransport) {
			if s.Script != nil {
				s.Script(tr)
			}
		},
	}
	openPlatform = func(*logrus.Logger, *config.Config) (device.ScanningDevice, conntable.Connector, error) {
		return s.Scanner, s.Connector, nil
	}

	// cobra keeps flag values between executions
	scanDuration, scanSelect, scanTrack = 0, false, ""
	monitorDuration = 0
	notifyIndicate, notifyOff = false, false
	for _, name := range []string{"log-level", "config", "format"} {
		s.Require().NoError(rootCmd.PersistentFlags().Set(name, ""))
	}
	s.Require().NoError(rootCmd.PersistentFlags().Set("verbose", "false"))
}

// ExecuteCommand runs rootCmd with args and returns what it wrote to stdout.
// Logs go to a separate buffer.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, error) {
	r := <-s.ExecuteAsync(args...)
	return r.stdout, r.err
}

// ExecuteAsync runs rootCmd in the background.
func (s *CommandTestSuite) ExecuteAsync(args ...string) <-chan commandResult {
	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	rootCmd.SetArgs(args)

	res := make(chan commandResult, 1)
	go func() {
		err := rootCmd.Execute()
		res <- commandResult{stdout: stdout.String(), stderr: stderr.String(), err: err}
	}()
	return res
}

// Await waits for a background execution to finish.
func (s *CommandTestSuite) Await(res <-chan commandResult, timeout time.Duration) commandResult {
	select {
	case r := <-res:
		return r
	case <-time.After(timeout):
		s.FailNow("command did not finish in time")
		return commandResult{}
	}
}

// StartScanCommand runs args and waits until the fake scanner is scanning.
func (s *CommandTestSuite) StartScanCommand(args ...string) <-chan commandResult {
	res := s.ExecuteAsync(args...)
	s.Require().True(s.Scanner.WaitStarted(2*time.Second), "scan MUST start")
	return res
}

// Emit delivers advertisements to the running scan.
func (s *CommandTestSuite) Emit(ads ...*testutils.AdvertisementBuilder) {
	for _, b := range ads {
		s.Require().True(s.Scanner.Emit(b.Build()), "scan MUST be running")
	}
}

// WriteConfig stores a YAML configuration file and returns its path.
func (s *CommandTestSuite) WriteConfig(yaml string) string {
	path := filepath.Join(s.T().TempDir(), "bleanalyzer.yaml")
	s.Require().NoError(os.WriteFile(path, []byte(yaml), 0o600))
	return path
}
