package network

import (
	"github.com/stretchr/testify/mock"
)

// MockLogger is a testify mock of log.Logger.
type MockLogger struct {
	mock.Mock
}

func (m *MockLogger) Infof(format string, v ...interface{})  { m.Called(format, v) }
func (m *MockLogger) Warnf(format string, v ...interface{})  { m.Called(format, v) }
func (m *MockLogger) Printf(format string, v ...interface{}) { m.Called(format, v) }
func (m *MockLogger) Donef(format string, v ...interface{})  { m.Called(format, v) }
func (m *MockLogger) Debugf(format string, v ...interface{}) { m.Called(format, v) }
func (m *MockLogger) Errorf(format string, v ...interface{}) { m.Called(format, v) }
func (m *MockLogger) TInfof(format string, v ...interface{}) { m.Called(format, v) }
func (m *MockLogger) TWarnf(format string, v ...interface{}) { m.Called(format, v) }
func (m *MockLogger) TPrintf(format string, v ...interface{}) {
	m.Called(format, v)
}
func (m *MockLogger) TDonef(format string, v ...interface{})  { m.Called(format, v) }
func (m *MockLogger) TDebugf(format string, v ...interface{}) { m.Called(format, v) }
func (m *MockLogger) TErrorf(format string, v ...interface{}) { m.Called(format, v) }
func (m *MockLogger) Println()                                { m.Called() }
func (m *MockLogger) EnableDebugLog(enable bool)              { m.Called(enable) }
