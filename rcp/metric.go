package rcp

import (
	"sync/atomic"
)

// InterfaceMetrics contains atomic metrics for the RCP link.
//
// Counters are monotonic non-decreasing across the life of the link and are
// never reset on Disconnected-to-Connected transitions. Metrics can be used as
// the value of a prometheus CounterFunc.
type InterfaceMetrics struct {
	// TxFrameCount indicates the number of frames sent to the RCP.
	TxFrameCount atomic.Uint64
	// TxFrameByteCount indicates the number of frame bytes sent to the RCP.
	TxFrameByteCount atomic.Uint64
	// RxFrameCount indicates the number of frames received from the RCP.
	RxFrameCount atomic.Uint64
	// RxFrameByteCount indicates the number of frame bytes received from the RCP.
	RxFrameByteCount atomic.Uint64
	// FrameErrCount indicates the number of frame send/receive errors.
	FrameErrCount atomic.Uint64
	// UnexpectedDeathCount indicates the number of death notifications
	// received for the RCP endpoint.
	UnexpectedDeathCount atomic.Uint64
	// HardwareResetCount indicates the number of hardware reset attempts.
	HardwareResetCount atomic.Uint64
}

func (m *InterfaceMetrics) incTxFrame(byteCount int) {
	m.TxFrameCount.Add(1)
	m.TxFrameByteCount.Add(uint64(byteCount)) //nolint:gosec
}

func (m *InterfaceMetrics) incRxFrame(byteCount int) {
	m.RxFrameCount.Add(1)
	m.RxFrameByteCount.Add(uint64(byteCount)) //nolint:gosec
}

func (m *InterfaceMetrics) incFrameErrCount() {
	m.FrameErrCount.Add(1)
}

func (m *InterfaceMetrics) incUnexpectedDeathCount() {
	m.UnexpectedDeathCount.Add(1)
}

func (m *InterfaceMetrics) incHardwareResetCount() {
	m.HardwareResetCount.Add(1)
}
