package services

import (
	"duocall/internal/core/domain"
	"duocall/internal/core/ports"
)

// NopMetrics discards every measurement. Used when monitoring is
// disabled and in tests.
type NopMetrics struct{}

var _ ports.MetricsRecorder = NopMetrics{}

func (NopMetrics) SessionStarted()                       {}
func (NopMetrics) SessionEnded(domain.SessionState)      {}
func (NopMetrics) MessageRelayed(domain.MessageType)     {}
func (NopMetrics) StaleMessageDropped()                  {}
func (NopMetrics) StoreOperationFailed(string)           {}
func (NopMetrics) NegotiationCompleted(float64)          {}
func (NopMetrics) RTTSample(float64)                     {}
