package model

import "time"

// SinkKind selects one of the supported sink variants.
type SinkKind string

const (
	SinkWebhook SinkKind = "webhook"
	SinkKafka   SinkKind = "kafka"
	SinkPush    SinkKind = "push"
)

func (k SinkKind) String() string { return string(k) }

// Valid reports whether the kind is one of the closed set.
func (k SinkKind) Valid() bool {
	switch k {
	case SinkWebhook, SinkKafka, SinkPush:
		return true
	default:
		return false
	}
}

// SinkTarget describes one external destination for fanned-out events.
// A tenant may configure any number of targets; each is delivered to
// independently.
type SinkTarget struct {
	Name        string        `json:"name"`
	Kind        SinkKind      `json:"kind"`
	URL         string        `json:"url,omitempty"`     // webhook
	Topic       string        `json:"topic,omitempty"`   // kafka
	Channel     string        `json:"channel,omitempty"` // push
	Secret      string        `json:"secret,omitempty"`  // webhook signature key
	Timeout     time.Duration `json:"timeout,omitempty"`
	MaxAttempts int           `json:"max_attempts,omitempty"`
}

// Tenant is the provisioning-layer view of one isolated client instance.
// The registry owns the mapping from tenant id to its running supervisor.
type Tenant struct {
	ID       string       `json:"id"`
	Sinks    []SinkTarget `json:"sinks"`
	Features []string     `json:"features,omitempty"`
}
