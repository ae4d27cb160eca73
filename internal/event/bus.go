package event

import (
	"strings"
	"sync"
)

const (
	EventCodeRedeemed     = "code.redeemed"
	EventBalanceMilestone = "balance.milestone"
)

type CodeRedeemedPayload struct {
	CodeID   string  `json:"code_id"`
	CallerID string  `json:"caller_id"`
	IssuerID string  `json:"issuer_id"`
	Points   int     `json:"points"`
	Discount float64 `json:"discount"`
}

type BalanceMilestonePayload struct {
	CallerID  string `json:"caller_id"`
	IssuerID  string `json:"issuer_id"`
	Balance   int64  `json:"balance"`
	Threshold int64  `json:"threshold"`
}

// Bus is the in-process fan-out for fire-and-forget events. Handlers run
// on their own goroutines and must never be relied on for correctness.
type Bus struct {
	handlers sync.Map
	mu       sync.Mutex
}

func NewBus() *Bus {
	return &Bus{}
}

func (b *Bus) Subscribe(event string, handler func(payload any)) {
	if b == nil || handler == nil {
		return
	}

	eventName := strings.TrimSpace(event)
	if eventName == "" {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	handlers := make([]func(payload any), 0, 1)
	if current, ok := b.handlers.Load(eventName); ok {
		if casted, valid := current.([]func(payload any)); valid {
			handlers = append(handlers, casted...)
		}
	}
	handlers = append(handlers, handler)
	b.handlers.Store(eventName, handlers)
}

func (b *Bus) Publish(event string, payload any) {
	if b == nil {
		return
	}

	eventName := strings.TrimSpace(event)
	if eventName == "" {
		return
	}

	current, ok := b.handlers.Load(eventName)
	if !ok {
		return
	}

	handlers, ok := current.([]func(payload any))
	if !ok || len(handlers) == 0 {
		return
	}

	for _, handler := range handlers {
		if handler == nil {
			continue
		}
		go handler(payload)
	}
}
