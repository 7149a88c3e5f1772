package channels

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// ErrNoChannels is returned by StartAll when nothing is registered.
var ErrNoChannels = errors.New("no channels enabled")

// Manager owns the lifecycle of all registered channels.
type Manager struct {
	channels map[string]Channel
	order    []string
	mu       sync.RWMutex
}

// NewManager creates an empty channel manager.
func NewManager() *Manager {
	return &Manager{channels: make(map[string]Channel)}
}

// RegisterChannel adds a channel. Channels start in registration order.
func (m *Manager) RegisterChannel(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.channels[ch.Name()]; !exists {
		m.order = append(m.order, ch.Name())
	}
	m.channels[ch.Name()] = ch
}

// StartAll starts every registered channel. A channel that fails to start is
// logged and skipped; the others keep running. The joined start errors are
// returned so callers can decide whether a failure is fatal.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.channels) == 0 {
		slog.Warn("no channels enabled")
		return ErrNoChannels
	}

	slog.Info("starting all channels")

	var errs []error
	for _, name := range m.order {
		slog.Info("starting channel", "channel", name)
		if err := m.channels[name].Start(ctx); err != nil {
			slog.Error("failed to start channel", "channel", name, "error", err)
			errs = append(errs, fmt.Errorf("start %s: %w", name, err))
		}
	}

	slog.Info("all channels started")
	return errors.Join(errs...)
}

// StopAll stops channels in reverse start order.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	slog.Info("stopping all channels")

	var errs []error
	for i := len(m.order) - 1; i >= 0; i-- {
		name := m.order[i]
		slog.Info("stopping channel", "channel", name)
		if err := m.channels[name].Stop(ctx); err != nil {
			slog.Error("error stopping channel", "channel", name, "error", err)
			errs = append(errs, fmt.Errorf("stop %s: %w", name, err))
		}
	}

	slog.Info("all channels stopped")
	return errors.Join(errs...)
}

// GetStatus returns the running state of every channel.
func (m *Manager) GetStatus() map[string]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status := make(map[string]bool, len(m.channels))
	for name, ch := range m.channels {
		status[name] = ch.IsRunning()
	}
	return status
}

// GetEnabledChannels returns the names of all registered channels, sorted.
func (m *Manager) GetEnabledChannels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
