package store

import (
	"context"
	"sync"

	"github.com/opd-ai/courier/wire"
)

// Memory is an in-memory implementation of every store contract. It
// backs single-process deployments and tests.
type Memory struct {
	mu       sync.RWMutex
	records  map[string]map[string]*MessageRecord // messageID -> deviceID -> record
	offline  []*wire.Envelope
	devices  map[string]map[string]DeviceEndpoint // appID -> deviceID -> device
	userDevs map[string][]string                  // appID \x00 userID -> deviceIDs
	apps     map[string]App
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		records:  make(map[string]map[string]*MessageRecord),
		devices:  make(map[string]map[string]DeviceEndpoint),
		userDevs: make(map[string][]string),
		apps:     make(map[string]App),
	}
}

// Persist implements RecordStore.
func (m *Memory) Persist(_ context.Context, rec *MessageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byDevice, ok := m.records[rec.MessageID]
	if !ok {
		byDevice = make(map[string]*MessageRecord)
		m.records[rec.MessageID] = byDevice
	}
	cp := *rec
	byDevice[rec.DeviceID] = &cp
	return nil
}

// MessageReceived implements RecordStore.
func (m *Memory) MessageReceived(_ context.Context, messageID, deviceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[messageID][deviceID]; ok {
		rec.State = StateDelivered
	}
	return nil
}

// ByMessage implements RecordStore.
func (m *Memory) ByMessage(_ context.Context, messageID string) ([]MessageRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []MessageRecord
	for _, rec := range m.records[messageID] {
		out = append(out, *rec)
	}
	return out, nil
}

// StoreMessage implements OfflineStore.
func (m *Memory) StoreMessage(_ context.Context, env *wire.Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offline = append(m.offline, env)
	return nil
}

// StoredMessages returns the envelopes stored for later delivery.
func (m *Memory) StoredMessages() []*wire.Envelope {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*wire.Envelope, len(m.offline))
	copy(out, m.offline)
	return out
}

// AddDevice registers a device for a user.
func (m *Memory) AddDevice(appID, userID string, dev DeviceEndpoint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byID, ok := m.devices[appID]
	if !ok {
		byID = make(map[string]DeviceEndpoint)
		m.devices[appID] = byID
	}
	byID[dev.DeviceID] = dev
	key := appID + "\x00" + userID
	m.userDevs[key] = append(m.userDevs[key], dev.DeviceID)
}

// AddApp registers an application entity.
func (m *Memory) AddApp(app App) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.apps[app.AppID] = app
}

// GetDevice implements DeviceRegistry.
func (m *Memory) GetDevice(_ context.Context, appID, deviceID string) (*DeviceEndpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	dev, ok := m.devices[appID][deviceID]
	if !ok {
		return nil, ErrNotFound
	}
	return &dev, nil
}

// DevicesForUser implements DeviceRegistry.
func (m *Memory) DevicesForUser(_ context.Context, appID, userID string) ([]DeviceEndpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []DeviceEndpoint
	for _, devID := range m.userDevs[appID+"\x00"+userID] {
		if dev, ok := m.devices[appID][devID]; ok {
			out = append(out, dev)
		}
	}
	return out, nil
}

// GetApp implements AppRegistry.
func (m *Memory) GetApp(_ context.Context, appID string) (*App, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	app, ok := m.apps[appID]
	if !ok {
		return nil, ErrNotFound
	}
	return &app, nil
}
