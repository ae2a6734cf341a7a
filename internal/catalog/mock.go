package catalog

import (
	"github.com/stretchr/testify/mock"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockRepository) CreateAccount(params CreateAccountParams) (User, error) {
	args := m.Called(params)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockRepository) GetAccountById(accountId int) (User, error) {
	args := m.Called(accountId)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockRepository) GetAccountByEmail(email string) (User, error) {
	args := m.Called(email)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockRepository) CreateRoom(params CreateRoomParams) (Room, error) {
	args := m.Called(params)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockRepository) GetRoomByExternalId(externalId string) (Room, error) {
	args := m.Called(externalId)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockRepository) DeleteRoom(id int) error {
	args := m.Called(id)
	return args.Error(0)
}
func (m *MockRepository) GetTrack(trackId string) (Track, error) {
	args := m.Called(trackId)
	return args.Get(0).(Track), args.Error(1)
}
func (m *MockRepository) RecordPresence(roomId, accountId int, joined bool) error {
	args := m.Called(roomId, accountId, joined)
	return args.Error(0)
}
func (m *MockRepository) ListPresence(roomId, limit int) ([]PresenceEvent, error) {
	args := m.Called(roomId, limit)
	return args.Get(0).([]PresenceEvent), args.Error(1)
}
