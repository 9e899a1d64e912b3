package socket

import (
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"solcheckout/pkg/metrics"
)

// ErrNotConnected is returned by SendObject without an open socket.
var ErrNotConnected = errors.New("socket not connected")

// State is the connection slice the UI renders.
type State struct {
	IsConnected    bool        `json:"isConnected"`
	Message        interface{} `json:"message"`
	ReconnectError bool        `json:"reconnectError"`
}

// Sender writes a JSON value to the live socket.
type Sender interface {
	WriteJSON(v interface{}) error
}

// Store holds the socket state. Mutations are the only writers.
type Store struct {
	mu        sync.RWMutex
	state     State
	sender    Sender
	observers map[int]func(State)
	nextObs   int
}

func NewStore() *Store {
	return &Store{observers: make(map[int]func(State))}
}

// State returns a snapshot.
func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Subscribe calls fn with the new state after every mutation that changes it.
func (s *Store) Subscribe(fn func(State)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.observers, id)
		s.mu.Unlock()
	}
}

func (s *Store) commit(mutate func(*State)) {
	s.mu.Lock()
	mutate(&s.state)
	snapshot := s.state
	observers := make([]func(State), 0, len(s.observers))
	for _, fn := range s.observers {
		observers = append(observers, fn)
	}
	s.mu.Unlock()

	for _, fn := range observers {
		fn(snapshot)
	}
}

// OnOpen marks the socket connected and keeps sender for SendObject.
func (s *Store) OnOpen(sender Sender) {
	s.commit(func(st *State) {
		st.IsConnected = true
		s.sender = sender
	})
	metrics.SetSocketConnected(true)
}

func (s *Store) OnClose() {
	s.commit(func(st *State) {
		st.IsConnected = false
		s.sender = nil
	})
	metrics.SetSocketConnected(false)
}

// OnError only logs.
func (s *Store) OnError(err error) {
	log.Error().Err(err).Msg("socket error")
}

// OnMessage keeps the last message received.
func (s *Store) OnMessage(message interface{}) {
	s.commit(func(st *State) {
		st.Message = message
	})
}

// OnReconnect only logs.
func (s *Store) OnReconnect(count int) {
	log.Info().Int("attempt", count).Msg("socket reconnecting")
}

func (s *Store) OnReconnectError() {
	s.commit(func(st *State) {
		st.ReconnectError = true
	})
}

// SendObject sends v as JSON on the live socket.
func (s *Store) SendObject(v interface{}) error {
	s.mu.RLock()
	sender := s.sender
	s.mu.RUnlock()

	if sender == nil {
		return ErrNotConnected
	}
	return sender.WriteJSON(v)
}
