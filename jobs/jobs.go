// Package jobs runs archive packaging in the background and broadcasts its
// progress to websocket clients.
package jobs

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Subscription is a set of packet kinds a client wants to receive.
type Subscription uint32

// Possible subscription flags. A client subscribed to SubscriptionAll only
// receives packets broadcast to every client.
const (
	SubscriptionState = Subscription(1 << iota)
	SubscriptionProgress
	SubscriptionAll = Subscription(0)
)

// Possible packet types, sent as the first byte of every message.
const (
	PacketState = iota + 1
	PacketProgress
)

// Possible job states.
const (
	StateIdle = iota + 1
	StatePacking
	StateFinished
	StateFailed
)

// AllStates lists every job state.
var AllStates = []int{StateIdle, StatePacking, StateFinished, StateFailed}

// WebsocketControl is the message a client sends to (re)subscribe.
type WebsocketControl struct {
	ID           string `json:"id"`
	Subscription uint32 `json:"subscription"`
}

// IsSubscribedTo returns whether or not the client subscription is subscribed
// to the given subscription.
func (s Subscription) IsSubscribedTo(sub Subscription) bool {
	return (s & sub) == sub
}

// Client is a websocket connected client.
type Client struct {
	mutex         *sync.Mutex
	id            string
	conn          *websocket.Conn
	subscriptions Subscription
}

// State is the state of the current or last packaging job.
type State struct {
	Title   string
	State   int
	Input   string
	Output  string
	Frame   int
	Total   int
	Error   string
	Started time.Time

	Context context.Context
	Cancel  func()
}

type stateJSON struct {
	Title   string `json:"title"`
	State   int    `json:"state"`
	Input   string `json:"input"`
	Output  string `json:"output"`
	Frame   int    `json:"frame"`
	Total   int    `json:"total"`
	Error   string `json:"error,omitempty"`
	Started int64  `json:"started"`
}

func (s *State) MarshalJSON() ([]byte, error) {
	var started int64
	if !s.Started.IsZero() {
		started = s.Started.Unix()
	}

	return json.Marshal(stateJSON{
		Title:   s.Title,
		State:   s.State,
		Input:   s.Input,
		Output:  s.Output,
		Frame:   s.Frame,
		Total:   s.Total,
		Error:   s.Error,
		Started: started,
	})
}

// NewEmptyState returns a state that changes nothing when passed to
// UpdateWith.
func NewEmptyState() State {
	return State{
		Frame: -1,
		Total: -1,
	}
}

// UpdateWith merges the set fields of new into s. Entering StatePacking
// clears the previous job's error.
func (s *State) UpdateWith(new State) {
	if new.Title != "" {
		s.Title = new.Title
	}
	if new.State != 0 {
		s.State = new.State
		if new.State == StatePacking {
			s.Error = ""
		}
	}
	if new.Input != "" {
		s.Input = new.Input
	}
	if new.Output != "" {
		s.Output = new.Output
	}
	if new.Frame >= 0 {
		s.Frame = new.Frame
	}
	if new.Total >= 0 {
		s.Total = new.Total
	}
	if new.Error != "" {
		s.Error = new.Error
	}
	if !new.Started.IsZero() {
		s.Started = new.Started
	}
	if new.Context != nil {
		s.Context = new.Context
	}
	if new.Cancel != nil {
		s.Cancel = new.Cancel
	}
}

// Broadcast sends data to every client subscribed to sub. SubscriptionAll
// reaches every client.
func (m *Manager) Broadcast(sub Subscription, data ...[]byte) {
	m.clientsMutex.Lock()
	clientCopy := make([]*Client, len(m.clients))
	copy(clientCopy, m.clients)
	m.clientsMutex.Unlock()

	for _, client := range clientCopy {
		client.mutex.Lock()
		if client.subscriptions.IsSubscribedTo(sub) {
			for _, d := range data {
				client.conn.WriteMessage(websocket.BinaryMessage, d)
			}
		}
		client.mutex.Unlock()
	}
}

// HandleConn serves a websocket client until it disconnects.
func (m *Manager) HandleConn(conn *websocket.Conn) {
	m.clientsMutex.Lock()
	client := &Client{
		mutex:         new(sync.Mutex),
		conn:          conn,
		subscriptions: SubscriptionState,
	}
	m.clients = append(m.clients, client)
	m.clientsMutex.Unlock()

	defer func() {
		m.clientsMutex.Lock()
		defer m.clientsMutex.Unlock()

		for i, c := range m.clients {
			if c == client {
				m.clients = append(m.clients[:i], m.clients[i+1:]...)
				return
			}
		}
	}()

	for {
		msgType, data, err := client.conn.ReadMessage()
		if err != nil {
			log.Println("conscript jobs: client disconnected:", err)
			return
		}

		if msgType != websocket.BinaryMessage && msgType != websocket.TextMessage {
			continue
		}

		var controlMsg WebsocketControl
		err = json.Unmarshal(data, &controlMsg)
		if err != nil {
			log.Println("conscript jobs: failed to unmarshal control message:", err)
			continue
		}

		client.mutex.Lock()
		client.id = controlMsg.ID
		client.subscriptions = Subscription(controlMsg.Subscription)
		client.mutex.Unlock()

		if Subscription(controlMsg.Subscription).IsSubscribedTo(SubscriptionState) {
			state := m.State()
			d, err := state.MarshalJSON()
			if err != nil {
				log.Println("conscript jobs: HandleConn: error encoding state JSON:", err)
				continue
			}

			client.mutex.Lock()
			client.conn.WriteMessage(websocket.BinaryMessage, append([]byte{PacketState}, d...))
			client.mutex.Unlock()
		}
	}
}

// WaitForState blocks until the job reaches one of states or ctx is done.
func (m *Manager) WaitForState(ctx context.Context, states ...int) (State, bool) {
	wrappedCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		<-wrappedCtx.Done()
		m.stateCond.L.Lock()
		defer m.stateCond.L.Unlock()
		m.stateCond.Broadcast()
	}()

	m.stateCond.L.Lock()
	defer m.stateCond.L.Unlock()

	for {
		for _, state := range states {
			if m.state.State == state {
				return m.state, true
			}
		}
		if ctx.Err() != nil {
			return State{}, false
		}
		m.stateCond.Wait()
	}
}

// UpdateState merges state into the current state if the current state is
// one of requiredStates, and broadcasts the result.
func (m *Manager) UpdateState(state State, requiredStates []int) bool {
	m.stateCond.L.Lock()

	matched := false
	for _, required := range requiredStates {
		if m.state.State == required {
			matched = true
		}
	}

	if !matched {
		m.stateCond.L.Unlock()
		return false
	}

	prevState := m.state.State
	m.state.UpdateWith(state)
	m.stateCond.Broadcast()
	newState := m.state
	m.stateCond.L.Unlock()

	if newState.State != prevState {
		log.Printf("conscript jobs: state changed from %d to %d", prevState, newState.State)
	}

	// state changes reach every client, frame updates only state subscribers
	sub := SubscriptionState
	if newState.State != prevState {
		sub = SubscriptionAll
	}

	d, err := newState.MarshalJSON()
	if err == nil {
		m.Broadcast(sub, append([]byte{PacketState}, d...))
	} else {
		log.Println("conscript jobs: error encoding state JSON:", err)
	}

	return true
}

// State returns a copy of the current state.
func (m *Manager) State() State {
	m.stateCond.L.Lock()
	defer m.stateCond.L.Unlock()

	return m.state
}
