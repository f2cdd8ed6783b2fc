package chatws

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
	chatcli "github.com/serverless-chat/chat-go-utils/chat-cli"
	"github.com/serverless-chat/chat-go-utils/chat-ws/connectiondao"
	"github.com/serverless-chat/chat-go-utils/chat-ws/publish"
)

var nopLogger = zerolog.New(io.Discard)

// fakeNotifier records deliveries; targets listed in errs fail with that error.
type fakeNotifier struct {
	mu    sync.Mutex
	errs  map[string]error
	sent  map[string][][]byte
	order []string

	// block, when set, runs inside Send before the outcome is decided.
	block func(ctx context.Context, connectionID string) error
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{
		errs: map[string]error{},
		sent: map[string][][]byte{},
	}
}

func (f *fakeNotifier) Send(ctx context.Context, connectionID string, payload []byte) error {
	if f.block != nil {
		if err := f.block(ctx, connectionID); err != nil {
			return err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.order = append(f.order, connectionID)
	if err, ok := f.errs[connectionID]; ok {
		return err
	}
	f.sent[connectionID] = append(f.sent[connectionID], payload)
	return nil
}

func (f *fakeNotifier) fail(connectionID string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[connectionID] = err
}

func (f *fakeNotifier) attempted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.order...)
}

func (f *fakeNotifier) received(connectionID string) []Roster {
	f.mu.Lock()
	defer f.mu.Unlock()
	var rosters []Roster
	for _, payload := range f.sent[connectionID] {
		roster, err := DecodeRoster(payload)
		if err != nil {
			panic(err)
		}
		rosters = append(rosters, roster)
	}
	return rosters
}

func (f *fakeNotifier) last(connectionID string) Roster {
	rosters := f.received(connectionID)
	if len(rosters) == 0 {
		return nil
	}
	return rosters[len(rosters)-1]
}

func (f *fakeNotifier) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = map[string][][]byte{}
	f.order = nil
}

// fakeFactory hands out the notifier registered for an endpoint in byEndpoint,
// or notifier otherwise.
type fakeFactory struct {
	mu         sync.Mutex
	notifier   Notifier
	byEndpoint map[string]Notifier
	endpoints  []string
}

func (f *fakeFactory) Notifier(endpoint string) Notifier {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.endpoints = append(f.endpoints, endpoint)
	if n, ok := f.byEndpoint[endpoint]; ok {
		return n
	}
	return f.notifier
}

// faultyStore wraps the in-memory store with injectable failures.
type faultyStore struct {
	*connectiondao.Memory

	putErr    error
	deleteErr error
	scanErr   error
}

func newFaultyStore() *faultyStore {
	return &faultyStore{Memory: connectiondao.NewMemory()}
}

func (s *faultyStore) Put(ctx context.Context, conn connectiondao.Connection) error {
	if s.putErr != nil {
		return s.putErr
	}
	return s.Memory.Put(ctx, conn)
}

func (s *faultyStore) Delete(ctx context.Context, connectionID string) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	return s.Memory.Delete(ctx, connectionID)
}

func (s *faultyStore) Scan(ctx context.Context) ([]connectiondao.Connection, error) {
	if s.scanErr != nil {
		return nil, s.scanErr
	}
	return s.Memory.Scan(ctx)
}

func (s *faultyStore) ids() []string {
	conns, err := s.Memory.Scan(context.Background())
	if err != nil {
		panic(err)
	}
	var ids []string
	for _, conn := range conns {
		ids = append(ids, conn.ConnectionID)
	}
	return ids
}

type fakeEvents struct {
	mu     sync.Mutex
	events []publish.Event
	err    error
}

func (f *fakeEvents) Send(_ context.Context, topic string, event publish.Event) error {
	if topic != RosterTopic {
		return fmt.Errorf("unexpected topic %v", topic)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return f.err
}

func (f *fakeEvents) kinds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var kinds []string
	for _, e := range f.events {
		kinds = append(kinds, e.Kind+":"+e.ConnectionID)
	}
	return kinds
}

type fakeMetrics struct {
	mu     sync.Mutex
	events []chatcli.MetricName
	gauges map[chatcli.MetricName]float64
	timed  []chatcli.MetricName
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{gauges: map[chatcli.MetricName]float64{}}
}

func (f *fakeMetrics) Event(_ context.Context, name chatcli.MetricName, _ ...map[chatcli.DimensionName]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, name)
}

func (f *fakeMetrics) Timing(_ context.Context, name chatcli.MetricName, _ time.Time, _ ...map[chatcli.DimensionName]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.timed = append(f.timed, name)
}

func (f *fakeMetrics) Gauge(_ context.Context, name chatcli.MetricName, value float64, _ ...map[chatcli.DimensionName]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gauges[name] += value
}

func newTestRegistry(store ConnectionStore, notifier Notifier) *Registry {
	return &Registry{
		Connections: store,
		Notifiers:   &fakeFactory{notifier: notifier},
		Logger:      nopLogger,
		Endpoint:    "https://example.execute-api.us-east-2.amazonaws.com/test",
	}
}

func seed(store ConnectionStore, peers ...Peer) {
	for _, p := range peers {
		if err := store.Put(context.Background(), connectiondao.Connection{ConnectionID: p.ConnectionID, Nickname: p.Nickname}); err != nil {
			panic(err)
		}
	}
}
