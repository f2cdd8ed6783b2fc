package chatws

import (
	"encoding/json"
	"fmt"

	"github.com/serverless-chat/chat-go-utils/chat-ws/connectiondao"
)

// Peer is the public view of a connection sent to clients.
type Peer struct {
	ConnectionID string `json:"connectionId"`
	Nickname     string `json:"nickname"`
}

// Roster is the set of connected peers. Order is not significant.
type Roster []Peer

func RosterOf(conns []connectiondao.Connection) Roster {
	roster := make(Roster, 0, len(conns))
	for _, conn := range conns {
		roster = append(roster, Peer{ConnectionID: conn.ConnectionID, Nickname: conn.Nickname})
	}
	return roster
}

// Targets returns every connection id in the roster except the excluded ones.
func (r Roster) Targets(exclude ...string) []string {
	skip := make(map[string]struct{}, len(exclude))
	for _, id := range exclude {
		skip[id] = struct{}{}
	}
	var targets []string
	for _, p := range r {
		if _, ok := skip[p.ConnectionID]; ok {
			continue
		}
		targets = append(targets, p.ConnectionID)
	}
	return targets
}

// Without returns a copy of the roster minus the given connection.
func (r Roster) Without(connectionID string) Roster {
	out := make(Roster, 0, len(r))
	for _, p := range r {
		if p.ConnectionID != connectionID {
			out = append(out, p)
		}
	}
	return out
}

// Encode serializes the roster as a JSON array; an empty roster is [].
func (r Roster) Encode() ([]byte, error) {
	if r == nil {
		r = Roster{}
	}
	b, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshalling roster: %w", err)
	}
	return b, nil
}

func DecodeRoster(data []byte) (Roster, error) {
	var r Roster
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("invalid roster payload: %w", err)
	}
	return r, nil
}
