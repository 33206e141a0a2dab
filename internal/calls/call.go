// Package calls is the in-memory call model the streaming controller
// serves: calls owned by an app, their states, and the owner-side
// ServiceWrapper.
package calls

import (
	"github.com/RenatoCabral2022/callstream/internal/streaming"
)

// Call is an in-progress call. Its identity fields never change; the state
// is kept by the Manager.
type Call struct {
	id          string
	handle      string
	displayName string
	user        string
	owner       string
}

func (c *Call) ID() string                { return c.id }
func (c *Call) Handle() string            { return c.handle }
func (c *Call) CallerDisplayName() string { return c.displayName }
func (c *Call) AssociatedUser() string    { return c.user }

// Owner is the component name of the app that placed the call.
func (c *Call) Owner() string { return c.owner }

// NewCall describes a call to add to the Manager.
type NewCall struct {
	Handle      string `json:"handle"`
	DisplayName string `json:"displayName"`
	User        string `json:"user"`
	Owner       string `json:"owner"`
}

// Info is a point-in-time view of a call.
type Info struct {
	ID          string `json:"id"`
	Handle      string `json:"handle"`
	DisplayName string `json:"displayName,omitempty"`
	User        string `json:"user"`
	Owner       string `json:"owner"`
	State       string `json:"state"`
}

func info(c *Call, state streaming.CallState) Info {
	return Info{
		ID:          c.id,
		Handle:      c.handle,
		DisplayName: c.displayName,
		User:        c.user,
		Owner:       c.owner,
		State:       state.String(),
	}
}

var _ streaming.Call = (*Call)(nil)
