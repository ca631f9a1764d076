package models

import (
	"fmt"
	"time"
)

// NodeStatus values reported by the control plane. The set is open ended;
// the client treats unknown values as opaque strings.
const (
	StatusAlive   = "alive"
	StatusUnknown = "unknown"
)

// Node is one leasable worker as reported by the control plane. The client
// holds a read-only cached copy; the control plane is the source of truth.
type Node struct {
	NodeID    int64  `json:"node_id"`
	Hostname  string `json:"hostname"`
	SSHPort   int    `json:"ssh_port"`
	Status    string `json:"status"`
	Allocated bool   `json:"allocated"`
	Lease     *Lease `json:"lease"`
}

// Leased reports whether the node should be rendered as leased. The
// allocated flag is authoritative: an allocated node with no lease object
// is leased-without-detail, not free.
func (n Node) Leased() bool {
	return n.Allocated || n.Lease != nil
}

// Equal reports deep value equality with another node, including lease
// contents. Used by the reconciler to decide whether a view patch is needed.
func (n Node) Equal(o Node) bool {
	if n.NodeID != o.NodeID ||
		n.Hostname != o.Hostname ||
		n.SSHPort != o.SSHPort ||
		n.Status != o.Status ||
		n.Allocated != o.Allocated {
		return false
	}
	if (n.Lease == nil) != (o.Lease == nil) {
		return false
	}
	if n.Lease == nil {
		return true
	}
	return n.Lease.RentalID == o.Lease.RentalID &&
		n.Lease.UserID == o.Lease.UserID &&
		n.Lease.Active == o.Lease.Active &&
		n.Lease.LeasedFrom.Time.Equal(o.Lease.LeasedFrom.Time) &&
		n.Lease.LeasedUntil.Time.Equal(o.Lease.LeasedUntil.Time)
}

// Lease is a time-bounded exclusive allocation of a node to a renter.
type Lease struct {
	RentalID    int64   `json:"rental_id"`
	UserID      int64   `json:"user_id,omitempty"`
	LeasedFrom  UTCTime `json:"leased_from,omitempty"`
	LeasedUntil UTCTime `json:"leased_until"`
	Active      bool    `json:"active"`
}

// AllocatedLease is one entry of a successful rent response: the connection
// details for a freshly provisioned node. The password is returned exactly
// once here; afterwards it is only available through the reveal endpoint.
type AllocatedLease struct {
	RentalID    int64   `json:"rental_id"`
	HostIP      string  `json:"host_ip"`
	SSHPort     int     `json:"ssh_port"`
	ClientUser  string  `json:"client_user"`
	ClientPass  string  `json:"client_pass"`
	LeasedUntil UTCTime `json:"leased_until"`
}

// SSHCommand returns a ready-to-use connection command for the lease.
func (a AllocatedLease) SSHCommand() string {
	return fmt.Sprintf("ssh -p %d %s@%s", a.SSHPort, a.ClientUser, a.HostIP)
}

// UTCTime is a timestamp that tolerates the control plane's two wire
// shapes: full RFC3339 and a bare ISO 8601 datetime with no zone suffix,
// which the control plane emits for UTC values.
type UTCTime struct {
	time.Time
}

const bareISOFormat = "2006-01-02T15:04:05"

// NewUTCTime wraps a time.Time, normalizing to UTC.
func NewUTCTime(t time.Time) UTCTime {
	return UTCTime{t.UTC()}
}

// UnmarshalJSON parses RFC3339 first, then the zone-less form as UTC.
func (u *UTCTime) UnmarshalJSON(data []byte) error {
	s := string(data)
	if s == "null" || s == `""` {
		u.Time = time.Time{}
		return nil
	}
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return fmt.Errorf("invalid timestamp %s", s)
	}
	s = s[1 : len(s)-1]

	if t, err := time.Parse(time.RFC3339, s); err == nil {
		u.Time = t.UTC()
		return nil
	}
	t, err := time.ParseInLocation(bareISOFormat, s, time.UTC)
	if err != nil {
		return fmt.Errorf("invalid timestamp %q", s)
	}
	u.Time = t
	return nil
}

// MarshalJSON emits RFC3339 in UTC.
func (u UTCTime) MarshalJSON() ([]byte, error) {
	if u.Time.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + u.Time.UTC().Format(time.RFC3339) + `"`), nil
}

// LocalString renders the timestamp in the viewer's time zone.
func (u UTCTime) LocalString() string {
	return u.Time.Local().Format("2006-01-02 15:04 MST")
}
