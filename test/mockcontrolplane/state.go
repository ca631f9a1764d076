package mockcontrolplane

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/orion-deck/orion-deck/pkg/models"
)

// User is a registered account.
type User struct {
	ID           int64
	Username     string
	PasswordHash []byte
	Role         string
}

// WorkerNode is one leasable node.
type WorkerNode struct {
	ID        int64
	Hostname  string
	IP        string
	SSHPort   int
	Status    string
	Allocated bool
}

// Rental is an active or released lease of a node.
type Rental struct {
	ID          int64
	NodeID      int64
	UserID      int64
	ClientUser  string
	SSHPassword string
	LeasedFrom  time.Time
	LeasedUntil time.Time
	Active      bool
}

// State manages the in-memory control-plane state.
type State struct {
	mu           sync.RWMutex
	users        map[string]*User
	nodes        map[int64]*WorkerNode
	rentals      map[int64]*Rental
	nextUserID   int64
	nextNodeID   int64
	nextRentalID int64
}

// NewState creates empty control-plane state.
func NewState() *State {
	return &State{
		users:        make(map[string]*User),
		nodes:        make(map[int64]*WorkerNode),
		rentals:      make(map[int64]*Rental),
		nextUserID:   1,
		nextNodeID:   1,
		nextRentalID: 1,
	}
}

// SeedDefaults registers a few alive nodes and a default admin account.
func (s *State) SeedDefaults() {
	for i := 0; i < 3; i++ {
		s.AddNode(fmt.Sprintf("worker-%d", i+1), "127.0.0.1", 2201+i)
	}
	_, _ = s.CreateUser("admin", "admin", "admin")
}

// AddNode registers a worker node and returns its id.
func (s *State) AddNode(hostname, ip string, sshPort int) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextNodeID
	s.nextNodeID++
	s.nodes[id] = &WorkerNode{
		ID:       id,
		Hostname: hostname,
		IP:       ip,
		SSHPort:  sshPort,
		Status:   models.StatusAlive,
	}
	return id
}

// CreateUser registers an account with a bcrypt-hashed password.
func (s *State) CreateUser(username, password, role string) (*User, error) {
	if username == "" || password == "" {
		return nil, fmt.Errorf("username and password required")
	}
	if role == "" {
		role = "user"
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[username]; exists {
		return nil, fmt.Errorf("user already exists")
	}
	u := &User{
		ID:           s.nextUserID,
		Username:     username,
		PasswordHash: hash,
		Role:         role,
	}
	s.nextUserID++
	s.users[username] = u
	return u, nil
}

// Authenticate checks a username/password pair.
func (s *State) Authenticate(username, password string) (*User, error) {
	s.mu.RLock()
	u, ok := s.users[username]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown user")
	}
	if err := bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)); err != nil {
		return nil, fmt.Errorf("wrong password")
	}
	return u, nil
}

// Rent allocates count free alive nodes to the user for durationHours.
// All-or-nothing: if fewer free nodes exist than requested, nothing is
// allocated.
func (s *State) Rent(user *User, durationHours, count int, password string) ([]models.AllocatedLease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var free []*WorkerNode
	for _, n := range s.nodes {
		if n.Status == models.StatusAlive && !n.Allocated {
			free = append(free, n)
		}
	}
	if len(free) < count {
		return nil, fmt.Errorf("not enough free workers (found %d)", len(free))
	}

	now := time.Now().UTC()
	until := now.Add(time.Duration(durationHours) * time.Hour)

	allocated := make([]models.AllocatedLease, 0, count)
	for _, n := range free[:count] {
		pass := password
		if pass == "" {
			pass = randomPassword(16)
		}

		r := &Rental{
			ID:          s.nextRentalID,
			NodeID:      n.ID,
			UserID:      user.ID,
			ClientUser:  user.Username,
			SSHPassword: pass,
			LeasedFrom:  now,
			LeasedUntil: until,
			Active:      true,
		}
		s.nextRentalID++
		s.rentals[r.ID] = r
		n.Allocated = true

		allocated = append(allocated, models.AllocatedLease{
			RentalID:    r.ID,
			HostIP:      n.IP,
			SSHPort:     n.SSHPort,
			ClientUser:  r.ClientUser,
			ClientPass:  pass,
			LeasedUntil: models.NewUTCTime(until),
		})
	}
	return allocated, nil
}

// Release ends a rental. Admins may release anyone's lease.
func (s *State) Release(rentalID int64, user *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rentals[rentalID]
	if !ok || !r.Active {
		return errNotFound
	}
	if user.Role != "admin" && r.UserID != user.ID {
		return errForbidden
	}

	r.Active = false
	if n, ok := s.nodes[r.NodeID]; ok {
		n.Allocated = false
	}
	return nil
}

// Extend lengthens an active rental.
func (s *State) Extend(rentalID int64, user *User, additionalHours int) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rentals[rentalID]
	if !ok {
		return time.Time{}, errNotFound
	}
	if user.Role != "admin" && r.UserID != user.ID {
		return time.Time{}, errForbidden
	}
	if !r.Active {
		return time.Time{}, fmt.Errorf("lease is not active")
	}

	r.LeasedUntil = r.LeasedUntil.Add(time.Duration(additionalHours) * time.Hour)
	return r.LeasedUntil, nil
}

// Password returns the SSH password of an active rental.
func (s *State) Password(rentalID int64, user *User) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rentals[rentalID]
	if !ok || !r.Active {
		return "", errNotFound
	}
	if user.Role != "admin" && r.UserID != user.ID {
		return "", errForbidden
	}
	return r.SSHPassword, nil
}

// NodesFor lists nodes visible to the user: admins see the whole fleet,
// plain users only nodes tied to one of their active rentals.
func (s *State) NodesFor(user *User) []models.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()

	activeByNode := make(map[int64]*Rental)
	for _, r := range s.rentals {
		if r.Active {
			activeByNode[r.NodeID] = r
		}
	}

	var out []models.Node
	for id := int64(1); id < s.nextNodeID; id++ {
		n, ok := s.nodes[id]
		if !ok {
			continue
		}
		r := activeByNode[id]
		if user.Role != "admin" && (r == nil || r.UserID != user.ID) {
			continue
		}

		node := models.Node{
			NodeID:    n.ID,
			Hostname:  n.Hostname,
			SSHPort:   n.SSHPort,
			Status:    n.Status,
			Allocated: n.Allocated,
		}
		if r != nil {
			node.Lease = &models.Lease{
				RentalID:    r.ID,
				UserID:      r.UserID,
				LeasedFrom:  models.NewUTCTime(r.LeasedFrom),
				LeasedUntil: models.NewUTCTime(r.LeasedUntil),
				Active:      true,
			}
		}
		out = append(out, node)
	}
	return out
}

// Reset drops all nodes and rentals, keeping accounts.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes = make(map[int64]*WorkerNode)
	s.rentals = make(map[int64]*Rental)
	s.nextNodeID = 1
	s.nextRentalID = 1
}

const passwordAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func randomPassword(length int) string {
	buf := make([]byte, length)
	for i := range buf {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(passwordAlphabet))))
		if err != nil {
			// crypto/rand only fails when the platform source is broken
			panic(err)
		}
		buf[i] = passwordAlphabet[n.Int64()]
	}
	return string(buf)
}
