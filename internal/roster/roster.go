// Package roster loads the static peer table a node is started with.
//
// A roster file has one peer per line:
//
//	# id   address      udp   tcp
//	alice  10.0.0.2     9001  9002
//
// Lines starting with '#' are comments. The line whose id matches the
// node's own id becomes the self record and is kept out of the peer list.
package roster

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sort"
	"strconv"
	"strings"
)

var (
	// ErrSelfNotFound is returned when no line carries the node's own id.
	ErrSelfNotFound = errors.New("self id not in roster")
	// ErrDuplicatePeer is returned when two lines share an id.
	ErrDuplicatePeer = errors.New("duplicate peer id")
	// ErrMalformedLine is returned for lines that do not parse.
	ErrMalformedLine = errors.New("malformed roster line")
)

// Peer is one immutable roster entry.
type Peer struct {
	ID      string
	IP      net.IP
	UDPPort uint16
	TCPPort uint16
}

// HeartbeatAddr returns the peer's UDP heartbeat address.
func (p Peer) HeartbeatAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: p.IP, Port: int(p.UDPPort)}
}

// ChatAddr returns the peer's TCP chat address as "ip:port".
func (p Peer) ChatAddr() string {
	return net.JoinHostPort(p.IP.String(), strconv.Itoa(int(p.TCPPort)))
}

func (p Peer) String() string {
	return fmt.Sprintf("%s@%s", p.ID, p.IP)
}

// Directory maps peer ids to roster entries. It is never mutated after
// Parse returns.
type Directory struct {
	self  Peer
	peers map[string]Peer
	order []string
}

// Self returns the node's own record.
func (d *Directory) Self() Peer { return d.self }

// Lookup returns the peer with the given id. Self is not a peer.
func (d *Directory) Lookup(id string) (Peer, bool) {
	p, ok := d.peers[id]
	return p, ok
}

// Peers returns every non-self peer, sorted by id.
func (d *Directory) Peers() []Peer {
	out := make([]Peer, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, d.peers[id])
	}
	return out
}

// Len returns the number of non-self peers.
func (d *Directory) Len() int { return len(d.order) }

// New builds a directory from already-parsed records.
func New(self Peer, peers []Peer) (*Directory, error) {
	d := &Directory{
		self:  self,
		peers: make(map[string]Peer, len(peers)),
	}
	for _, p := range peers {
		if p.ID == self.ID {
			return nil, fmt.Errorf("%w: %s", ErrDuplicatePeer, p.ID)
		}
		if _, dup := d.peers[p.ID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicatePeer, p.ID)
		}
		d.peers[p.ID] = p
		d.order = append(d.order, p.ID)
	}
	sort.Strings(d.order)
	return d, nil
}

// Load reads the roster file at path.
func Load(path, selfID string) (*Directory, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open roster: %w", err)
	}
	defer f.Close()

	d, err := Parse(f, selfID)
	if errors.Is(err, ErrSelfNotFound) {
		return nil, fmt.Errorf("can't find id %s in %s: %w", selfID, path, ErrSelfNotFound)
	}
	return d, err
}

// Parse reads roster lines from r.
func Parse(r io.Reader, selfID string) (*Directory, error) {
	var (
		self    Peer
		hasSelf bool
		peers   []Peer
		seen    = make(map[string]bool)
		lineNo  int
	)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		p, err := parseLine(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if seen[p.ID] {
			return nil, fmt.Errorf("line %d: %w: %s", lineNo, ErrDuplicatePeer, p.ID)
		}
		seen[p.ID] = true

		if p.ID == selfID {
			self, hasSelf = p, true
			continue
		}
		peers = append(peers, p)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read roster: %w", err)
	}
	if !hasSelf {
		return nil, fmt.Errorf("%w: %s", ErrSelfNotFound, selfID)
	}

	return New(self, peers)
}

func parseLine(line string) (Peer, error) {
	fields := strings.Fields(line)
	if len(fields) != 4 {
		return Peer{}, fmt.Errorf("%w: want 4 fields, got %d", ErrMalformedLine, len(fields))
	}

	ip := net.ParseIP(fields[1]).To4()
	if ip == nil {
		return Peer{}, fmt.Errorf("%w: %q is not an IPv4 address", ErrMalformedLine, fields[1])
	}
	udp, err := parsePort(fields[2])
	if err != nil {
		return Peer{}, err
	}
	tcp, err := parsePort(fields[3])
	if err != nil {
		return Peer{}, err
	}

	return Peer{ID: fields[0], IP: ip, UDPPort: udp, TCPPort: tcp}, nil
}

func parsePort(s string) (uint16, error) {
	n, err := strconv.ParseUint(s, 10, 16)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("%w: bad port %q", ErrMalformedLine, s)
	}
	return uint16(n), nil
}
