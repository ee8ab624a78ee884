// Package registry loads the static client registry: the security server
// owner, the central monitoring client, the subsystems registered on this
// server and the bcrypt-hashed tokens that authorize record producers.
package registry

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"github.com/meshgate/opmond/internal/models"
)

var (
	ErrUnknownClient = errors.New("client not present in registry")
	ErrInvalidToken  = errors.New("producer token not recognized")
)

type fileFormat struct {
	Owner                   string   `yaml:"owner"`
	CentralMonitoringClient string   `yaml:"central_monitoring_client"`
	Clients                 []string `yaml:"clients"`
	ProducerTokens          []struct {
		Name string `yaml:"name"`
		Hash string `yaml:"hash"`
	} `yaml:"producer_tokens"`
}

type producerToken struct {
	name string
	hash []byte
}

// Registry is immutable after Load and safe for concurrent readers.
type Registry struct {
	owner             models.ClientID
	centralMonitoring models.ClientID
	clients           map[string]models.ClientID
	tokens            []producerToken
}

func Load(path string) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading registry: %w", err)
	}
	return Parse(raw)
}

func Parse(raw []byte) (*Registry, error) {
	var file fileFormat
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parsing registry: %w", err)
	}

	owner, err := models.ParseClientID(file.Owner)
	if err != nil {
		return nil, fmt.Errorf("registry owner: %w", err)
	}
	if !owner.IsMember() {
		return nil, fmt.Errorf("registry owner %q must be a member identifier", file.Owner)
	}

	r := &Registry{
		owner:   owner,
		clients: make(map[string]models.ClientID, len(file.Clients)),
	}

	if file.CentralMonitoringClient != "" {
		central, err := models.ParseClientID(file.CentralMonitoringClient)
		if err != nil {
			return nil, fmt.Errorf("central monitoring client: %w", err)
		}
		r.centralMonitoring = central
	}

	for _, entry := range file.Clients {
		id, err := models.ParseClientID(entry)
		if err != nil {
			return nil, fmt.Errorf("registry client %q: %w", entry, err)
		}
		r.clients[id.String()] = id
	}

	for _, entry := range file.ProducerTokens {
		if entry.Name == "" || entry.Hash == "" {
			return nil, errors.New("producer token entries need both name and hash")
		}
		r.tokens = append(r.tokens, producerToken{name: entry.Name, hash: []byte(entry.Hash)})
	}

	return r, nil
}

func (r *Registry) Owner() models.ClientID { return r.owner }

// IsOwner reports whether the identity is the server owner, at member
// level or as any of the owner's subsystems.
func (r *Registry) IsOwner(id models.ClientID) bool {
	return r.owner.Matches(id)
}

func (r *Registry) IsCentralMonitoringClient(id models.ClientID) bool {
	return !r.centralMonitoring.IsZero() && r.centralMonitoring.Matches(id)
}

// KnownClient reports whether the identity is registered on this server.
// A member-level identity is known when any of its subsystems is.
func (r *Registry) KnownClient(id models.ClientID) bool {
	if _, ok := r.clients[id.String()]; ok {
		return true
	}
	if id.IsMember() {
		for _, c := range r.clients {
			if id.Matches(c) {
				return true
			}
		}
	}
	return false
}

// VerifyProducerToken checks a bearer token against the registered hashes
// and returns the matching producer name.
func (r *Registry) VerifyProducerToken(token string) (string, error) {
	for _, entry := range r.tokens {
		if bcrypt.CompareHashAndPassword(entry.hash, []byte(token)) == nil {
			return entry.name, nil
		}
	}
	return "", ErrInvalidToken
}
