// Package identity derives stable collaboration keys for a campaign,
// influencer and contract triple.
package identity

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// NoContract is the contract component used before a contract is linked.
const NoContract = "none"

// Generator turns an arbitrary seed into an identifier in canonical shape.
// Implementations must be pure: the same seed always yields the same id.
type Generator interface {
	Generate(seed string) string
}

// RollingHash is a non-cryptographic generator built from four rolling
// 32-bit hashes. It is stable across processes and platforms.
type RollingHash struct{}

var (
	laneSeeds       = [4]uint32{0x811c9dc5, 0x01000193, 0x9e3779b9, 0x85ebca6b}
	laneMultipliers = [4]uint32{31, 131, 1313, 13131}
)

func (RollingHash) Generate(seed string) string {
	var lanes [4]uint32
	copy(lanes[:], laneSeeds[:])
	for i := 0; i < len(seed); i++ {
		c := uint32(seed[i])
		for l := range lanes {
			lanes[l] = lanes[l]*laneMultipliers[l] + c + uint32(l)
			lanes[l] ^= lanes[l] >> 15
		}
	}
	hex := fmt.Sprintf("%08x%08x%08x%08x", lanes[0], lanes[1], lanes[2], lanes[3])
	return hex[0:8] + "-" + hex[8:12] + "-" + hex[12:16] + "-" + hex[16:20] + "-" + hex[20:32]
}

// NameBased generates RFC 4122 version 5 identifiers under Namespace.
type NameBased struct {
	Namespace uuid.UUID
}

// DefaultNamespace scopes name-based collaboration ids.
var DefaultNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("contractflow:collaboration"))

func (n NameBased) Generate(seed string) string {
	ns := n.Namespace
	if ns == uuid.Nil {
		ns = DefaultNamespace
	}
	return uuid.NewSHA1(ns, []byte(seed)).String()
}

// NewGenerator returns the generator for a strategy name. Unknown names fall
// back to the rolling hash.
func NewGenerator(strategy string) Generator {
	switch strings.ToLower(strings.TrimSpace(strategy)) {
	case "uuidv5", "v5", "name":
		return NameBased{Namespace: DefaultNamespace}
	default:
		return RollingHash{}
	}
}

// IsCanonical reports whether s already has the canonical 8-4-4-4-12 shape.
func IsCanonical(s string) bool {
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}

var (
	ErrMissingCampaign   = errors.New("campaign key is required")
	ErrMissingInfluencer = errors.New("influencer key is required")
)

// Key is a derived collaboration identity.
type Key struct {
	Campaign   string `json:"campaignKey"`
	Influencer string `json:"influencerKey"`
	Contract   string `json:"contractKey"`
	Composite  string `json:"collaborationKey"`
}

// Deriver normalizes component keys and joins them into a composite key.
type Deriver struct {
	gen Generator
}

func NewDeriver(gen Generator) *Deriver {
	if gen == nil {
		gen = RollingHash{}
	}
	return &Deriver{gen: gen}
}

// Component returns id unchanged when it is canonical, otherwise the
// generated id for "<kind>:<id>".
func (d *Deriver) Component(kind, id string) string {
	id = strings.TrimSpace(id)
	if IsCanonical(id) {
		return strings.ToLower(id)
	}
	return d.gen.Generate(kind + ":" + id)
}

// Derive computes the collaboration key. An empty contract maps to NoContract.
func (d *Deriver) Derive(campaign, influencer, contract string) (Key, error) {
	if strings.TrimSpace(campaign) == "" {
		return Key{}, ErrMissingCampaign
	}
	if strings.TrimSpace(influencer) == "" {
		return Key{}, ErrMissingInfluencer
	}
	k := Key{
		Campaign:   d.Component("campaign", campaign),
		Influencer: d.Component("influencer", influencer),
		Contract:   NoContract,
	}
	if strings.TrimSpace(contract) != "" {
		k.Contract = d.Component("contract", contract)
	}
	k.Composite = k.Campaign + "-" + k.Influencer + "-" + k.Contract
	return k, nil
}
