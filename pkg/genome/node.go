// Package genome models a project's genome: an ordered forest of typed blocks
// with immutable edit, mutation and diff operations. Nothing in this package
// performs I/O.
package genome

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Well-known block types. The set is open: unknown types are valid and
// round-trip unchanged.
const (
	TypeText      = "text"
	TypeImage     = "image"
	TypeButton    = "button"
	TypeForm      = "form"
	TypeCard      = "card"
	TypeNav       = "nav"
	TypeHero      = "hero"
	TypeFooter    = "footer"
	TypePayment   = "payment"
	TypeVideo     = "video"
	TypeMap       = "map"
	TypeChart     = "chart"
	TypeList      = "list"
	TypeGrid      = "grid"
	TypeModal     = "modal"
	TypeCarousel  = "carousel"
	TypeAccordion = "accordion"
	TypeTabs      = "tabs"
	TypeCustom    = "custom"
)

// Metadata records provenance for a node.
type Metadata struct {
	CreatedAt  string  `json:"createdAt"`
	MutatedAt  string  `json:"mutatedAt"`
	Confidence float64 `json:"confidence" validate:"gte=0,lte=1"`
}

// Node is one block of a genome. Children order is render order.
type Node struct {
	ID       string   `json:"id"`
	Type     string   `json:"type"`
	Props    Props    `json:"props"`
	Children []Node   `json:"children"`
	Metadata Metadata `json:"metadata"`
	// Zone optionally routes the block to a generation zone.
	Zone string `json:"zone,omitempty"`
}

// MarshalJSON normalises nil props and children to empty containers.
func (n Node) MarshalJSON() ([]byte, error) {
	type alias Node
	cp := alias(n)
	if cp.Props == nil {
		cp.Props = Props{}
	}
	if cp.Children == nil {
		cp.Children = []Node{}
	}
	return json.Marshal(cp)
}

// Genome is the ordered top-level block list of a project.
type Genome []Node

// Mutation describes one content change to exactly one node.
type Mutation struct {
	NodeID        string `json:"nodeId" validate:"required"`
	Prompt        string `json:"prompt"`
	PreviousProps Props  `json:"previousProps"`
	NewProps      Props  `json:"newProps"`
	AppliedAt     string `json:"appliedAt"`
}

// DiffKind classifies a node-level change between two genomes.
type DiffKind string

const (
	DiffAdded   DiffKind = "added"
	DiffRemoved DiffKind = "removed"
	DiffUpdated DiffKind = "updated"
)

// DiffEntry reports one changed node.
type DiffEntry struct {
	NodeID string   `json:"nodeId"`
	Kind   DiffKind `json:"type"`
}

// ErrInvalidGenome is matched by every ValidationError.
var ErrInvalidGenome = errors.New("invalid genome")

// ValidationError names the first failing path of a malformed genome.
type ValidationError struct {
	Path   string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("invalid genome: %s", e.Reason)
	}
	return fmt.Sprintf("invalid genome at %s: %s", e.Path, e.Reason)
}

// Is makes errors.Is(err, ErrInvalidGenome) hold for validation failures.
func (e ValidationError) Is(target error) bool { return target == ErrInvalidGenome }

var validate = validator.New()

// ValidateMutation checks the fields a mutation must carry before it is applied.
func ValidateMutation(m Mutation) error {
	if err := validate.Struct(m); err != nil {
		return ValidationError{Path: "mutation.nodeId", Reason: "node id is required"}
	}
	return nil
}
