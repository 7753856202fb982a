// Package permissions defines the closed registry of permission bits granted by roles.
package permissions

import (
	"fmt"
	"math/bits"
	"strings"
)

// Mask is an aggregate of permission bits.
type Mask uint64

// Registered permission bits. Administrator satisfies every check.
const (
	Administrator Mask = 1 << iota
	ManageRoles
	CreateTimathon
	ViewTimathonSubmissions
	KickTimathonParticipants
	BanTimathon
	ManageTimathon
	CreateWeeklyChallenge
	EditWeeklyChallenge
	DeleteWeeklyChallenge
	ManageWeeklyChallengeLanguages
)

// Definition describes a registered permission.
type Definition struct {
	Name     string `json:"name"`
	Bit      uint8  `json:"bit"`
	Value    Mask   `json:"value"`
	Public   bool   `json:"public"`
	HelpText string `json:"help_text"`
}

var registry = []Definition{
	{Name: "Administrator", Bit: 0, HelpText: "Users with this permission will have every permission and will bypass all role hierarchy restrictions."},
	{Name: "ManageRoles", Bit: 1, HelpText: "Allows management and editing of global roles."},
	{Name: "CreateTimathon", Bit: 2, HelpText: "Users with this permission will be able to create a new Timathon."},
	{Name: "ViewTimathonSubmissions", Bit: 3, HelpText: "Users with this permission will be able to view Timathon submissions."},
	{Name: "KickTimathonParticipants", Bit: 4, HelpText: "Users with this permission will be able to kick Timathon participants."},
	{Name: "BanTimathon", Bit: 5, HelpText: "Users with this permission will be able to ban people from participating in Timathon."},
	{Name: "ManageTimathon", Bit: 6, HelpText: "Users with this permission will be able to start voting and close a Timathon."},
	{Name: "CreateWeeklyChallenge", Bit: 7, Public: true, HelpText: "Allows creating weekly challenges."},
	{Name: "EditWeeklyChallenge", Bit: 8, Public: true, HelpText: "Allows editing weekly challenges."},
	{Name: "DeleteWeeklyChallenge", Bit: 9, Public: true, HelpText: "Allows deleting weekly challenges."},
	{Name: "ManageWeeklyChallengeLanguages", Bit: 10, HelpText: "Allows managing the languages available to weekly challenges."},
}

var (
	byName map[string]Mask
	known  Mask
)

func init() {
	byName = make(map[string]Mask, len(registry))
	for i := range registry {
		def := &registry[i]
		def.Value = Mask(1) << def.Bit
		if known&def.Value != 0 {
			panic(fmt.Sprintf("permissions: bit %d registered twice", def.Bit))
		}
		known |= def.Value
		byName[strings.ToLower(def.Name)] = def.Value
	}
}

// All returns the registered permissions ordered by bit.
func All() []Definition {
	out := make([]Definition, len(registry))
	copy(out, registry)
	return out
}

// Known returns the union of every registered bit.
func Known() Mask {
	return known
}

// Lookup resolves a permission by name, case-insensitively.
func Lookup(name string) (Mask, bool) {
	v, ok := byName[strings.ToLower(strings.TrimSpace(name))]
	return v, ok
}

// ValueOf resolves a permission by name and panics when it is not registered.
func ValueOf(name string) Mask {
	v, ok := Lookup(name)
	if !ok {
		panic(fmt.Sprintf("permissions: unknown permission %q", name))
	}
	return v
}

// Union combines masks.
func Union(masks ...Mask) Mask {
	var out Mask
	for _, m := range masks {
		out |= m
	}
	return out
}

// IsAdministrator reports whether the Administrator bit is set.
func (m Mask) IsAdministrator() bool {
	return m&Administrator != 0
}

// Has reports whether m grants p.
func (m Mask) Has(p Mask) bool {
	return m.HasAll(p)
}

// HasAll reports whether m contains every bit of required.
func (m Mask) HasAll(required Mask) bool {
	if m.IsAdministrator() {
		return true
	}
	return m&required == required
}

// HasAny reports whether m contains at least one bit of set.
// An empty set is trivially satisfied.
func (m Mask) HasAny(set Mask) bool {
	if set == 0 || m.IsAdministrator() {
		return true
	}
	return m&set != 0
}

// Missing returns the bits of required that m does not grant.
func (m Mask) Missing(required Mask) Mask {
	if m.IsAdministrator() {
		return 0
	}
	return required &^ m
}

// Unknown returns the bits of m that are not registered.
func (m Mask) Unknown() Mask {
	return m &^ known
}

// Names lists the registered permission names contained in m, ordered by bit.
func (m Mask) Names() []string {
	names := make([]string, 0, bits.OnesCount64(uint64(m&known)))
	for _, def := range registry {
		if m&def.Value != 0 {
			names = append(names, def.Name)
		}
	}
	return names
}

// String renders the mask as a pipe separated list of names.
func (m Mask) String() string {
	names := m.Names()
	if unknown := m.Unknown(); unknown != 0 {
		names = append(names, fmt.Sprintf("0x%x", uint64(unknown)))
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "|")
}
