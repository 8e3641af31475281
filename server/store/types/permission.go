package types

import (
	"errors"
	"sort"
)

// PermLevel is a bitmap of access rights to a channel.
type PermLevel uint8

const (
	// PermRead: receive events broadcast on the channel.
	PermRead PermLevel = 1 << iota
	// PermWrite: publish messages into the channel.
	PermWrite
	// PermManage: create/remove child channels, edit the rule list.
	PermManage

	// PermNone: no access.
	PermNone PermLevel = 0
)

// IsReader checks if the read flag is set.
func (p PermLevel) IsReader() bool {
	return p&PermRead != 0
}

// IsWriter checks if the write flag is set.
func (p PermLevel) IsWriter() bool {
	return p&PermWrite != 0
}

// IsManager checks if the manage flag is set.
func (p PermLevel) IsManager() bool {
	return p&PermManage != 0
}

// MarshalText converts PermLevel to a slice of bytes like "RWM" or "N".
func (p PermLevel) MarshalText() ([]byte, error) {
	if p == PermNone {
		return []byte{'N'}, nil
	}

	res := []byte{}
	for i, chr := range []byte{'R', 'W', 'M'} {
		if p&(1<<uint(i)) != 0 {
			res = append(res, chr)
		}
	}
	return res, nil
}

// UnmarshalText parses PermLevel from a string like "RWM" or "N".
func (p *PermLevel) UnmarshalText(b []byte) error {
	p0 := PermNone
	for i := 0; i < len(b); i++ {
		switch b[i] {
		case 'R', 'r':
			p0 |= PermRead
		case 'W', 'w':
			p0 |= PermWrite
		case 'M', 'm':
			p0 |= PermManage
		case 'N', 'n':
			p0 = PermNone
		default:
			return errors.New("PermLevel: invalid character '" + string(b[i]) + "'")
		}
	}
	*p = p0
	return nil
}

// String returns the text representation of the level.
func (p PermLevel) String() string {
	res, err := p.MarshalText()
	if err != nil {
		return ""
	}
	return string(res)
}

// MarshalJSON converts PermLevel to a quoted string.
func (p PermLevel) MarshalJSON() ([]byte, error) {
	res, err := p.MarshalText()
	if err != nil {
		return nil, err
	}
	return append(append([]byte{'"'}, res...), '"'), nil
}

// UnmarshalJSON reads PermLevel from a quoted string.
func (p *PermLevel) UnmarshalJSON(b []byte) error {
	if b[0] != '"' || b[len(b)-1] != '"' {
		return errors.New("PermLevel: unrecognized")
	}
	return p.UnmarshalText(b[1 : len(b)-1])
}

// RestrictionClass tells what kind of subject a permission rule applies to.
// The numeric order is the rule's specificity: user rules sort before role
// rules which sort before the catch-all.
type RestrictionClass int

const (
	// RestrictUser rule applies to one named account.
	RestrictUser RestrictionClass = iota
	// RestrictRole rule applies to holders of a named role.
	RestrictRole
	// RestrictAll rule applies to everyone.
	RestrictAll
)

var restrictionNames = map[RestrictionClass]string{
	RestrictUser: "user",
	RestrictRole: "role",
	RestrictAll:  "all",
}

func (rc RestrictionClass) String() string {
	return restrictionNames[rc]
}

// ParseRestrictionClass is the inverse of RestrictionClass.String.
func ParseRestrictionClass(s string) (RestrictionClass, error) {
	for rc, name := range restrictionNames {
		if name == s {
			return rc, nil
		}
	}
	return RestrictAll, errors.New("RestrictionClass: unrecognized '" + s + "'")
}

// PermEntry is a single access rule: who it applies to and what it grants.
type PermEntry struct {
	Class   RestrictionClass `json:"class"`
	Subject string           `json:"subject,omitempty"`
	Level   PermLevel        `json:"level"`
}

// SortPerms orders a rule list by specificity so that resolution can take
// the first match: user rules first, then role rules, then catch-alls.
// The sort is stable: relative order of equally specific rules is kept.
func SortPerms(perms []PermEntry) {
	sort.SliceStable(perms, func(i, j int) bool {
		if perms[i].Class != perms[j].Class {
			return perms[i].Class < perms[j].Class
		}
		return perms[i].Subject < perms[j].Subject
	})
}

// ResolvePerm scans a specificity-sorted rule list and returns the level of
// the first rule matching the given account name and role set. PermNone if
// nothing matches.
//
// First-match-wins is a policy choice: an explicit user rule overrides a
// broader role or catch-all rule even when the broader rule grants more.
func ResolvePerm(perms []PermEntry, uname string, roles map[string]PermLevel) PermLevel {
	for _, e := range perms {
		switch e.Class {
		case RestrictUser:
			if e.Subject == uname {
				return e.Level
			}
		case RestrictRole:
			if _, ok := roles[e.Subject]; ok {
				return e.Level
			}
		case RestrictAll:
			return e.Level
		}
	}
	return PermNone
}

// GlobalPerm folds an account's role grants into one effective server-wide
// level. Accounts with a manage bit here may manage any channel regardless
// of the channel's own rule list.
func GlobalPerm(roles map[string]PermLevel) PermLevel {
	var p PermLevel
	for _, lvl := range roles {
		p |= lvl
	}
	return p
}
