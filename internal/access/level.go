package access

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Level is the access level granted on a module or feature.
// Levels form a total order: None < Read < Write < Admin.
type Level uint8

const (
	LevelNone Level = iota
	LevelRead
	LevelWrite
	LevelAdmin
)

var levelNames = [...]string{"none", "read", "write", "admin"}

func (l Level) String() string {
	if int(l) < len(levelNames) {
		return levelNames[l]
	}
	return fmt.Sprintf("level(%d)", uint8(l))
}

// ParseLevel converts the wire form of a level into a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none":
		return LevelNone, nil
	case "read":
		return LevelRead, nil
	case "write":
		return LevelWrite, nil
	case "admin":
		return LevelAdmin, nil
	}
	return LevelNone, fmt.Errorf("%w: unknown access level %q", ErrInvalidInput, s)
}

// Widen combines two grants, keeping the more permissive one.
// Commutative, associative and idempotent, so folds over grant sets
// are independent of enumeration order.
func Widen(a, b Level) Level {
	if a >= b {
		return a
	}
	return b
}

// Cap limits a grant to at most the given ceiling.
// Same algebraic properties as Widen.
func Cap(a, b Level) Level {
	if a <= b {
		return a
	}
	return b
}

func (l Level) MarshalJSON() ([]byte, error) {
	if int(l) >= len(levelNames) {
		return nil, fmt.Errorf("invalid access level %d", uint8(l))
	}
	return json.Marshal(l.String())
}

func (l *Level) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseLevel(s)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}
