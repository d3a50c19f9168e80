package sharding

import "fmt"

// Policy decides what happens to the key range of a failed cluster
type Policy int

const (
	// AutoExpand hands the range over to the neighbour cluster
	AutoExpand Policy = iota
	// PreserveKeySpace keeps the range, keys of a failed cluster fail
	PreserveKeySpace
)

func (p Policy) String() string {
	switch p {
	case AutoExpand:
		return "auto-expand"
	case PreserveKeySpace:
		return "preserve-key-space"
	}
	return fmt.Sprintf("policy(%d)", int(p))
}

// ParsePolicy accepts the config names, empty is AutoExpand
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "auto-expand":
		return AutoExpand, nil
	case "preserve-key-space":
		return PreserveKeySpace, nil
	}
	return AutoExpand, fmt.Errorf("ssdb: unknown policy %q", s)
}

// UnmarshalText lets toml decode the policy directly
func (p *Policy) UnmarshalText(text []byte) error {
	v, err := ParsePolicy(string(text))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

func (p Policy) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}
