package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// QoS names the transport quality-of-service profiles a benchmark uses.
// Transports that have no QoS machinery carry them as labels only.
type QoS struct {
	Factory     string `json:"factory,omitempty"`
	Participant string `json:"participant,omitempty"`
	Publisher   string `json:"publisher,omitempty"`
	Subscriber  string `json:"subscriber,omitempty"`
	Writer      string `json:"writer,omitempty"`
	Reader      string `json:"reader,omitempty"`
}

// Profile is one named benchmark configuration. The per-round arrays are
// normalized to LoopNum entries by the loader.
type Profile struct {
	Name         string
	Role         Role
	Topic        string
	DomainID     int
	QoS          QoS
	TypeName     string
	Mode         Mode
	LoopNum      int
	RemoteNum    int
	LatencyMode  string
	ClockDevName string
	LogTimeStamp bool
	ResultPath   string

	MinSize        []int
	MaxSize        []int
	SendCount      []int
	SendDelayCount []int
	SendDelay      []int // microseconds
	SendPrintGap   []int
	RecvPrintGap   []int

	explicit map[string]bool
}

// RoundConfig is the immutable parameter set for one round.
type RoundConfig struct {
	Index          int
	Role           Role
	MinSize        int
	MaxSize        int
	SendCount      int
	SendDelayCount int
	SendDelay      time.Duration
	PrintGap       int
}

// Round returns the parameters of round i.
func (p Profile) Round(i int) RoundConfig {
	rc := RoundConfig{
		Index:          i,
		Role:           p.Role,
		MinSize:        at(p.MinSize, i),
		MaxSize:        at(p.MaxSize, i),
		SendCount:      at(p.SendCount, i),
		SendDelayCount: at(p.SendDelayCount, i),
		SendDelay:      time.Duration(at(p.SendDelay, i)) * time.Microsecond,
		PrintGap:       at(p.RecvPrintGap, i),
	}
	if p.Role == RolePublisher {
		rc.PrintGap = at(p.SendPrintGap, i)
	}
	return rc
}

func at(values []int, i int) int {
	if len(values) == 0 {
		return 0
	}
	if i >= len(values) {
		return values[len(values)-1]
	}
	return values[i]
}

// ZeroCopy reports whether publishers reuse a single message buffer.
func (p Profile) ZeroCopy() bool {
	if p.Mode != "" {
		return p.Mode == ModeZeroCopy
	}
	return p.TypeName == ZeroCopyTypeName
}

// ResultName derives the result file name from the QoS labels.
func (p Profile) ResultName() string {
	typeName := strings.ReplaceAll(p.TypeName, ":", "-")
	base := strings.Join([]string{
		p.QoS.Factory, p.QoS.Participant, p.QoS.Writer, p.QoS.Reader,
		typeName, polarity(p.Role == RolePublisher),
	}, "-")
	if p.ResultPath != "" {
		return base + "-" + p.ResultPath
	}
	return strings.Join([]string{
		base, p.QoS.Publisher, p.QoS.Subscriber, "default", "DDS--Bytes",
		polarity(p.Role != RolePublisher), "default.csv",
	}, "-")
}

func polarity(positive bool) string {
	if positive {
		return "positive"
	}
	return "negative"
}

// Array keys in the order used for loop-count derivation.
var arrayKeys = []string{"minSize", "maxSize", "sendCount", "sendDelayCount", "sendDelay", "sendPrintGap", "recvPrintGap"}

func (p *Profile) array(key string) *[]int {
	switch key {
	case "minSize":
		return &p.MinSize
	case "maxSize":
		return &p.MaxSize
	case "sendCount":
		return &p.SendCount
	case "sendDelayCount":
		return &p.SendDelayCount
	case "sendDelay":
		return &p.SendDelay
	case "sendPrintGap":
		return &p.SendPrintGap
	case "recvPrintGap":
		return &p.RecvPrintGap
	}
	return nil
}

func (p *Profile) setArray(key string, values []int) {
	if p.explicit == nil {
		p.explicit = map[string]bool{}
	}
	*p.array(key) = append([]int(nil), values...)
	p.explicit[key] = true
}

// HasArray reports whether key was configured explicitly or inherited from
// the paired profile.
func (p Profile) HasArray(key string) bool {
	return p.explicit[key]
}

// pairedIndex returns the partner of profile i: i+1 for even i, i-1 for odd.
func pairedIndex(i int) int {
	if i%2 == 0 {
		return i + 1
	}
	return i - 1
}

// resolveProfiles applies the paired fallback from the raw profiles and then
// normalizes every array to the profile's loop count.
func resolveProfiles(raw []Profile) []Profile {
	out := make([]Profile, len(raw))
	for i := range raw {
		p := raw[i].clone()
		if j := pairedIndex(i); j >= 0 && j < len(raw) {
			pair := raw[j]
			for _, key := range arrayKeys {
				if !p.HasArray(key) && pair.HasArray(key) {
					p.setArray(key, *pair.array(key))
				}
			}
		}
		p.normalize()
		out[i] = p
	}
	return out
}

func (p Profile) clone() Profile {
	c := p
	c.explicit = make(map[string]bool, len(p.explicit))
	for k, v := range p.explicit {
		c.explicit[k] = v
	}
	for _, key := range arrayKeys {
		src := *p.array(key)
		*c.array(key) = append([]int(nil), src...)
	}
	return c
}

// normalize sets LoopNum (explicit, else longest array, at least 1), gives
// empty arrays the single value 1 and pads short arrays with their last
// element.
func (p *Profile) normalize() {
	if p.LoopNum <= 0 {
		p.LoopNum = 0
		for _, key := range arrayKeys {
			if n := len(*p.array(key)); n > p.LoopNum {
				p.LoopNum = n
			}
		}
		if p.LoopNum == 0 {
			p.LoopNum = 1
		}
	}
	for _, key := range arrayKeys {
		arr := p.array(key)
		if len(*arr) == 0 {
			*arr = []int{1}
		}
		for len(*arr) < p.LoopNum {
			*arr = append(*arr, (*arr)[len(*arr)-1])
		}
	}
}

// applyOverride replaces profile fields with command-line values and
// re-normalizes.
func (p *Profile) applyOverride(o ProfileOverride) {
	if o.Role != "" {
		p.Role = o.Role
	}
	if o.Topic != "" {
		p.Topic = o.Topic
	}
	if o.Mode != "" {
		p.Mode = o.Mode
	}
	changed := false
	for key, values := range map[string][]int{
		"minSize":   o.MinSize,
		"maxSize":   o.MaxSize,
		"sendCount": o.SendCount,
	} {
		if len(values) > 0 {
			p.setArray(key, values)
			changed = true
		}
	}
	if len(o.PrintGap) > 0 {
		p.setArray("sendPrintGap", o.PrintGap)
		p.setArray("recvPrintGap", o.PrintGap)
		changed = true
	}
	if o.Rounds > 0 {
		p.LoopNum = o.Rounds
		changed = true
	}
	if changed {
		for _, key := range arrayKeys {
			arr := p.array(key)
			if len(*arr) > p.LoopNum && o.Rounds == 0 {
				p.LoopNum = len(*arr)
			}
		}
		p.normalize()
	}
}

// SelectProfile finds a profile by name or zero-based index. An empty
// selector picks the first profile.
func (c *Config) SelectProfile(selector string) (Profile, error) {
	if len(c.Profiles) == 0 {
		return Profile{}, fmt.Errorf("no profiles configured")
	}
	selector = strings.TrimSpace(selector)
	if selector == "" {
		return c.withOverrides(c.Profiles[0]), nil
	}
	for _, p := range c.Profiles {
		if p.Name == selector {
			return c.withOverrides(p), nil
		}
	}
	if idx, err := strconv.Atoi(selector); err == nil {
		if idx < 0 || idx >= len(c.Profiles) {
			return Profile{}, fmt.Errorf("profile index %d out of range [0, %d)", idx, len(c.Profiles))
		}
		return c.withOverrides(c.Profiles[idx]), nil
	}
	return Profile{}, fmt.Errorf("unknown profile %q", selector)
}

func (c *Config) withOverrides(p Profile) Profile {
	p = p.clone()
	p.applyOverride(c.Overrides)
	return p
}

// Peer returns the counterpart of p for loopback runs where both roles
// execute in one process: the paired profile when there is one, otherwise p
// itself with the opposite role. The role override does not apply to it.
func (c *Config) Peer(p Profile) Profile {
	o := c.Overrides
	o.Role = ""
	for i, candidate := range c.Profiles {
		if candidate.Name != p.Name {
			continue
		}
		if j := pairedIndex(i); j >= 0 && j < len(c.Profiles) && c.Profiles[j].Role != p.Role {
			peer := c.Profiles[j].clone()
			peer.applyOverride(o)
			return peer
		}
		break
	}
	peer := p.clone()
	peer.Name = p.Name + "/peer"
	peer.Role = RoleSubscriber
	if p.Role == RoleSubscriber {
		peer.Role = RolePublisher
	}
	return peer
}
