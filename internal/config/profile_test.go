package config

import (
	"reflect"
	"testing"
	"time"
)

func TestPairedIndex(t *testing.T) {
	tests := []struct{ in, want int }{
		{0, 1}, {1, 0}, {2, 3}, {3, 2}, {6, 7},
	}
	for _, tt := range tests {
		if got := pairedIndex(tt.in); got != tt.want {
			t.Errorf("pairedIndex(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestResolveProfilesUsesRawPairArrays(t *testing.T) {
	a := Profile{Name: "a"}
	a.setArray("minSize", []int{10, 20})
	b := Profile{Name: "b"}
	b.setArray("maxSize", []int{30})
	c := Profile{Name: "c"}

	out := resolveProfiles([]Profile{a, b, c})

	if !reflect.DeepEqual(out[0].MaxSize, []int{30, 30}) {
		t.Errorf("a.MaxSize = %v, want [30 30]", out[0].MaxSize)
	}
	if !reflect.DeepEqual(out[1].MinSize, []int{10, 20}) {
		t.Errorf("b.MinSize = %v, want [10 20]", out[1].MinSize)
	}
	// b's own loop count comes from the inherited array.
	if out[1].LoopNum != 2 {
		t.Errorf("b.LoopNum = %d, want 2", out[1].LoopNum)
	}
	// c has no partner and no arrays.
	if out[2].LoopNum != 1 || !reflect.DeepEqual(out[2].SendCount, []int{1}) {
		t.Errorf("c = LoopNum %d SendCount %v", out[2].LoopNum, out[2].SendCount)
	}
	// Inputs stay untouched.
	if len(a.MaxSize) != 0 {
		t.Errorf("raw profile mutated: %v", a.MaxSize)
	}
}

func TestNormalizeExplicitLoopNum(t *testing.T) {
	p := Profile{LoopNum: 4}
	p.setArray("sendCount", []int{5, 6})
	p.setArray("sendDelay", []int{250})
	p.normalize()

	if !reflect.DeepEqual(p.SendCount, []int{5, 6, 6, 6}) {
		t.Errorf("SendCount = %v", p.SendCount)
	}
	if got := p.Round(3).SendDelay; got != 250*time.Microsecond {
		t.Errorf("Round(3).SendDelay = %s, want 250µs", got)
	}
	if got := p.Round(9).SendCount; got != 6 {
		t.Errorf("Round(9).SendCount = %d, want last value", got)
	}
}

func TestResultName(t *testing.T) {
	p := Profile{
		Role:     RolePublisher,
		TypeName: ZeroCopyTypeName,
		QoS:      QoS{Factory: "f", Participant: "dp", Writer: "w", Reader: "r", Publisher: "pub", Subscriber: "sub"},
	}
	want := "f-dp-w-r-DDS--ZeroCopyBytes-positive-pub-sub-default-DDS--Bytes-negative-default.csv"
	if got := p.ResultName(); got != want {
		t.Errorf("ResultName() = %q, want %q", got, want)
	}
	p.ResultPath = "run.csv"
	if got := p.ResultName(); got != "f-dp-w-r-DDS--ZeroCopyBytes-positive-run.csv" {
		t.Errorf("ResultName() with path = %q", got)
	}
}

func TestBuildProfileRoleFromLegacyFlag(t *testing.T) {
	p, err := buildProfile("x", map[string]interface{}{"m_isPositive": true, "m_sendCount": []interface{}{float64(3)}})
	if err != nil {
		t.Fatalf("buildProfile() error = %v", err)
	}
	if p.Role != RolePublisher {
		t.Errorf("Role = %q, want publisher", p.Role)
	}
	if !p.HasArray("sendCount") || p.HasArray("minSize") {
		t.Errorf("explicit arrays = %v", p.explicit)
	}

	p, err = buildProfile("y", map[string]interface{}{})
	if err != nil {
		t.Fatalf("buildProfile() error = %v", err)
	}
	if p.Role != RoleSubscriber {
		t.Errorf("Role = %q, want subscriber by default", p.Role)
	}
}
