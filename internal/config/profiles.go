package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"
)

// Top-level objects that hold global settings rather than profiles.
var globalSections = map[string]bool{
	"nats":    true,
	"relay":   true,
	"log":     true,
	"tracing": true,
}

type profileEntry struct {
	name     string
	settings map[string]interface{}
}

// readProfiles returns the profiles in path in document order. Profiles
// live under a top-level "profiles" object, or, when there is none, are all
// top-level objects other than the global sections.
func readProfiles(path string) ([]Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var entries []profileEntry
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		entries, err = orderedJSONEntries(data)
	case ".yaml", ".yml":
		entries, err = orderedYAMLEntries(data)
	default:
		return nil, fmt.Errorf("profiles: unsupported config format %q (use .json, .yaml or .yml)", filepath.Ext(path))
	}
	if err != nil {
		return nil, err
	}

	profiles := make([]Profile, 0, len(entries))
	for _, e := range entries {
		p, err := buildProfile(e.name, e.settings)
		if err != nil {
			return nil, fmt.Errorf("profile %q: %w", e.name, err)
		}
		profiles = append(profiles, p)
	}
	return profiles, nil
}

func orderedJSONEntries(data []byte) ([]profileEntry, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("profiles: invalid JSON")
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return nil, fmt.Errorf("profiles: top level must be an object")
	}

	scope := root
	nested := false
	if p := root.Get("profiles"); p.IsObject() {
		scope, nested = p, true
	}

	var entries []profileEntry
	scope.ForEach(func(key, value gjson.Result) bool {
		name := key.String()
		if !value.IsObject() || (!nested && globalSections[strings.ToLower(name)]) {
			return true
		}
		if m, ok := value.Value().(map[string]interface{}); ok {
			entries = append(entries, profileEntry{name: name, settings: m})
		}
		return true
	})
	return entries, nil
}

func orderedYAMLEntries(data []byte) ([]profileEntry, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("profiles: %w", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("profiles: top level must be a mapping")
	}

	scope := root
	nested := false
	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value == "profiles" && root.Content[i+1].Kind == yaml.MappingNode {
			scope, nested = root.Content[i+1], true
			break
		}
	}

	var entries []profileEntry
	for i := 0; i+1 < len(scope.Content); i += 2 {
		name := scope.Content[i].Value
		value := scope.Content[i+1]
		if value.Kind != yaml.MappingNode || (!nested && (globalSections[strings.ToLower(name)] || name == "profiles")) {
			continue
		}
		var m map[string]interface{}
		if err := value.Decode(&m); err != nil {
			return nil, fmt.Errorf("profiles: %s: %w", name, err)
		}
		entries = append(entries, profileEntry{name: name, settings: m})
	}
	return entries, nil
}

// Candidate keys for each per-round array, including the m_-prefixed
// names used by older profile files.
var arraySettingKeys = map[string][]string{
	"minSize":        {"minSize", "min_size", "min-size", "m_minSize"},
	"maxSize":        {"maxSize", "max_size", "max-size", "m_maxSize"},
	"sendCount":      {"sendCount", "send_count", "send-count", "m_sendCount"},
	"sendDelayCount": {"sendDelayCount", "send_delay_count", "send-delay-count", "m_sendDelayCount"},
	"sendDelay":      {"sendDelay", "send_delay", "send-delay", "m_sendDelay"},
	"sendPrintGap":   {"sendPrintGap", "send_print_gap", "send-print-gap", "m_sendPrintGap"},
	"recvPrintGap":   {"recvPrintGap", "recv_print_gap", "recv-print-gap", "m_recvPrintGap"},
}

func buildProfile(name string, raw map[string]interface{}) (Profile, error) {
	settings, err := toStringKeyMap(raw)
	if err != nil {
		return Profile{}, err
	}

	p := Profile{
		Name:         name,
		Role:         RoleSubscriber,
		LatencyMode:  DefaultLatencyMode,
		ClockDevName: DefaultClockDevName,
		LogTimeStamp: true,
		explicit:     map[string]bool{},
	}

	if raw, ok := lookupSetting(settings, "isPositive", "is_positive", "m_isPositive"); ok {
		positive, err := asBool(raw)
		if err != nil {
			return Profile{}, fmt.Errorf("isPositive: %w", err)
		}
		if positive {
			p.Role = RolePublisher
		}
	}
	if raw, ok := lookupSetting(settings, "role"); ok {
		val, err := asString(raw)
		if err != nil {
			return Profile{}, fmt.Errorf("role: %w", err)
		}
		role, err := parseRole(val)
		if err != nil {
			return Profile{}, err
		}
		p.Role = role
	}

	strFields := []struct {
		dst  *string
		keys []string
	}{
		{&p.Topic, []string{"topic", "topicName", "topic_name", "m_topicName"}},
		{&p.TypeName, []string{"typeName", "type_name", "m_typeName"}},
		{&p.QoS.Factory, []string{"dpfQos", "dpf_qos", "m_dpfQosName"}},
		{&p.QoS.Participant, []string{"dpQos", "dp_qos", "m_dpQosName"}},
		{&p.QoS.Publisher, []string{"pubQos", "pub_qos", "m_pubQosName"}},
		{&p.QoS.Subscriber, []string{"subQos", "sub_qos", "m_subQosName"}},
		{&p.QoS.Writer, []string{"writerQos", "writer_qos", "m_writerQosName"}},
		{&p.QoS.Reader, []string{"readerQos", "reader_qos", "m_readerQosName"}},
		{&p.LatencyMode, []string{"latencyMode", "latency_mode", "m_latencyMode"}},
		{&p.ClockDevName, []string{"clockDevName", "clock_dev_name", "m_clockDevName"}},
		{&p.ResultPath, []string{"resultPath", "result_path", "m_resultPath"}},
	}
	for _, f := range strFields {
		if raw, ok := lookupSetting(settings, f.keys...); ok {
			val, err := asString(raw)
			if err != nil {
				return Profile{}, fmt.Errorf("%s: %w", f.keys[0], err)
			}
			*f.dst = strings.TrimSpace(val)
		}
	}

	intFields := []struct {
		dst  *int
		keys []string
	}{
		{&p.DomainID, []string{"domainId", "domain_id", "m_domainId"}},
		{&p.LoopNum, []string{"loopNum", "loop_num", "rounds", "m_loopNum"}},
		{&p.RemoteNum, []string{"remoteNum", "remote_num", "m_remoteNum"}},
	}
	for _, f := range intFields {
		if raw, ok := lookupSetting(settings, f.keys...); ok {
			val, err := asInt(raw)
			if err != nil {
				return Profile{}, fmt.Errorf("%s: %w", f.keys[0], err)
			}
			*f.dst = val
		}
	}

	if raw, ok := lookupSetting(settings, "logTimeStamp", "log_timestamp", "m_logTimeStamp"); ok {
		val, err := asBool(raw)
		if err != nil {
			return Profile{}, fmt.Errorf("logTimeStamp: %w", err)
		}
		p.LogTimeStamp = val
	}

	if raw, ok := lookupSetting(settings, "mode"); ok {
		val, err := asString(raw)
		if err != nil {
			return Profile{}, fmt.Errorf("mode: %w", err)
		}
		mode, err := parseMode(val)
		if err != nil {
			return Profile{}, err
		}
		p.Mode = mode
	}

	for _, key := range arrayKeys {
		raw, ok := lookupSetting(settings, arraySettingKeys[key]...)
		if !ok {
			continue
		}
		values, err := asIntSlice(raw)
		if err != nil {
			return Profile{}, fmt.Errorf("%s: %w", key, err)
		}
		p.setArray(key, values)
	}

	return p, nil
}

func parseRole(val string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "publisher", "pub", "positive":
		return RolePublisher, nil
	case "subscriber", "sub", "negative":
		return RoleSubscriber, nil
	default:
		return "", fmt.Errorf("unknown role %q (use publisher or subscriber)", val)
	}
}

func parseMode(val string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "", string(ModeZeroCopy), "zero-copy", "zero_copy":
		return ModeZeroCopy, nil
	case string(ModeBytes), "copy":
		return ModeBytes, nil
	default:
		return "", fmt.Errorf("unknown mode %q (use zerocopy or bytes)", val)
	}
}

// defaultProfile is used when no configuration file supplies profiles.
func defaultProfile() Profile {
	p := Profile{
		Name:         "default",
		Role:         RolePublisher,
		Topic:        "tpbench",
		TypeName:     ZeroCopyTypeName,
		LatencyMode:  DefaultLatencyMode,
		ClockDevName: DefaultClockDevName,
		LogTimeStamp: true,
	}
	p.setArray("minSize", []int{64})
	p.setArray("maxSize", []int{64})
	p.setArray("sendCount", []int{10000})
	p.setArray("sendPrintGap", []int{1000})
	p.setArray("recvPrintGap", []int{1000})
	return p
}
