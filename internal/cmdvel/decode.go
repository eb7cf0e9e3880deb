package cmdvel

import (
	"bytes"
	"encoding/json"
	"fmt"

	"motord/internal/mapper"
)

// Decode parses one velocity command. Two shapes are accepted:
//
//	{"linear": 0.2, "angular": -0.1}
//	{"linear": {"x": 0.2}, "angular": {"z": -0.1}}
//
// The second is a ROS geometry_msgs/Twist rendered as JSON; only linear.x
// and angular.z are used.
func Decode(raw []byte) (mapper.VelocityCommand, error) {
	var msg struct {
		Linear  json.RawMessage `json:"linear"`
		Angular json.RawMessage `json:"angular"`
	}
	raw = bytes.TrimSpace(raw)
	if err := json.Unmarshal(raw, &msg); err != nil {
		return mapper.VelocityCommand{}, fmt.Errorf("cmdvel: json parse: %w", err)
	}
	if msg.Linear == nil && msg.Angular == nil {
		return mapper.VelocityCommand{}, fmt.Errorf("cmdvel: missing linear and angular")
	}
	lin, err := axis(msg.Linear, "x")
	if err != nil {
		return mapper.VelocityCommand{}, fmt.Errorf("cmdvel: linear: %w", err)
	}
	ang, err := axis(msg.Angular, "z")
	if err != nil {
		return mapper.VelocityCommand{}, fmt.Errorf("cmdvel: angular: %w", err)
	}
	return mapper.VelocityCommand{Linear: lin, Angular: ang}, nil
}

// axis reads either a bare number or the named component of a vector
// object. A missing field reads as zero.
func axis(raw json.RawMessage, component string) (float64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, nil
	}
	if raw[0] == '{' {
		var vec map[string]float64
		if err := json.Unmarshal(raw, &vec); err != nil {
			return 0, err
		}
		return vec[component], nil
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, err
	}
	return v, nil
}
