package cmdvel

import (
	"testing"

	"motord/internal/mapper"
)

func TestDecode(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want mapper.VelocityCommand
	}{
		{"Flat", `{"linear": 0.5, "angular": -0.25}`, mapper.VelocityCommand{Linear: 0.5, Angular: -0.25}},
		{"Twist", `{"linear": {"x": 1, "y": 0, "z": 0}, "angular": {"x": 0, "y": 0, "z": -1}}`, mapper.VelocityCommand{Linear: 1, Angular: -1}},
		{"LinearOnly", `{"linear": 0.2}`, mapper.VelocityCommand{Linear: 0.2}},
		{"NullAngular", `{"linear": 0.2, "angular": null}`, mapper.VelocityCommand{Linear: 0.2}},
		{"Whitespace", "  {\"angular\": 0.1}\r\n", mapper.VelocityCommand{Angular: 0.1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Decode([]byte(tc.in))
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got=%+v want %+v", got, tc.want)
			}
		})
	}
}

func TestDecode_Errors(t *testing.T) {
	for _, in := range []string{
		``,
		`not json`,
		`{}`,
		`{"speed": 1}`,
		`{"linear": "fast"}`,
		`{"linear": {"x": "fast"}}`,
		`[0.1, 0.2]`,
	} {
		if _, err := Decode([]byte(in)); err == nil {
			t.Fatalf("Decode(%q) expected error", in)
		}
	}
}
