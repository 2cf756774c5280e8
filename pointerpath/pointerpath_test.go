package pointerpath

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  PointerPath
	}{
		{
			name:  "quoted module with offsets",
			input: `"Game.exe"+1A2B3C, 40, 1F8, 10`,
			want:  PointerPath{ModuleName: "Game.exe", BaseOffset: 0x1A2B3C, Offsets: []int32{0x40, 0x1F8, 0x10}},
		},
		{
			name:  "0x prefixes and spaces",
			input: `  'p5s.EXE' + 0x40 ,0x0,  0X1f8 `,
			want:  PointerPath{ModuleName: "p5s.EXE", BaseOffset: 0x40, Offsets: []int32{0, 0x1F8}},
		},
		{
			name:  "no offsets",
			input: `game.exe+100`,
			want:  PointerPath{ModuleName: "game.exe", BaseOffset: 0x100, Offsets: []int32{}},
		},
		{
			name:  "wrapping and negative offsets",
			input: `"game.exe"+0, FFFFFFF0, -10`,
			want:  PointerPath{ModuleName: "game.exe", BaseOffset: 0, Offsets: []int32{-16, -16}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if err != nil {
				t.Fatalf("Parse(%q): %v", tt.input, err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Parse mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseRejects(t *testing.T) {
	inputs := []string{
		``,
		`"game.dll"+40, 10`,
		`"game.exe"+XYZ, 10`,
		`"game.exe", 10`,
		`"game.exe"+40, 10, zz`,
		`"game.exe"+40, 10,`,
		`"game.exe"+40,, 10`,
		`"game.exe"+40, 1FFFFFFFF`,
		`"game.exe"+40, 0x`,
	}

	for _, in := range inputs {
		if got, err := Parse(in); !errors.Is(err, ErrMalformedPath) {
			t.Errorf("Parse(%q) = %v, %v; want ErrMalformedPath", in, got, err)
		}
	}
}

func TestStringRoundTrip(t *testing.T) {
	paths := []PointerPath{
		{ModuleName: "game.exe", BaseOffset: 0x40, Offsets: []int32{0}},
		{ModuleName: "Game.exe", BaseOffset: 0x1A2B3C, Offsets: []int32{0x40, -0x1F8, 0x10}},
	}

	for _, p := range paths {
		got, err := Parse(p.String())
		if err != nil {
			t.Fatalf("Parse(%q): %v", p.String(), err)
		}
		if !got.Equal(p) {
			t.Errorf("round trip of %q gave %v", p.String(), got)
		}
	}

	if got, want := paths[1].String(), `"Game.exe"+1A2B3C, 40, -1F8, 10`; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestKeyAndEqual(t *testing.T) {
	a := PointerPath{ModuleName: "game.exe", BaseOffset: 0x40, Offsets: []int32{0, 8}}
	b := a.Clone()
	c := PointerPath{ModuleName: "game.exe", BaseOffset: 0x40, Offsets: []int32{0, 0x10}}
	ext := External(0x40, 0, 8)

	if !a.Equal(b) || a.Key() != b.Key() {
		t.Errorf("clone should be equal")
	}
	if a.Equal(c) || a.Key() == c.Key() {
		t.Errorf("different offsets should differ")
	}
	if a.Equal(ext) || a.Key() == ext.Key() {
		t.Errorf("external path should differ from module path")
	}
	if !ext.IsExternal() || a.IsExternal() {
		t.Errorf("IsExternal misreported")
	}

	b.Offsets[0] = 99
	if a.Offsets[0] != 0 {
		t.Errorf("Clone shares offsets")
	}
}

func TestJSONRecord(t *testing.T) {
	p := PointerPath{ModuleName: "game.exe", BaseOffset: 0x1A2B3C, Offsets: []int32{0x40, 0x1F8}}

	data, err := json.Marshal(p)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := string(data), `{"module_name":"game.exe","base_offset":1715004,"offsets":[64,504]}`; got != want {
		t.Errorf("json = %s, want %s", got, want)
	}
}
